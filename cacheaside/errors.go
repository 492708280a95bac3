package cacheaside

import "errors"

// ErrWarmInProgress is returned by Warm when another process holds the
// warming lock. The caller's batch will be served by that run.
var ErrWarmInProgress = errors.New("cacheaside: warm-up already in progress")
