package lock

import "errors"

// ErrNotAcquired is returned by WithLock when the lock cannot be taken
// within the retry budget. Plain Acquire reports the same outcome as a
// boolean rather than an error.
var ErrNotAcquired = errors.New("lock: lock not acquired")
