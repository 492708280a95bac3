package keys

import "errors"

// ErrInvalidKey is returned when parsing a key that does not match the
// strategy's prefix, version, or segment shape. This is a programmer error:
// it is surfaced synchronously and never swallowed.
var ErrInvalidKey = errors.New("keys: invalid key format")
