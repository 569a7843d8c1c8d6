package rate

import "errors"

var (
	// ErrStoreUnavailable wraps any counter store failure. Callers treat it as a denial.
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrInvalidPolicy is returned for a limit below 1 or a window shorter than one second.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
