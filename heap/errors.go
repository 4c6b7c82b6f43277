package heap

import "errors"

// Sentinel errors, in the teacher's own shape (hybrid/errors.go): one
// errors.New per failure kind, returned rather than wrapped so callers can
// compare with errors.Is.
var (
	// ErrSizeTooLarge is returned when a requested size cannot be
	// represented by any path (size-arithmetic overflow, §7).
	ErrSizeTooLarge = errors.New("heap: requested size is too large")
	// ErrOutOfMemory is returned when the OS mapping primitive cannot
	// satisfy a segment request.
	ErrOutOfMemory = errors.New("heap: out of memory")
)
