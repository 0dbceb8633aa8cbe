package domain

import "errors"

var (
	// ErrValidation marks missing or malformed input rejected before any write.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a referenced device or entry that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrState marks an illegal lifecycle transition.
	ErrState = errors.New("state error")
	// ErrStorage marks a failure of the underlying store.
	ErrStorage = errors.New("storage error")
)
