package interest

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInactive indicates the interest exists but has been deactivated
	// (merged into another interest or deleted by the user).
	ErrInactive = errors.New("interest is inactive")

	// ErrDuplicate indicates a topic that already exists where uniqueness
	// is required, such as a second subscription to the same topic.
	ErrDuplicate = errors.New("duplicate topic")
)
