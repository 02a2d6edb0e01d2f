package scheduling

import "errors"

// Terminal dispatch errors. The API layer maps these to HTTP statuses and
// the audit log maps them to outcomes.
var (
	ErrNotFound  = errors.New("function not found")
	ErrThrottled = errors.New("invocation throttled")
	ErrTimeout   = errors.New("invocation timed out")
	ErrInternal  = errors.New("internal dispatch failure")
)
