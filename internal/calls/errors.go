package calls

import "errors"

// Error taxonomy shared by the stores and the HTTP surface. Handlers map
// these to status codes with errors.Is; services wrap them with %w when
// adding context.
var (
	ErrNotFound          = errors.New("calls: call not found")
	ErrDuplicateCall     = errors.New("calls: call id already exists")
	ErrInvalidTransition = errors.New("calls: invalid status transition")
	ErrValidation        = errors.New("calls: invalid input")
)
