package runner

import "errors"

var (
	// ErrAlreadyRunning is returned when a workflow process is alive, whether
	// launched by this runner or by another process sharing the working directory.
	ErrAlreadyRunning = errors.New("a job is already running")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid job request")
)

// ValidationError names the input that rejected a start request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
