package task

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates an operation against an unknown task identifier.
	ErrNotFound = errors.New("task not found")
	// ErrAlreadyExists indicates a Create collided with an existing identifier.
	ErrAlreadyExists = errors.New("task already exists")
	// ErrAlreadyTerminal indicates a mutation against a task in a terminal state.
	ErrAlreadyTerminal = errors.New("task already terminal")
	// ErrQueueUnavailable indicates the job queue rejected an enqueue.
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// ValidationError reports the constraints a submitted configuration violated.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "invalid training config"
	}
	return fmt.Sprintf("invalid training config: %s", strings.Join(e.Violations, "; "))
}

// AsValidation unwraps err into a ValidationError when possible.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
