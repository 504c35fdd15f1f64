package outbox

import "fmt"

// ValidationError reports that aggregate entity id resolution failed.
// It aborts the transaction before any write commits, so the caller can be
// sure no outbox record nor business effect exists afterwards.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}
