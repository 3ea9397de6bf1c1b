package logging

import (
	"errors"
	"fmt"
)

// OperationError records which step of a request failed.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err; it returns nil when err is nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// FailedOperation returns the outermost operation name recorded in err, or "".
func FailedOperation(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Operation
	}
	return ""
}
