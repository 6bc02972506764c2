package model

import (
	"errors"
	"fmt"
)

// Repository and feed errors. Handlers map them onto HTTP statuses.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrConflict            = errors.New("resource conflict")
	ErrTransient           = errors.New("transient io error") // safe to retry
	ErrPermission          = errors.New("permission denied")
	ErrChannelDisconnected = errors.New("change feed disconnected")
)

// ValidationError is returned before any I/O when input is rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRetryable reports whether a failed call may succeed when repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
