package utils

import "fmt"

// AppError annotates an adapter or integration failure with the observer
// operation it occurred in (e.g. "metrics.QueryRange") and a short message.
// The underlying cause stays reachable through errors.Is/As so callers can
// still match the repo sentinel errors.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps err with the operation and message context. err may be
// nil when the failure originates locally (e.g. a missing configuration).
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
