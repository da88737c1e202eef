package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired   = sterrors.New("logtower: configuration is required")
	ErrLoggerRequired   = sterrors.New("logtower: logger is required")
	ErrClientRequired   = sterrors.New("logtower: cloudwatch logs client is required")
	ErrEmptyMessage     = sterrors.New("logtower: empty message")
	ErrShuttingDown     = sterrors.New("logtower: handler is shutting down")
	ErrQueueFull        = sterrors.New("logtower: stream queue is full")
	ErrRetriesExhausted = sterrors.New("logtower: delivery retries exhausted")
	ErrEventsRejected   = sterrors.New("logtower: log events rejected by server")
)

// ConfigValidationError marks a configuration that cannot be used to build a
// handler. It is the only error kind that is fatal at construction.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("logtower: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
