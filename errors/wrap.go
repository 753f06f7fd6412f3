package errors

import (
	"context"
	"errors"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// An existing *Error keeps its code; context errors map to TIMEOUT/CANCELED;
// anything else becomes TASK_FAILED when a task ID option is given and
// INTERNAL otherwise.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var coordErr *Error
	if errors.As(err, &coordErr) {
		wrapped := &Error{
			code:      coordErr.code,
			category:  coordErr.category,
			message:   message,
			cause:     err,
			taskID:    coordErr.taskID,
			messageID: coordErr.messageID,
			topic:     coordErr.topic,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	e := New(ErrCodeInternal, message, append(opts, WithCause(err))...)
	if e.taskID != "" {
		e.code = ErrCodeTaskFailed
		e.category = ErrCodeTaskFailed.DefaultCategory()
	}
	return e
}

// IsRetryable checks if the error is retryable.
// Plain errors are not retryable.
func IsRetryable(err error) bool {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.Retryable()
	}
	return false
}

// Code extracts the error code from an error.
// Returns empty string if err carries no *Error.
func Code(err error) ErrorCode {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.code
	}
	return ""
}
