package errors

import "fmt"

// Error is a structured error carrying a code, a category and the IDs of
// the task or message it relates to.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	taskID    string
	messageID string
	topic     string
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Category returns the error category.
func (e *Error) Category() ErrorCategory { return e.category }

// Message returns the message without the cause chain.
func (e *Error) Message() string { return e.message }

// Retryable reports whether the operation may succeed on retry.
func (e *Error) Retryable() bool { return e.category.IsRetryable() }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// TaskID returns the related task ID, if set.
func (e *Error) TaskID() string { return e.taskID }

// MessageID returns the related bus message ID, if set.
func (e *Error) MessageID() string { return e.messageID }

// Topic returns the related bus topic, if set.
func (e *Error) Topic() string { return e.topic }

// Option configures an Error.
type Option func(*Error)

// WithTaskID sets the related task ID.
func WithTaskID(id string) Option {
	return func(e *Error) { e.taskID = id }
}

// WithMessageID sets the related message ID.
func WithMessageID(id string) Option {
	return func(e *Error) { e.messageID = id }
}

// WithTopic sets the related topic.
func WithTopic(topic string) Option {
	return func(e *Error) { e.topic = topic }
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// Conflict creates a conflict error.
func Conflict(message string, opts ...Option) *Error {
	return New(ErrCodeConflict, message, opts...)
}

// Panic converts a recovered panic value into an error.
func Panic(recovered interface{}, opts ...Option) *Error {
	if err, ok := recovered.(error); ok {
		opts = append(opts, WithCause(err))
		return New(ErrCodePanic, "panic", opts...)
	}
	return New(ErrCodePanic, fmt.Sprintf("panic: %v", recovered), opts...)
}
