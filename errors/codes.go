package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates exhaustion of a bounded resource.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates bugs or recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient || c == CategoryResource
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient
	ErrCodeTimeout ErrorCode = "TIMEOUT" // Deadline passed before completion

	// Permanent
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"   // Malformed message, task or config
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"       // Unknown task, topic or subscriber
	ErrCodeConflict       ErrorCode = "CONFLICT"        // Duplicate ID or illegal state transition
	ErrCodeCanceled       ErrorCode = "CANCELED"        // Context canceled
	ErrCodeExpired        ErrorCode = "EXPIRED"         // Message TTL elapsed
	ErrCodeTaskFailed     ErrorCode = "TASK_FAILED"     // Handler returned an error
	ErrCodeHandlerMissing ErrorCode = "HANDLER_MISSING" // No handler registered for a task type

	// Resource
	ErrCodeCapacity ErrorCode = "CAPACITY" // All concurrency slots busy

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic in a callback or handler
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeInvalidInput, ErrCodeNotFound, ErrCodeConflict, ErrCodeCanceled,
		ErrCodeExpired, ErrCodeTaskFailed, ErrCodeHandlerMissing:
		return CategoryPermanent
	case ErrCodeCapacity:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:        "operation timed out",
	ErrCodeInvalidInput:   "invalid input provided",
	ErrCodeNotFound:       "resource not found",
	ErrCodeConflict:       "conflicting operation",
	ErrCodeCanceled:       "operation canceled",
	ErrCodeExpired:        "message expired",
	ErrCodeTaskFailed:     "task execution failed",
	ErrCodeHandlerMissing: "no handler registered",
	ErrCodeCapacity:       "all slots busy",
	ErrCodeInternal:       "internal error",
	ErrCodePanic:          "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
