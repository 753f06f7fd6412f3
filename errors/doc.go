// Package errors provides the structured error taxonomy used by the
// coordination substrate.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: the operation may succeed later (timeouts)
//   - Permanent: retrying will not help (invalid input, missing handler)
//   - Resource: a bounded resource is exhausted
//   - Internal: bugs, recovered panics, corrupted state
//
// # Usage
//
// Task handlers return ordinary errors. A failed task records Code(err),
// or TASK_FAILED when the error carries no code. Wrap keeps an existing code
// and maps context errors:
//
//	err := errors.Wrap(ctx.Err(), "lint timed out")
//	errors.Code(err) // TIMEOUT
//
// A handler can pick its own code:
//
//	return nil, errors.New(errors.ErrCodeInvalidInput, "missing repo path")
//
// # Expected failures
//
// Control operations whose failure is part of normal flow (cancelling a
// running task, unsubscribing an unknown topic) return booleans, not
// errors. This package is for failures that need to be recorded or
// propagated.
//
// # Sentinels
//
// The bus and task manager declare their sentinel errors with these
// constructors, so errors.Is matches the sentinel and Code reports its code:
//
//	_, err := manager.GetTask("missing")
//	errors.Code(err) // NOT_FOUND
package errors
