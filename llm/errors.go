package llm

import (
	"errors"
	"fmt"
)

// TransientError marks a failure that may succeed on retry (5xx,
// rate limits, transport faults).
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps an error as retryable.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks a failure that will not succeed on retry (auth,
// bad request, unknown model).
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps an error as non-retryable.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// ClassifyStatus wraps err as transient or fatal based on the HTTP status
// the provider returned.
func ClassifyStatus(status int, err error) error {
	if status == 429 || status >= 500 {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}

// ErrMalformedOutput marks a final reply that was not the JSON object the
// output schema asked for, even after the strict reprompt.
var ErrMalformedOutput = errors.New("malformed structured output")

// ToolError reports a tool invocation failure inside the agent loop. Tool
// failures are not retried; they surface to the node executor.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
