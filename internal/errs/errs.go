// Package errs defines the error taxonomy the agent loop and its callers
// use to decide whether a failure is folded back into the conversation as a
// tool observation or surfaced to the end user.
package errs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", KindX) to classify an error;
// errors.Is against these sentinels to dispatch on kind.
var (
	// ErrTransient marks a provider timeout/5xx. Nothing retries on it:
	// durable.Step returns the error unchanged.
	ErrTransient = errors.New("transient provider error")
	// ErrOverflow marks a provider "prompt too large" response.
	ErrOverflow = errors.New("context overflow")
	// ErrToolExecution marks a tool body failure — kept local, fed back as an observation.
	ErrToolExecution = errors.New("tool execution error")
	// ErrValidation marks a tool-argument schema failure — kept local.
	ErrValidation = errors.New("tool argument validation error")
	// ErrCancelled marks a run cancelled by a newer message for the same session.
	ErrCancelled = errors.New("run cancelled")
)

// overflowPattern matches provider error text indicating the prompt/context
// exceeded the model's window. Matched case-insensitively against the error
// string, not the error's declared kind, since providers surface this as
// free text rather than a structured code.
var overflowPattern = regexp.MustCompile(`(?i)context.?overflow|prompt.?too.?large|too many tokens|maximum context|token limit`)

// IsOverflow reports whether err's text matches the context-overflow pattern.
func IsOverflow(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOverflow) {
		return true
	}
	return overflowPattern.MatchString(err.Error())
}

// Transient wraps err as a transient provider failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Overflow wraps err as a context-overflow failure.
func Overflow(err error) error {
	return fmt.Errorf("%w: %w", ErrOverflow, err)
}

// ToolExecution wraps err as a tool execution failure.
func ToolExecution(err error) error {
	return fmt.Errorf("%w: %w", ErrToolExecution, err)
}

// Validation wraps err as a tool-argument validation failure.
func Validation(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// Cancelled wraps context.Canceled as a run-cancelled failure — the error
// a durable substep returns when it observes the run's cancellation flag.
func Cancelled() error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Canceled)
}

// IsCancelled reports whether err (or one of its wrapped causes) is
// ErrCancelled or a plain context.Canceled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
