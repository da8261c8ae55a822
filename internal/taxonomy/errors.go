// Package taxonomy defines the error classes shared across the pipeline.
//
// Every failure surfaced to a caller belongs to exactly one class, which
// determines how the orchestrator reacts:
//
//   - ValidationError: malformed work request, fails fast, never retried
//   - WorkerFailure: retryable under the owning phase budget
//   - VerificationFailure: retryable, may be blocking (instant fail)
//   - BudgetExhausted: escalation, resolved only by a human decision
//   - StoreUnavailable: degrades to local-only mode, run continues
package taxonomy

import (
	"errors"
	"fmt"
	"strings"
)

// Violation describes a single problem found while validating a work request.
type Violation struct {
	// Feature is the feature the violation refers to, if any.
	Feature string `json:"feature,omitempty"`

	// Field is the request field the violation refers to, if any.
	Field string `json:"field,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (v Violation) String() string {
	switch {
	case v.Feature != "" && v.Field != "":
		return fmt.Sprintf("%s.%s: %s", v.Feature, v.Field, v.Message)
	case v.Feature != "":
		return fmt.Sprintf("%s: %s", v.Feature, v.Message)
	default:
		return v.Message
	}
}

// ValidationError aggregates every violation found in a work request.
// Validation never stops at the first problem.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "invalid work request"
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("invalid work request (%d violations): %s",
		len(e.Violations), strings.Join(msgs, "; "))
}

// WorkerFailure reports a failed work item attempt. Retryable under the
// owning phase budget.
type WorkerFailure struct {
	Feature     string
	Role        string
	Attempt     int
	Diagnostics string
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("worker failure: feature=%s role=%s attempt=%d: %s",
		e.Feature, e.Role, e.Attempt, e.Diagnostics)
}

// VerificationFailure reports a failed verification stage. Blocking failures
// short-circuit the pipeline into an instant-fail decision.
type VerificationFailure struct {
	Stage       string
	Blocking    bool
	Diagnostics string
}

func (e *VerificationFailure) Error() string {
	kind := "non-blocking"
	if e.Blocking {
		kind = "blocking"
	}
	return fmt.Sprintf("verification failure (%s): stage=%s: %s", kind, e.Stage, e.Diagnostics)
}

// BudgetExhausted reports a phase whose retry budget is spent. It carries the
// full attempt history so the escalation surface never shows a bare "it failed".
type BudgetExhausted struct {
	Phase    string
	Attempts []string
	LastErr  error
}

func (e *BudgetExhausted) Error() string {
	return fmt.Sprintf("retry budget exhausted: phase=%s attempts=%d last=%v",
		e.Phase, len(e.Attempts), e.LastErr)
}

func (e *BudgetExhausted) Unwrap() error { return e.LastErr }

// ErrStoreUnavailable marks the shared learning store as unreachable.
// Callers degrade to local-only state and continue.
var ErrStoreUnavailable = errors.New("shared learning store unavailable")

// StoreUnavailable wraps a transport error with ErrStoreUnavailable so call
// sites can detect the class with errors.Is.
func StoreUnavailable(cause error) error {
	if cause == nil {
		return ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, cause)
}

// AsValidation returns the ValidationError in err's chain, if any.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
