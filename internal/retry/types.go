// Package retry enforces per-phase retry budgets and raises structured
// escalations on exhaustion.
//
// Every "retry until clean" loop in the pipeline runs through an explicit
// finite state machine here: Idle -> Attempting -> {Succeeded, Retrying,
// Escalated}. Escalated is terminal until a human decision is supplied.
package retry

import "time"

// Phase identifies a budgeted retry phase.
type Phase string

const (
	PhaseFeatureBuild    Phase = "feature-build"
	PhaseRuntimeVerify   Phase = "runtime-verification"
	PhaseInteractiveUI   Phase = "interactive-ui-testing"
	PhaseQualityScoreFix Phase = "quality-score-fix"
	PhaseTargetedBugfix  Phase = "targeted-bugfix"
)

// State is the FSM state for one (phase, subject) pair.
type State string

const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StateSucceeded  State = "succeeded"
	StateEscalated  State = "escalated"
)

// Attempt records one failed or successful try.
type Attempt struct {
	Number      int       `json:"number"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Succeeded   bool      `json:"succeeded"`
	Diagnostics string    `json:"diagnostics,omitempty"`
}

// Resolution is one of the choices offered on an escalation. Escalation never
// auto-resolves; exactly one resolution must be chosen externally.
type Resolution string

const (
	ResolutionRetryWithGuidance Resolution = "retry-with-guidance"
	ResolutionManualFix         Resolution = "manual-fix-and-continue"
	ResolutionAcceptAndSkip     Resolution = "accept-and-skip"
	ResolutionAbort             Resolution = "abort"
)

// ResolutionOptions returns every valid escalation resolution.
func ResolutionOptions() []Resolution {
	return []Resolution{
		ResolutionRetryWithGuidance,
		ResolutionManualFix,
		ResolutionAcceptAndSkip,
		ResolutionAbort,
	}
}

// Decision is the externally supplied answer to an escalation.
type Decision struct {
	Resolution Resolution `json:"resolution"`
	// Guidance is optional free-text passed back to the next attempt.
	Guidance string `json:"guidance,omitempty"`
}

// EscalationRecord summarizes an exhausted budget for human review. It always
// carries the full prior-attempt history; a bare "it failed" is never
// surfaced.
type EscalationRecord struct {
	Phase           Phase        `json:"phase"`
	Subject         string       `json:"subject,omitempty"`
	Attempts        []Attempt    `json:"attempts"`
	LastDiagnostics string       `json:"last_diagnostics"`
	Options         []Resolution `json:"resolution_options"`
	RaisedAt        time.Time    `json:"raised_at"`
}
