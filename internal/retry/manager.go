// internal/retry/manager.go
package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/foundry/internal/taxonomy"
)

// Budgets maps each phase to its max attempts.
type Budgets map[Phase]int

// DefaultBudgets returns the documented defaults.
func DefaultBudgets() Budgets {
	return Budgets{
		PhaseFeatureBuild:    3,
		PhaseRuntimeVerify:   5,
		PhaseInteractiveUI:   5,
		PhaseQualityScoreFix: 3,
		PhaseTargetedBugfix:  3,
	}
}

// tracker is the FSM state for one (phase, subject) pair.
type tracker struct {
	phase        Phase
	subject      string
	state        State
	maxAttempts  int
	attemptsUsed int
	attempts     []Attempt
	started      time.Time
}

// Manager owns every retry budget in a run. It is safe for concurrent use;
// work items in the same wave report failures from separate goroutines.
type Manager struct {
	mu       sync.Mutex
	budgets  Budgets
	trackers map[string]*tracker
}

// NewManager creates a manager with the given budgets. Phases missing from
// budgets fall back to the documented defaults.
func NewManager(budgets Budgets) *Manager {
	merged := DefaultBudgets()
	for p, n := range budgets {
		merged[p] = n
	}
	return &Manager{
		budgets:  merged,
		trackers: make(map[string]*tracker),
	}
}

func key(phase Phase, subject string) string {
	return string(phase) + "\x00" + subject
}

func (m *Manager) get(phase Phase, subject string) *tracker {
	k := key(phase, subject)
	t, ok := m.trackers[k]
	if !ok {
		t = &tracker{
			phase:       phase,
			subject:     subject,
			state:       StateIdle,
			maxAttempts: m.budgets[phase],
		}
		m.trackers[k] = t
	}
	return t
}

// Begin transitions (phase, subject) to Attempting. It fails if the pair is
// escalated (a human decision is pending) or already succeeded.
func (m *Manager) Begin(phase Phase, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.get(phase, subject)
	switch t.state {
	case StateEscalated:
		return fmt.Errorf("phase %s (%s) is escalated and awaiting a decision", phase, subject)
	case StateSucceeded:
		return fmt.Errorf("phase %s (%s) already succeeded", phase, subject)
	case StateAttempting:
		return fmt.Errorf("phase %s (%s) already has an attempt in flight", phase, subject)
	}
	t.state = StateAttempting
	t.started = time.Now()
	return nil
}

// RecordSuccess transitions the pair to Succeeded.
func (m *Manager) RecordSuccess(phase Phase, subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.get(phase, subject)
	t.attemptsUsed++
	t.attempts = append(t.attempts, Attempt{
		Number:     t.attemptsUsed,
		StartedAt:  t.started,
		FinishedAt: time.Now(),
		Succeeded:  true,
	})
	t.state = StateSucceeded
}

// RecordFailure consumes one attempt. If budget remains, the pair moves to
// Retrying and nil is returned. On exhaustion it moves to Escalated and the
// EscalationRecord is returned wrapped in a taxonomy.BudgetExhausted error.
func (m *Manager) RecordFailure(phase Phase, subject, diagnostics string) (*EscalationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.get(phase, subject)
	t.attemptsUsed++
	t.attempts = append(t.attempts, Attempt{
		Number:      t.attemptsUsed,
		StartedAt:   t.started,
		FinishedAt:  time.Now(),
		Diagnostics: diagnostics,
	})

	if t.attemptsUsed < t.maxAttempts {
		t.state = StateRetrying
		return nil, nil
	}

	t.state = StateEscalated
	record := &EscalationRecord{
		Phase:           phase,
		Subject:         subject,
		Attempts:        append([]Attempt{}, t.attempts...),
		LastDiagnostics: diagnostics,
		Options:         ResolutionOptions(),
		RaisedAt:        time.Now(),
	}

	history := make([]string, len(t.attempts))
	for i, a := range t.attempts {
		history[i] = fmt.Sprintf("attempt %d: %s", a.Number, a.Diagnostics)
	}
	return record, &taxonomy.BudgetExhausted{
		Phase:    string(phase),
		Attempts: history,
		LastErr:  fmt.Errorf("%s", diagnostics),
	}
}

// Exhaust immediately escalates a pair regardless of remaining budget. Used
// for failures that retrying cannot fix, like a role with no worker.
func (m *Manager) Exhaust(phase Phase, subject, diagnostics string) *EscalationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.get(phase, subject)
	t.attemptsUsed++
	t.attempts = append(t.attempts, Attempt{
		Number:      t.attemptsUsed,
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
		Diagnostics: diagnostics,
	})
	t.state = StateEscalated
	return &EscalationRecord{
		Phase:           phase,
		Subject:         subject,
		Attempts:        append([]Attempt{}, t.attempts...),
		LastDiagnostics: diagnostics,
		Options:         ResolutionOptions(),
		RaisedAt:        time.Now(),
	}
}

// Resume applies an external decision to an escalated pair. For resolutions
// that re-enter the pipeline the attempt counter resets; AcceptAndSkip marks
// the pair succeeded without resetting history; Abort keeps it escalated.
func (m *Manager) Resume(phase Phase, subject string, decision Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.get(phase, subject)
	if t.state != StateEscalated {
		return fmt.Errorf("phase %s (%s) is not escalated (state %s)", phase, subject, t.state)
	}

	switch decision.Resolution {
	case ResolutionRetryWithGuidance, ResolutionManualFix:
		t.attemptsUsed = 0
		t.attempts = nil
		t.state = StateIdle
	case ResolutionAcceptAndSkip:
		t.state = StateSucceeded
	case ResolutionAbort:
		// Stays escalated; the run ends.
	default:
		return fmt.Errorf("unknown resolution %q", decision.Resolution)
	}
	return nil
}

// ResetSucceeded returns every succeeded pair to Idle with a fresh budget.
// A resumed run re-dispatches work the previous pass completed but never
// integrated; those subjects must be allowed to begin again.
func (m *Manager) ResetSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trackers {
		if t.state != StateSucceeded {
			continue
		}
		t.state = StateIdle
		t.attemptsUsed = 0
		t.attempts = nil
	}
}

// StateOf returns the FSM state of a pair.
func (m *Manager) StateOf(phase Phase, subject string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackers[key(phase, subject)]; ok {
		return t.state
	}
	return StateIdle
}

// AttemptsUsed returns consumed attempts for a pair.
func (m *Manager) AttemptsUsed(phase Phase, subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackers[key(phase, subject)]; ok {
		return t.attemptsUsed
	}
	return 0
}

// Attempts returns a copy of the attempt history for a pair.
func (m *Manager) Attempts(phase Phase, subject string) []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackers[key(phase, subject)]; ok {
		return append([]Attempt{}, t.attempts...)
	}
	return nil
}

// Escalated returns every pair currently awaiting a decision.
func (m *Manager) Escalated() []EscalationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []EscalationRecord
	for _, t := range m.trackers {
		if t.state != StateEscalated {
			continue
		}
		last := ""
		if n := len(t.attempts); n > 0 {
			last = t.attempts[n-1].Diagnostics
		}
		out = append(out, EscalationRecord{
			Phase:           t.phase,
			Subject:         t.subject,
			Attempts:        append([]Attempt{}, t.attempts...),
			LastDiagnostics: last,
			Options:         ResolutionOptions(),
		})
	}
	return out
}
