// Package verify adapts the ordered external verification pipeline.
//
// The stage internals (runtime prober, UI harness, visual classifier) are
// external collaborators; only pass/fail, blocking, and diagnostics matter
// here. Stage order is fixed by contract: each stage assumes the prior
// stage's postconditions.
package verify

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/foundry/internal/retry"
)

// StageName identifies a verification stage.
type StageName string

const (
	StageRuntime       StageName = "runtime-check"
	StageDataIntegrity StageName = "data-integrity-check"
	StageInteractiveUI StageName = "interactive-ui-check"
	StageVisual        StageName = "visual-check"
)

// StageOrder returns the fixed pipeline order. The quality scorer runs after
// these as a separate step with all results in hand.
func StageOrder() []StageName {
	return []StageName{StageRuntime, StageDataIntegrity, StageInteractiveUI, StageVisual}
}

// Result is one stage's verdict on an integration reference.
type Result struct {
	Stage StageName `json:"stage"`

	// InputRef is the integration reference the stage examined.
	InputRef string `json:"input_ref"`

	Passed bool `json:"passed"`

	// Blocking marks a failure that short-circuits the pipeline into an
	// instant-fail decision.
	Blocking bool `json:"blocking"`

	Diagnostics string `json:"diagnostics,omitempty"`

	// Metrics are optional stage measurements fed to the quality scorer
	// (e.g. coverage ratios).
	Metrics map[string]float64 `json:"metrics,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Stage checks one aspect of the integration line.
type Stage interface {
	// Name returns the stage's fixed name.
	Name() StageName

	// Check examines the integration reference. An error means the stage
	// itself could not run, which is treated as a non-blocking failure.
	Check(ctx context.Context, integrationRef string) (Result, error)
}

// PhaseFor maps a stage to the retry phase that owns its re-run budget.
func PhaseFor(stage StageName) retry.Phase {
	switch stage {
	case StageRuntime:
		return retry.PhaseRuntimeVerify
	case StageInteractiveUI:
		return retry.PhaseInteractiveUI
	default:
		return retry.PhaseTargetedBugfix
	}
}
