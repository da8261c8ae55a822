// internal/verify/pipeline.go
package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/foundry/internal/logging"
	"github.com/fyrsmithlabs/foundry/internal/taxonomy"
	"github.com/fyrsmithlabs/foundry/internal/telemetry"
)

// Pipeline runs registered stages in the fixed order. Stages run
// sequentially by contract; a stage may parallelize internally, invisibly to
// the pipeline.
type Pipeline struct {
	stages map[StageName]Stage
	log    *logging.Logger
}

// NewPipeline creates a pipeline from the given stages. Every stage in
// StageOrder must be present exactly once.
func NewPipeline(log *logging.Logger, stages ...Stage) (*Pipeline, error) {
	byName := make(map[StageName]Stage, len(stages))
	for _, s := range stages {
		if _, dup := byName[s.Name()]; dup {
			return nil, fmt.Errorf("stage %q registered twice", s.Name())
		}
		byName[s.Name()] = s
	}
	for _, name := range StageOrder() {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("missing stage %q", name)
		}
	}
	return &Pipeline{stages: byName, log: log}, nil
}

// Outcome is the pipeline's aggregate verdict.
type Outcome struct {
	// Results holds every stage result produced, in execution order. On a
	// blocking failure, later stages are absent.
	Results []Result

	// ShortCircuited is true when a blocking failure skipped the remaining
	// stages.
	ShortCircuited bool
}

// Failures returns every failed result.
func (o *Outcome) Failures() []Result {
	var out []Result
	for _, r := range o.Results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Passed reports whether every executed stage passed.
func (o *Outcome) Passed() bool {
	return !o.ShortCircuited && len(o.Failures()) == 0
}

// Skipped returns the stages a short-circuit prevented from running, in
// pipeline order. Empty when every stage executed.
func (o *Outcome) Skipped() []StageName {
	if !o.ShortCircuited {
		return nil
	}
	ran := make(map[StageName]bool, len(o.Results))
	for _, r := range o.Results {
		ran[r.Stage] = true
	}
	var out []StageName
	for _, name := range StageOrder() {
		if !ran[name] {
			out = append(out, name)
		}
	}
	return out
}

// Run executes all stages in order against the integration reference.
// A blocking failure short-circuits; non-blocking failures accumulate
// diagnostics and allow continuation so the quality scorer sees every prior
// result.
func (p *Pipeline) Run(ctx context.Context, integrationRef string) (*Outcome, error) {
	outcome := &Outcome{}
	for _, name := range StageOrder() {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		result, err := p.RunStage(ctx, name, integrationRef)
		if err != nil {
			return outcome, err
		}
		outcome.Results = append(outcome.Results, result)

		if !result.Passed && result.Blocking {
			p.log.Warn(ctx, "blocking verification failure, short-circuiting pipeline",
				zap.String("stage", string(name)),
				zap.String("diagnostics", result.Diagnostics),
			)
			outcome.ShortCircuited = true
			return outcome, nil
		}
	}
	return outcome, nil
}

// RunStage executes a single stage. Used for the initial pass and for
// re-running only the affected stage after a bugfix merge.
func (p *Pipeline) RunStage(ctx context.Context, name StageName, integrationRef string) (Result, error) {
	stage, ok := p.stages[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown stage %q", name)
	}

	start := time.Now()
	result, err := stage.Check(ctx, integrationRef)
	result.Stage = name
	result.InputRef = integrationRef
	result.Duration = time.Since(start)

	if err != nil {
		// The stage itself failed to run: a non-blocking failure with the
		// error as diagnostics, so the run can retry it under budget.
		result.Passed = false
		result.Blocking = false
		result.Diagnostics = fmt.Sprintf("stage did not run: %v", err)
	}

	telemetry.StageDuration.WithLabelValues(string(name)).Observe(result.Duration.Seconds())
	telemetry.StageResults.WithLabelValues(string(name), resultLabel(result)).Inc()

	if result.Passed {
		p.log.Info(ctx, "verification stage passed", zap.String("stage", string(name)))
	} else {
		p.log.Warn(ctx, "verification stage failed",
			zap.String("stage", string(name)),
			zap.Bool("blocking", result.Blocking),
			zap.String("diagnostics", result.Diagnostics),
		)
	}
	return result, nil
}

// Smoke runs the cheapest stage (runtime check) with a hard time box. Used
// by the integration coordinator after every merge.
func (p *Pipeline) Smoke(ctx context.Context, integrationRef string, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.RunStage(ctx, StageRuntime, integrationRef)
	if err != nil {
		return result, err
	}
	if !result.Passed {
		return result, &taxonomy.VerificationFailure{
			Stage:       string(StageRuntime),
			Blocking:    result.Blocking,
			Diagnostics: result.Diagnostics,
		}
	}
	return result, nil
}

func resultLabel(r Result) string {
	switch {
	case r.Passed:
		return "pass"
	case r.Blocking:
		return "blocking_fail"
	default:
		return "fail"
	}
}
