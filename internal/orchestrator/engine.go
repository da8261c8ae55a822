// Package orchestrator drives a build request end to end: waves of work
// items, ordered integration, verification, and the quality gate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/foundry/internal/config"
	"github.com/fyrsmithlabs/foundry/internal/dispatch"
	"github.com/fyrsmithlabs/foundry/internal/events"
	"github.com/fyrsmithlabs/foundry/internal/graph"
	"github.com/fyrsmithlabs/foundry/internal/integrate"
	"github.com/fyrsmithlabs/foundry/internal/logging"
	"github.com/fyrsmithlabs/foundry/internal/patternbank"
	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/retry"
	"github.com/fyrsmithlabs/foundry/internal/score"
	"github.com/fyrsmithlabs/foundry/internal/telemetry"
	"github.com/fyrsmithlabs/foundry/internal/verify"
	"github.com/fyrsmithlabs/foundry/internal/wave"
)

// ErrAwaitingDecision is returned when a run stops on exhausted retry
// budgets and needs human resolutions before it can resume.
var ErrAwaitingDecision = errors.New("orchestrator: run awaiting escalation decisions")

// ErrAborted is returned when an escalation decision aborts the run.
var ErrAborted = errors.New("orchestrator: run aborted by decision")

// lineFeature is the subject features attributed to line-wide bugfixes.
const lineFeature = "integration"

// Assessment is the measured raw material for one quality-scoring pass.
type Assessment struct {
	Values                map[score.Dimension]float64
	Complexity            float64
	BlockingVisualFinding bool
}

// Assessor measures the quality dimensions of an integration ref.
type Assessor interface {
	Assess(ctx context.Context, ref string) (*Assessment, error)
}

// EventSink receives run lifecycle events. *events.Publisher satisfies it.
type EventSink interface {
	Publish(runID, event string, details map[string]any)
}

// Deps wires an Engine. All fields except Bank and Events are required.
type Deps struct {
	Config     *config.Config
	Log        *logging.Logger
	Dispatcher *dispatch.Dispatcher
	Retries    *retry.Manager
	Line       integrate.Line
	Pipeline   *verify.Pipeline
	Scorer     *score.Scorer
	Assessor   Assessor
	Bank       *patternbank.Service
	Events     EventSink
}

// Engine runs build requests.
type Engine struct {
	cfg        *config.Config
	log        *logging.Logger
	dispatcher *dispatch.Dispatcher
	retries    *retry.Manager
	line       integrate.Line
	pipeline   *verify.Pipeline
	scorer     *score.Scorer
	assessor   Assessor
	bank       *patternbank.Service
	pub        EventSink
}

// New validates deps and builds an Engine.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("orchestrator: config is required")
	case deps.Log == nil:
		return nil, errors.New("orchestrator: logger is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("orchestrator: dispatcher is required")
	case deps.Retries == nil:
		return nil, errors.New("orchestrator: retry manager is required")
	case deps.Line == nil:
		return nil, errors.New("orchestrator: integration line is required")
	case deps.Pipeline == nil:
		return nil, errors.New("orchestrator: verification pipeline is required")
	case deps.Scorer == nil:
		return nil, errors.New("orchestrator: scorer is required")
	case deps.Assessor == nil:
		return nil, errors.New("orchestrator: assessor is required")
	}
	if deps.Events == nil {
		deps.Events = events.NewPublisher(nil, nil)
	}
	return &Engine{
		cfg:        deps.Config,
		log:        deps.Log,
		dispatcher: deps.Dispatcher,
		retries:    deps.Retries,
		line:       deps.Line,
		pipeline:   deps.Pipeline,
		scorer:     deps.Scorer,
		assessor:   deps.Assessor,
		bank:       deps.Bank,
		pub:        deps.Events,
	}, nil
}

// Run executes the request to completion. On exhausted retry budgets it
// returns the state with Status RunAwaitingDecision and ErrAwaitingDecision;
// Resume continues after decisions are applied.
func (e *Engine) Run(ctx context.Context, req *request.Request) (*RunState, error) {
	if err := request.Validate(req); err != nil {
		return nil, err
	}
	state := newRunState(uuid.New().String(), req)
	if err := e.execute(ctx, state, req); err != nil {
		e.failRun(state, err)
		return state, err
	}
	return state, nil
}

// failRun stamps and announces a terminal failure. Suspended runs are not
// failures; they publish their escalations instead.
func (e *Engine) failRun(state *RunState, cause error) {
	if state.Status != RunFailed {
		return
	}
	if state.FinishedAt == nil {
		now := time.Now().UTC()
		state.FinishedAt = &now
	}
	e.pub.Publish(state.RunID, events.RunFailed, map[string]any{"reason": cause.Error()})
}

// Resume replays persisted escalations into the retry manager, applies the
// given decisions (keyed "phase/subject"), and re-runs the request under the
// same run state: features already on the line stay merged, everything else
// is re-dispatched. An abort decision ends the run instead.
func (e *Engine) Resume(ctx context.Context, req *request.Request, state *RunState, decisions map[string]retry.Decision) (*RunState, error) {
	if state.Status != RunAwaitingDecision {
		return nil, fmt.Errorf("run %s is %s, not awaiting decisions", state.RunID, state.Status)
	}
	if err := request.Validate(req); err != nil {
		return nil, err
	}

	// Subjects the previous pass completed but never integrated must be
	// allowed to re-dispatch; without this, a succeeded sibling in an
	// escalated wave deadlocks the resume.
	e.retries.ResetSucceeded()

	for _, rec := range state.Escalations {
		key := string(rec.Phase) + "/" + rec.Subject
		decision, ok := decisions[key]
		if !ok {
			return nil, fmt.Errorf("no decision supplied for escalation %s", key)
		}
		// Rebuild the escalated FSM entry before applying the decision; the
		// manager does not survive process restarts.
		if e.retries.StateOf(rec.Phase, rec.Subject) != retry.StateEscalated {
			e.retries.Exhaust(rec.Phase, rec.Subject, rec.LastDiagnostics)
		}
		if err := e.retries.Resume(rec.Phase, rec.Subject, decision); err != nil {
			return nil, fmt.Errorf("apply decision for %s: %w", key, err)
		}
		if decision.Resolution == retry.ResolutionAbort {
			state.Status = RunFailed
			e.failRun(state, ErrAborted)
			return state, ErrAborted
		}
	}

	state.Escalations = nil
	state.Status = RunRunning
	if err := e.execute(ctx, state, req); err != nil {
		e.failRun(state, err)
		return state, err
	}
	return state, nil
}

// execute drives the run state through waves, verification, and scoring.
// Features already marked merged are pre-seeded into the coordinator and
// skipped, so a resumed run never redoes integrated work.
func (e *Engine) execute(ctx context.Context, state *RunState, req *request.Request) error {
	g, err := graph.Build(req.Features)
	if err != nil {
		return err
	}
	waves, err := wave.Schedule(g)
	if err != nil {
		return err
	}

	ctx = logging.WithRunID(ctx, state.RunID)
	e.log.Info(ctx, "run started",
		zap.String("request", req.Name),
		zap.Int("features", g.Len()),
		zap.Int("waves", len(waves)),
	)
	e.pub.Publish(state.RunID, events.RunStarted, map[string]any{
		"request":  req.Name,
		"features": g.Len(),
		"waves":    len(waves),
	})

	coord := integrate.NewCoordinator(e.line, g, e.smokeFunc(), e.log)
	for name, status := range state.Features {
		if status == FeatureMerged {
			coord.MarkMerged(name)
		}
	}

	for _, w := range waves {
		if err := e.runWave(ctx, state, coord, w, req); err != nil {
			return err
		}
	}

	if err := e.verifyLine(ctx, state); err != nil {
		return err
	}
	if err := e.scoreLoop(ctx, state); err != nil {
		return err
	}

	now := time.Now().UTC()
	state.Status = RunCompleted
	state.FinishedAt = &now
	e.recordRun(ctx, state, g.Len(), len(waves))
	e.pub.Publish(state.RunID, events.RunCompleted, map[string]any{
		"score":    state.Score.Overall,
		"decision": string(state.Score.Decision),
	})
	e.log.Info(ctx, "run completed",
		zap.Float64("score", state.Score.Overall),
		zap.String("decision", string(state.Score.Decision)),
	)
	return nil
}

func (e *Engine) runWave(ctx context.Context, state *RunState, coord *integrate.Coordinator, w wave.Wave, req *request.Request) error {
	// Features the coordinator already holds do not re-dispatch; a resumed
	// run only re-runs the work that never merged.
	var pending []string
	for _, name := range w.Features {
		if state.Features[name] != FeatureMerged {
			pending = append(pending, name)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	w = wave.Wave{Index: w.Index, Features: pending}

	ctx = logging.WithWave(ctx, w.Index)
	state.Wave = w.Index
	start := time.Now()

	e.pub.Publish(state.RunID, events.WaveStarted, map[string]any{
		"wave":     w.Index,
		"features": w.Features,
	})
	for _, name := range w.Features {
		state.Features[name] = FeatureDispatched
	}

	outcome, err := e.dispatcher.DispatchWave(ctx, w, req)
	if err != nil {
		state.Status = RunFailed
		return err
	}
	if len(outcome.Escalations) > 0 {
		e.recordEscalated(ctx, req, outcome.Escalations)
		return e.escalate(ctx, state, outcome.Escalations...)
	}

	// Hand completions to the coordinator in declaration order; it holds
	// back anything whose dependencies have not merged.
	for _, name := range w.Features {
		completed := outcome.Completed[name]
		if len(completed) == 0 {
			state.Features[name] = FeatureFailed
			state.Status = RunFailed
			return fmt.Errorf("feature %s produced no completed work", name)
		}
		state.Features[name] = FeatureInProgress

		err := coord.FeatureReady(ctx, name, finalRef(req.Feature(name), completed))
		var smoke *integrate.SmokeFailure
		if errors.As(err, &smoke) {
			e.pub.Publish(state.RunID, events.SmokeFailed, map[string]any{
				"feature":     smoke.Feature,
				"diagnostics": smoke.Result.Diagnostics,
			})
			err = e.recoverSmoke(ctx, state, coord, smoke)
		}
		if err != nil {
			if !errors.Is(err, ErrAwaitingDecision) {
				state.Status = RunFailed
			}
			return err
		}
	}

	for _, name := range w.Features {
		if coord.Merged(name) {
			state.Features[name] = FeatureMerged
			e.pub.Publish(state.RunID, events.FeatureMerged, map[string]any{"feature": name})
			e.recordMerged(ctx, outcome.Completed[name])
		}
	}

	telemetry.WaveDuration.Observe(time.Since(start).Seconds())
	e.pub.Publish(state.RunID, events.WaveCompleted, map[string]any{"wave": w.Index})
	return nil
}

// recoverSmoke dispatches targeted bugfixes until the frozen line goes green
// again. Re-failures burn the runtime-verification budget.
func (e *Engine) recoverSmoke(ctx context.Context, state *RunState, coord *integrate.Coordinator, smoke *integrate.SmokeFailure) error {
	subject := smoke.Feature + "/smoke"

	for {
		if err := e.retries.Begin(retry.PhaseRuntimeVerify, subject); err != nil {
			return err
		}

		completed, escalation, err := e.dispatcher.DispatchBugfix(ctx,
			smoke.Feature, string(smoke.Result.Stage), smoke.Result.Diagnostics,
			retry.PhaseTargetedBugfix)
		if err != nil {
			return err
		}
		if escalation != nil {
			e.retries.RecordFailure(retry.PhaseRuntimeVerify, subject, "bugfix budget exhausted")
			return e.escalate(ctx, state, *escalation)
		}

		err = coord.ResumeAfterBugfix(ctx, smoke.Feature, completed.BranchRef)
		if err == nil {
			e.retries.RecordSuccess(retry.PhaseRuntimeVerify, subject)
			return nil
		}

		var again *integrate.SmokeFailure
		if !errors.As(err, &again) {
			return err
		}
		record, exhausted := e.retries.RecordFailure(retry.PhaseRuntimeVerify, subject, again.Result.Diagnostics)
		if record != nil {
			if err := e.escalate(ctx, state, *record); err != nil {
				return err
			}
			return exhausted
		}
		smoke = again
	}
}

// verifyLine runs the full verification pipeline against the integration
// ref, then fixes and re-runs only the failing stages. Stages a blocking
// failure short-circuited still get their first run once the fix merged, so
// scoring never proceeds on a partially verified line.
func (e *Engine) verifyLine(ctx context.Context, state *RunState) error {
	outcome, err := e.pipeline.Run(ctx, e.line.Ref())
	if err != nil {
		state.Status = RunFailed
		return err
	}

	for _, res := range outcome.Failures() {
		if err := e.fixStage(ctx, state, res); err != nil {
			if !errors.Is(err, ErrAwaitingDecision) {
				state.Status = RunFailed
			}
			return err
		}
	}

	for _, name := range outcome.Skipped() {
		res, err := e.pipeline.RunStage(ctx, name, e.line.Ref())
		if err != nil {
			state.Status = RunFailed
			return err
		}
		if res.Passed {
			continue
		}
		if err := e.fixStage(ctx, state, res); err != nil {
			if !errors.Is(err, ErrAwaitingDecision) {
				state.Status = RunFailed
			}
			return err
		}
	}
	return nil
}

// fixStage loops bugfix-then-rerun for a single failing stage. Only the
// failing stage re-runs; green stages are not repeated.
func (e *Engine) fixStage(ctx context.Context, state *RunState, res verify.Result) error {
	phase := verify.PhaseFor(res.Stage)
	subject := lineFeature + "/" + string(res.Stage)

	for {
		if err := e.retries.Begin(phase, subject); err != nil {
			return err
		}

		completed, escalation, err := e.dispatcher.DispatchBugfix(ctx,
			lineFeature, string(res.Stage), res.Diagnostics, retry.PhaseTargetedBugfix)
		if err != nil {
			return err
		}
		if escalation != nil {
			e.retries.RecordFailure(phase, subject, "bugfix budget exhausted")
			return e.escalate(ctx, state, *escalation)
		}
		if _, err := e.line.Merge(ctx, completed.BranchRef); err != nil {
			return fmt.Errorf("merge %s fix: %w", res.Stage, err)
		}

		rerun, err := e.pipeline.RunStage(ctx, res.Stage, e.line.Ref())
		if err != nil {
			return err
		}
		if rerun.Passed {
			e.retries.RecordSuccess(phase, subject)
			return nil
		}

		record, exhausted := e.retries.RecordFailure(phase, subject, rerun.Diagnostics)
		if record != nil {
			if err := e.escalate(ctx, state, *record); err != nil {
				return err
			}
			return exhausted
		}
		res = rerun
	}
}

// scoreLoop assesses and scores the line until the scorer says ship. Each
// iterate decision dispatches the minimal fix-set and re-assesses.
func (e *Engine) scoreLoop(ctx context.Context, state *RunState) error {
	for iteration := 0; ; iteration++ {
		benchmarks := e.benchmarks(ctx)
		assessment, err := e.assessor.Assess(ctx, e.line.Ref())
		if err != nil {
			state.Status = RunFailed
			return fmt.Errorf("assess %s: %w", e.line.Ref(), err)
		}

		qs := e.scorer.Score(score.Input{
			Values:                assessment.Values,
			Complexity:            assessment.Complexity,
			BlockingVisualFinding: assessment.BlockingVisualFinding,
			Iteration:             iteration,
			Benchmarks:            benchmarks,
		})
		state.Score = qs
		e.pub.Publish(state.RunID, events.ScoreComputed, map[string]any{
			"overall":   qs.Overall,
			"threshold": qs.Threshold,
			"iteration": iteration,
			"decision":  string(qs.Decision),
		})

		switch qs.Decision {
		case score.DecisionShip:
			return nil
		case score.DecisionShipWithNotes:
			for _, fix := range qs.FixSet {
				state.Notes = append(state.Notes,
					fmt.Sprintf("%s at %.2f: %s", fix.Dimension, fix.Value, fix.Instruction))
			}
			e.log.Warn(ctx, "shipping with notes",
				zap.Int("iterations", iteration),
				zap.Int("outstanding_fixes", len(qs.FixSet)),
			)
			return nil
		}

		for _, fix := range qs.FixSet {
			// Scope carries the iteration so a dimension fixed once and
			// still low next round gets a fresh budget, not a refusal.
			completed, escalation, err := e.dispatcher.DispatchBugfix(ctx,
				"quality-"+string(fix.Dimension), fmt.Sprintf("%s-r%d", fix.Dimension, iteration),
				fix.Instruction, retry.PhaseQualityScoreFix)
			if err != nil {
				return err
			}
			if escalation != nil {
				return e.escalate(ctx, state, *escalation)
			}
			if _, err := e.line.Merge(ctx, completed.BranchRef); err != nil {
				return fmt.Errorf("merge %s fix: %w", fix.Dimension, err)
			}
		}
	}
}

// escalate records exhausted budgets and suspends the run for decisions.
func (e *Engine) escalate(ctx context.Context, state *RunState, records ...retry.EscalationRecord) error {
	state.Escalations = append(state.Escalations, records...)
	state.Status = RunAwaitingDecision
	for _, rec := range records {
		e.pub.Publish(state.RunID, events.EscalationOpen, map[string]any{
			"phase":       string(rec.Phase),
			"subject":     rec.Subject,
			"attempts":    len(rec.Attempts),
			"diagnostics": rec.LastDiagnostics,
		})
		e.log.Error(ctx, "escalation raised",
			zap.String("phase", string(rec.Phase)),
			zap.String("subject", rec.Subject),
			zap.Int("attempts", len(rec.Attempts)),
		)
	}
	return ErrAwaitingDecision
}

func (e *Engine) smokeFunc() integrate.SmokeFunc {
	return func(ctx context.Context, ref string) (verify.Result, error) {
		return e.pipeline.Smoke(ctx, ref, e.cfg.Merge.SmokeTimeout.Duration())
	}
}

func (e *Engine) benchmarks(ctx context.Context) score.Benchmarks {
	if e.bank == nil {
		return score.Benchmarks{}
	}
	b, err := e.bank.Benchmarks(ctx)
	if err != nil {
		e.log.Warn(ctx, "benchmarks unavailable", zap.Error(err))
		return score.Benchmarks{}
	}
	return b
}

// recordMerged feeds a merged feature's work items into the pattern bank so
// later runs see which approaches held up. Best-effort: a store failure is
// logged, never propagated.
func (e *Engine) recordMerged(ctx context.Context, completed []dispatch.Completed) {
	if e.bank == nil {
		return
	}
	for _, c := range completed {
		outcome := fmt.Sprintf("merged clean on attempt %d", c.Item.Attempt)
		if _, err := e.bank.Record(ctx, c.Item.Role, c.Item.Description, outcome, true); err != nil {
			e.log.Warn(ctx, "pattern not recorded",
				zap.String("feature", c.Item.Feature),
				zap.String("role", string(c.Item.Role)),
				zap.Error(err),
			)
		}
	}
}

// recordEscalated stores a failure pattern for each exhausted subject so the
// bank's contradiction handling can flag approaches that stopped working.
func (e *Engine) recordEscalated(ctx context.Context, req *request.Request, records []retry.EscalationRecord) {
	if e.bank == nil {
		return
	}
	for _, rec := range records {
		parts := strings.SplitN(rec.Subject, "/", 3)
		if len(parts) < 2 {
			continue
		}
		f := req.Feature(parts[0])
		if f == nil {
			continue
		}
		if _, err := e.bank.Record(ctx, request.Role(parts[1]), f.Description, rec.LastDiagnostics, false); err != nil {
			e.log.Warn(ctx, "pattern not recorded",
				zap.String("subject", rec.Subject),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) recordRun(ctx context.Context, state *RunState, features, waves int) {
	if e.bank == nil {
		return
	}
	err := e.bank.CompleteRun(ctx, &patternbank.RunRecord{
		ID:           state.RunID,
		RequestName:  state.RequestName,
		CompletedAt:  time.Now().UTC(),
		OverallScore: state.Score.Overall,
		FeatureCount: features,
		Waves:        waves,
	})
	if err != nil {
		e.log.Warn(ctx, "run record not stored", zap.Error(err))
	}
}

// finalRef picks the branch the integration line should merge for a
// feature: the integrator's output when that role ran, otherwise the last
// declared role's output.
func finalRef(f *request.Feature, completed []dispatch.Completed) string {
	byRole := make(map[request.Role]string, len(completed))
	for _, c := range completed {
		byRole[c.Item.Role] = c.BranchRef
	}
	if ref, ok := byRole[request.RoleIntegrator]; ok {
		return ref
	}
	if f != nil {
		for i := len(f.Roles) - 1; i >= 0; i-- {
			if ref, ok := byRole[f.Roles[i]]; ok {
				return ref
			}
		}
	}
	return completed[len(completed)-1].BranchRef
}
