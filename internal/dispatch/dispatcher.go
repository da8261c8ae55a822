// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/foundry/internal/logging"
	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/retry"
	"github.com/fyrsmithlabs/foundry/internal/taxonomy"
	"github.com/fyrsmithlabs/foundry/internal/telemetry"
	"github.com/fyrsmithlabs/foundry/internal/wave"
)

// Hinter supplies learned suggestions for a role. Advice is best-effort: a
// failing hinter yields no hints, never a failed dispatch.
type Hinter interface {
	Hints(ctx context.Context, role request.Role) []string
}

// Options configure a Dispatcher.
type Options struct {
	// BranchPrefix prefixes every isolation branch name.
	BranchPrefix string

	// MaxParallel caps concurrent work items. 0 means unbounded.
	MaxParallel int

	// LaunchRate limits work item launches per second. 0 disables limiting.
	LaunchRate float64

	// Hinter, when set, attaches learned suggestions to outgoing items.
	Hinter Hinter
}

// Dispatcher issues work items per feature/role and collects completions.
// All independent work within a wave goes out as one batch; only explicit
// role ordering serializes anything.
type Dispatcher struct {
	registry *Registry
	retries  *retry.Manager
	log      *logging.Logger
	opts     Options

	limiter *rate.Limiter
	sem     chan struct{}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, retries *retry.Manager, log *logging.Logger, opts Options) *Dispatcher {
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = "foundry"
	}
	d := &Dispatcher{
		registry: registry,
		retries:  retries,
		log:      log,
		opts:     opts,
	}
	if opts.LaunchRate > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.LaunchRate), 1)
	}
	if opts.MaxParallel > 0 {
		d.sem = make(chan struct{}, opts.MaxParallel)
	}
	return d
}

// WaveOutcome is the result of dispatching one wave.
type WaveOutcome struct {
	// Completed holds finished work grouped by feature.
	Completed map[string][]Completed

	// Escalations are budget exhaustions raised during the wave. A non-empty
	// slice halts the run.
	Escalations []retry.EscalationRecord
}

// DispatchWave issues every work item for the wave's features as one batch
// and blocks until all of them resolve (success or exhausted-retry
// escalation). Independent work is never serialized: each feature's item set
// starts immediately; only declared role ordering sequences items within one
// feature.
func (d *Dispatcher) DispatchWave(ctx context.Context, w wave.Wave, req *request.Request) (*WaveOutcome, error) {
	ctx = logging.WithWave(ctx, w.Index)

	outcome := &WaveOutcome{Completed: make(map[string][]Completed, len(w.Features))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, name := range w.Features {
		f := req.Feature(name)
		if f == nil {
			return nil, fmt.Errorf("wave references undeclared feature %q", name)
		}
		wg.Add(1)
		go func(f request.Feature) {
			defer wg.Done()
			completed, escalation, err := d.dispatchFeature(logging.WithFeature(ctx, f.Name), f)

			mu.Lock()
			defer mu.Unlock()
			if len(completed) > 0 {
				outcome.Completed[f.Name] = completed
			}
			if escalation != nil {
				outcome.Escalations = append(outcome.Escalations, *escalation)
			}
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("dispatch %s: %w", f.Name, err)
			}
		}(*f)
	}

	wg.Wait()

	if firstErr != nil {
		return outcome, firstErr
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// dispatchFeature runs every role item for one feature. Ordered roles run
// sequentially in declared order; the rest run concurrently after them.
func (d *Dispatcher) dispatchFeature(ctx context.Context, f request.Feature) ([]Completed, *retry.EscalationRecord, error) {
	ordered := make(map[request.Role]bool, len(f.RoleOrder))
	for _, role := range f.RoleOrder {
		ordered[role] = true
	}

	var completed []Completed

	for _, role := range f.RoleOrder {
		done, escalation, err := d.runItem(ctx, d.buildItem(f, role))
		if err != nil {
			return completed, nil, err
		}
		if escalation != nil {
			return completed, escalation, nil
		}
		completed = append(completed, *done)
	}

	var concurrent []request.Role
	for _, role := range f.Roles {
		if !ordered[role] {
			concurrent = append(concurrent, role)
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstEscalation *retry.EscalationRecord
	var firstErr error

	for _, role := range concurrent {
		wg.Add(1)
		go func(role request.Role) {
			defer wg.Done()
			done, escalation, err := d.runItem(ctx, d.buildItem(f, role))

			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
				return
			}
			if escalation != nil && firstEscalation == nil {
				firstEscalation = escalation
				return
			}
			if done != nil {
				completed = append(completed, *done)
			}
		}(role)
	}
	wg.Wait()

	return completed, firstEscalation, firstErr
}

func (d *Dispatcher) buildItem(f request.Feature, role request.Role) WorkItem {
	return WorkItem{
		ID:          uuid.New().String(),
		Feature:     f.Name,
		Description: f.Description,
		Role:        role,
		Kind:        KindBuild,
		Branch:      BranchName(d.opts.BranchPrefix, f.Name, role, KindBuild),
		Attempt:     1,
	}
}

// DispatchBugfix issues a single bugfix work item scoped to exactly the
// failing concern, under the given retry phase's budget.
func (d *Dispatcher) DispatchBugfix(ctx context.Context, feature, scope, diagnostics string, phase retry.Phase) (*Completed, *retry.EscalationRecord, error) {
	item := WorkItem{
		ID:               uuid.New().String(),
		Feature:          feature,
		Description:      scope,
		Role:             request.RoleBugfixer,
		Kind:             KindBugfix,
		Branch:           BranchName(d.opts.BranchPrefix, feature, request.RoleBugfixer, KindBugfix),
		Attempt:          1,
		Scope:            scope,
		PriorDiagnostics: []string{diagnostics},
	}
	return d.runItemPhase(logging.WithFeature(ctx, feature), item, phase)
}

// runItem executes one build item under the feature-build budget.
func (d *Dispatcher) runItem(ctx context.Context, item WorkItem) (*Completed, *retry.EscalationRecord, error) {
	return d.runItemPhase(ctx, item, retry.PhaseFeatureBuild)
}

// runItemPhase executes one item with retries until success or budget
// exhaustion. The budget subject is feature/role so parallel roles on one
// feature burn independent budgets. Exactly one of the three returns is
// non-nil.
func (d *Dispatcher) runItemPhase(ctx context.Context, item WorkItem, phase retry.Phase) (*Completed, *retry.EscalationRecord, error) {
	worker, err := d.registry.Lookup(item.Role)
	if err != nil {
		d.log.Error(ctx, "no worker for role", zap.String("role", string(item.Role)))
		return nil, d.retries.Exhaust(phase, item.Feature+"/"+string(item.Role), err.Error()), nil
	}

	subject := item.Feature + "/" + string(item.Role)
	if item.Kind == KindBugfix && item.Scope != "" {
		// Each bugfix concern burns its own budget.
		subject += "/" + item.Scope
	}

	if d.opts.Hinter != nil {
		item.Hints = d.opts.Hinter.Hints(ctx, item.Role)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := d.retries.Begin(phase, subject); err != nil {
			d.log.Warn(ctx, "dispatch refused", zap.Error(err))
			return nil, nil, fmt.Errorf("dispatch refused for %s: %w", subject, err)
		}
		if err := d.throttle(ctx); err != nil {
			return nil, nil, err
		}

		telemetry.WorkItemsDispatched.WithLabelValues(string(item.Role), string(item.Kind)).Inc()
		d.log.Info(ctx, "work item dispatched",
			zap.String("work_item", item.ID),
			zap.String("role", string(item.Role)),
			zap.String("branch", item.Branch),
			zap.Int("attempt", item.Attempt),
		)

		result, execErr := d.execute(ctx, worker, item)

		if execErr == nil && result.Status == StatusSuccess && result.BranchRef != "" {
			d.retries.RecordSuccess(phase, subject)
			return &Completed{Item: item, BranchRef: result.BranchRef}, nil, nil
		}

		diagnostics := result.Diagnostics
		if execErr != nil {
			diagnostics = execErr.Error()
		} else if diagnostics == "" {
			if result.Status == StatusSuccess {
				diagnostics = "worker reported success without a branch ref"
			} else {
				diagnostics = "worker reported failure without diagnostics"
			}
		}

		failure := &taxonomy.WorkerFailure{
			Feature:     item.Feature,
			Role:        string(item.Role),
			Attempt:     item.Attempt,
			Diagnostics: diagnostics,
		}
		record, exhausted := d.retries.RecordFailure(phase, subject, failure.Error())
		if record != nil {
			telemetry.EscalationsTotal.WithLabelValues(string(phase)).Inc()
			d.log.Error(ctx, "retry budget exhausted",
				zap.String("phase", string(phase)),
				zap.Int("attempts", len(record.Attempts)),
				zap.Error(exhausted),
			)
			return nil, record, nil
		}

		telemetry.WorkItemRetries.WithLabelValues(string(item.Role)).Inc()
		d.log.Warn(ctx, "work item failed, re-dispatching",
			zap.String("work_item", item.ID),
			zap.Error(failure),
		)
		item.Attempt++
		item.PriorDiagnostics = append(item.PriorDiagnostics, diagnostics)
	}
}

// execute runs the worker under the parallelism cap.
func (d *Dispatcher) execute(ctx context.Context, worker Worker, item WorkItem) (Result, error) {
	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return worker.Execute(ctx, item)
}

func (d *Dispatcher) throttle(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	return d.limiter.Wait(ctx)
}
