package integrate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/foundry/internal/graph"
	"github.com/fyrsmithlabs/foundry/internal/logging"
	"github.com/fyrsmithlabs/foundry/internal/telemetry"
	"github.com/fyrsmithlabs/foundry/internal/verify"
)

// SmokeFunc runs the cheapest runtime check against the integration ref
// after a merge.
type SmokeFunc func(ctx context.Context, ref string) (verify.Result, error)

// SmokeFailure halts the line: merges stop and wave progression suspends
// until a bugfix lands.
type SmokeFailure struct {
	Feature string
	Result  verify.Result
}

func (e *SmokeFailure) Error() string {
	return fmt.Sprintf("smoke failed after merging %s: %s", e.Feature, e.Result.Diagnostics)
}

// Coordinator serializes merges into the integration line. Features merge in
// dependency order regardless of completion order: a finished feature waits
// until every one of its dependencies has merged. There is exactly one
// writer; FeatureReady calls from any goroutine are safe.
type Coordinator struct {
	line  Line
	graph *graph.Graph
	smoke SmokeFunc
	log   *logging.Logger

	mu         sync.Mutex
	pending    map[string]string
	merged     map[string]*MergeOutcome
	smokePass  bool
	halted     bool
	haltReason string
}

// NewCoordinator creates a coordinator over the line. smoke may be nil to
// disable the post-merge gate.
func NewCoordinator(line Line, g *graph.Graph, smoke SmokeFunc, log *logging.Logger) *Coordinator {
	return &Coordinator{
		line:    line,
		graph:   g,
		smoke:   smoke,
		log:     log,
		pending: make(map[string]string),
		merged:  make(map[string]*MergeOutcome),
	}
}

// FeatureReady registers a finished feature branch and merges everything the
// dependency order now permits. A smoke failure is returned as *SmokeFailure
// and freezes the line until ResumeAfterBugfix.
func (c *Coordinator) FeatureReady(ctx context.Context, feature, branchRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.merged[feature]; done {
		return nil
	}
	c.pending[feature] = branchRef
	if c.halted {
		// Registered, but nothing merges while the line is frozen.
		return nil
	}
	return c.drain(ctx)
}

// drain merges every pending feature whose dependencies are all merged,
// walking declaration order, until no progress remains. Caller holds c.mu.
func (c *Coordinator) drain(ctx context.Context) error {
	for {
		progressed := false
		for _, name := range c.graph.Features() {
			ref, ok := c.pending[name]
			if !ok {
				continue
			}
			if !c.depsMerged(name) {
				continue
			}
			if err := c.mergeOne(ctx, name, ref); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

func (c *Coordinator) depsMerged(feature string) bool {
	for _, dep := range c.graph.Dependencies(feature) {
		if _, ok := c.merged[dep]; !ok {
			return false
		}
	}
	return true
}

func (c *Coordinator) mergeOne(ctx context.Context, feature, ref string) error {
	outcome, err := c.line.Merge(ctx, ref)
	if err != nil {
		telemetry.MergesTotal.WithLabelValues("conflict").Inc()
		return fmt.Errorf("integrate %s: %w", feature, err)
	}
	delete(c.pending, feature)
	c.merged[feature] = outcome
	telemetry.MergesTotal.WithLabelValues("merged").Inc()
	c.log.Info(ctx, "feature merged",
		zap.String("feature", feature),
		zap.String("branch", ref),
		zap.String("commit", outcome.Commit),
	)

	if c.smoke == nil {
		c.smokePass = true
		return nil
	}
	res, err := c.smoke(ctx, c.line.Ref())
	if err != nil || !res.Passed {
		telemetry.MergesTotal.WithLabelValues("smoke_failed").Inc()
		if err != nil && res.Diagnostics == "" {
			res.Diagnostics = err.Error()
		}
		c.halted = true
		c.haltReason = res.Diagnostics
		c.log.Warn(ctx, "smoke failed, integration line frozen",
			zap.String("feature", feature),
			zap.String("diagnostics", res.Diagnostics),
		)
		return &SmokeFailure{Feature: feature, Result: res}
	}
	// A green smoke is durable. Later failures freeze the line; they never
	// roll this state back.
	c.smokePass = true
	return nil
}

// ResumeAfterBugfix merges a bugfix branch into the frozen line, re-runs
// smoke, and unfreezes on green. The bugfix merge is logged explicitly so
// the line's history stays explainable.
func (c *Coordinator) ResumeAfterBugfix(ctx context.Context, feature, bugfixRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.halted {
		return fmt.Errorf("integrate: line is not frozen")
	}

	outcome, err := c.line.Merge(ctx, bugfixRef)
	if err != nil {
		telemetry.MergesTotal.WithLabelValues("conflict").Inc()
		return fmt.Errorf("merge bugfix for %s: %w", feature, err)
	}
	telemetry.MergesTotal.WithLabelValues("merged").Inc()
	c.log.Info(ctx, "bugfix merged into frozen line",
		zap.String("feature", feature),
		zap.String("branch", bugfixRef),
		zap.String("commit", outcome.Commit),
	)

	if c.smoke != nil {
		res, err := c.smoke(ctx, c.line.Ref())
		if err != nil || !res.Passed {
			telemetry.MergesTotal.WithLabelValues("smoke_failed").Inc()
			if err != nil && res.Diagnostics == "" {
				res.Diagnostics = err.Error()
			}
			c.haltReason = res.Diagnostics
			return &SmokeFailure{Feature: feature, Result: res}
		}
	}

	c.halted = false
	c.haltReason = ""
	c.smokePass = true
	return c.drain(ctx)
}

// SmokeGreen reports whether the line holds a standing green smoke. It only
// ever flips back to false through an explicit freeze, never silently.
func (c *Coordinator) SmokeGreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smokePass && !c.halted
}

// MarkMerged records a feature as already on the line without merging
// anything. Used when a resumed run rebuilds its coordinator over a line
// whose earlier merges persist.
func (c *Coordinator) MarkMerged(feature string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.merged[feature]; ok {
		return
	}
	c.merged[feature] = &MergeOutcome{}
}

// Merged reports whether the feature has been integrated.
func (c *Coordinator) Merged(feature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.merged[feature]
	return ok
}

// Halted reports whether a smoke failure froze the line, and why.
func (c *Coordinator) Halted() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted, c.haltReason
}

// MergedCount returns how many features have been integrated.
func (c *Coordinator) MergedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.merged)
}
