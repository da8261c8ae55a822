// Package config provides configuration loading for foundry.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a foundry run.
type Config struct {
	Dispatch Dispatch `koanf:"dispatch"`
	Budgets  Budgets  `koanf:"budgets"`
	Workers  Workers  `koanf:"workers"`
	Merge    Merge    `koanf:"merge"`
	Verify   Verify   `koanf:"verify"`
	Score    Score    `koanf:"score"`
	Store    Store    `koanf:"store"`
	Events   Events   `koanf:"events"`
	Metrics  Metrics  `koanf:"metrics"`
	Logging  Logging  `koanf:"logging"`
}

// Dispatch controls worker dispatch parallelism.
type Dispatch struct {
	// MaxParallel caps concurrent work items within a wave. 0 means unbounded.
	MaxParallel int `koanf:"max_parallel"`

	// LaunchRate limits work item launches per second so bursts of parallel
	// workers don't stampede external runners. 0 disables rate limiting.
	LaunchRate float64 `koanf:"launch_rate"`

	// BranchPrefix prefixes every isolation branch name.
	BranchPrefix string `koanf:"branch_prefix"`
}

// Budgets sets max attempts per retry phase.
type Budgets struct {
	FeatureBuild      int `koanf:"feature_build"`
	RuntimeVerify     int `koanf:"runtime_verify"`
	InteractiveUI     int `koanf:"interactive_ui"`
	QualityScoreFix   int `koanf:"quality_score_fix"`
	TargetedBugfix    int `koanf:"targeted_bugfix"`
}

// Workers maps roles to the external commands that execute their work
// items. Items are passed as JSON on stdin; the command reports JSON on
// stdout.
type Workers struct {
	Commands map[string]string `koanf:"commands"`
}

// Verify configures the external checker command per verification stage.
// The integration ref is appended as the last argument.
type Verify struct {
	Runtime       string `koanf:"runtime"`
	DataIntegrity string `koanf:"data_integrity"`
	InteractiveUI string `koanf:"interactive_ui"`
	Visual        string `koanf:"visual"`
}

// Merge controls the integration coordinator.
type Merge struct {
	// Line is the integration branch name.
	Line string `koanf:"line"`

	// RepoPath is the git repository holding branches. Empty selects the
	// in-memory line driver (tests, dry runs).
	RepoPath string `koanf:"repo_path"`

	// SmokeTimeout bounds each post-merge smoke check.
	SmokeTimeout Duration `koanf:"smoke_timeout"`
}

// Score controls the quality scorer.
type Score struct {
	// FixedThreshold is the floor used from iteration 2 onward.
	FixedThreshold float64 `koanf:"fixed_threshold"`

	// MaxIterations converts Iterate into ShipWithNotes when exceeded.
	MaxIterations int `koanf:"max_iterations"`

	// MinCoverageBase is the complexity-scaled minimum for the automated-test
	// coverage instant-fail gate, before scaling.
	MinCoverageBase float64 `koanf:"min_coverage_base"`

	// AssessCommand is the external command that measures quality
	// dimensions. The integration ref is appended as the last argument.
	AssessCommand string `koanf:"assess_command"`
}

// Store selects and configures learning store backends.
type Store struct {
	// Backend is "local" or "shared".
	Backend string `koanf:"backend"`

	// LocalPath is the sqlite file for the local backend.
	LocalPath string `koanf:"local_path"`

	// SharedURL is the NATS URL for the shared backend.
	SharedURL string `koanf:"shared_url"`

	// Bucket is the JetStream KV bucket for the shared backend.
	Bucket string `koanf:"bucket"`
}

// Events configures the optional run-event stream.
type Events struct {
	// URL is the NATS URL for event publishing. Empty disables events.
	URL string `koanf:"url"`
}

// Metrics configures the Prometheus listener.
type Metrics struct {
	// Addr is the listen address for /metrics. Empty disables the listener.
	Addr string `koanf:"addr"`
}

// Logging mirrors internal/logging knobs that are user-facing.
type Logging struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// NewDefaultConfig returns the built-in defaults. Every budget matches the
// documented default: feature-build 3, runtime-verification 5,
// interactive-UI-testing 5, quality-score-fix 3, targeted-bugfix 3.
func NewDefaultConfig() *Config {
	return &Config{
		Dispatch: Dispatch{
			MaxParallel:  8,
			LaunchRate:   4,
			BranchPrefix: "foundry",
		},
		Budgets: Budgets{
			FeatureBuild:    3,
			RuntimeVerify:   5,
			InteractiveUI:   5,
			QualityScoreFix: 3,
			TargetedBugfix:  3,
		},
		Merge: Merge{
			Line:         "integration",
			SmokeTimeout: Duration(2 * time.Minute),
		},
		Score: Score{
			FixedThreshold:  0.98,
			MaxIterations:   3,
			MinCoverageBase: 0.6,
		},
		Store: Store{
			Backend:   "local",
			LocalPath: "foundry.db",
			Bucket:    "foundry-patterns",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for errors. All problems are reported in
// the returned error, not just the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Dispatch.MaxParallel < 0 {
		problems = append(problems, "dispatch.max_parallel cannot be negative")
	}
	if c.Dispatch.LaunchRate < 0 {
		problems = append(problems, "dispatch.launch_rate cannot be negative")
	}
	for name, v := range map[string]int{
		"budgets.feature_build":     c.Budgets.FeatureBuild,
		"budgets.runtime_verify":    c.Budgets.RuntimeVerify,
		"budgets.interactive_ui":    c.Budgets.InteractiveUI,
		"budgets.quality_score_fix": c.Budgets.QualityScoreFix,
		"budgets.targeted_bugfix":   c.Budgets.TargetedBugfix,
	} {
		if v < 1 {
			problems = append(problems, fmt.Sprintf("%s must be >= 1", name))
		}
	}
	if c.Merge.Line == "" {
		problems = append(problems, "merge.line cannot be empty")
	}
	if c.Merge.SmokeTimeout.Duration() <= 0 {
		problems = append(problems, "merge.smoke_timeout must be > 0")
	}
	if c.Score.FixedThreshold <= 0 || c.Score.FixedThreshold > 1 {
		problems = append(problems, "score.fixed_threshold must be in (0,1]")
	}
	if c.Score.MinCoverageBase < 0 || c.Score.MinCoverageBase > 1 {
		problems = append(problems, "score.min_coverage_base must be in [0,1]")
	}
	switch c.Store.Backend {
	case "local":
		if c.Store.LocalPath == "" {
			problems = append(problems, "store.local_path required for local backend")
		}
	case "shared":
		if c.Store.SharedURL == "" {
			problems = append(problems, "store.shared_url required for shared backend")
		}
		if c.Store.Bucket == "" {
			problems = append(problems, "store.bucket required for shared backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.backend must be 'local' or 'shared', got %q", c.Store.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %v", problems)
	}
	return nil
}
