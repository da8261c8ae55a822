package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/retry"
	"github.com/fyrsmithlabs/foundry/internal/score"
)

// FeatureStatus tracks one feature through its lifecycle.
type FeatureStatus string

const (
	FeaturePending    FeatureStatus = "pending"
	FeatureDispatched FeatureStatus = "dispatched"
	FeatureInProgress FeatureStatus = "in-progress"
	FeatureMerged     FeatureStatus = "merged"
	FeatureFailed     FeatureStatus = "failed"
)

// RunStatus is the overall state of a run.
type RunStatus string

const (
	RunRunning          RunStatus = "running"
	RunAwaitingDecision RunStatus = "awaiting-decision"
	RunCompleted        RunStatus = "completed"
	RunFailed           RunStatus = "failed"
)

// RunState is the persisted snapshot of a run. It carries everything a human
// needs to answer an escalation and everything the engine needs to resume.
type RunState struct {
	RunID       string                   `json:"run_id"`
	RequestName string                   `json:"request_name"`
	Status      RunStatus                `json:"status"`
	Wave        int                      `json:"wave"`
	Features    map[string]FeatureStatus `json:"features"`
	Escalations []retry.EscalationRecord `json:"escalations,omitempty"`
	Score       *score.QualityScore      `json:"score,omitempty"`
	// Notes carries the outstanding fix-set when a run ships with notes.
	Notes      []string   `json:"notes,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func newRunState(runID string, req *request.Request) *RunState {
	features := make(map[string]FeatureStatus, len(req.Features))
	for _, f := range req.Features {
		features[f.Name] = FeaturePending
	}
	return &RunState{
		RunID:       runID,
		RequestName: req.Name,
		Status:      RunRunning,
		Features:    features,
		StartedAt:   time.Now().UTC(),
	}
}

// SaveState writes the run state as JSON, atomically via rename.
func SaveState(state *RunState, path string) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace run state: %w", err)
	}
	return nil
}

// LoadState reads a run state written by SaveState.
func LoadState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode run state %s: %w", path, err)
	}
	return &state, nil
}
