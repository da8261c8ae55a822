package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/foundry/internal/retry"
)

func TestRunState_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "run.json")

	state := &RunState{
		RunID:       "run-1",
		RequestName: "demo",
		Status:      RunAwaitingDecision,
		Wave:        1,
		Features: map[string]FeatureStatus{
			"auth":    FeatureMerged,
			"profile": FeatureDispatched,
		},
		Escalations: []retry.EscalationRecord{{
			Phase:           retry.PhaseFeatureBuild,
			Subject:         "profile/builder",
			LastDiagnostics: "compile error",
			RaisedAt:        time.Now().UTC(),
		}},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, SaveState(state, path))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, state.RunID, loaded.RunID)
	assert.Equal(t, RunAwaitingDecision, loaded.Status)
	assert.Equal(t, FeatureMerged, loaded.Features["auth"])
	require.Len(t, loaded.Escalations, 1)
	assert.Equal(t, "profile/builder", loaded.Escalations[0].Subject)
}

func TestLoadState_MissingFile(t *testing.T) {
	_, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
