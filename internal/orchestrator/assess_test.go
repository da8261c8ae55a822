package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/foundry/internal/score"
)

func TestCommandAssessor_ParsesReport(t *testing.T) {
	a, err := NewCommandAssessor([]string{"sh", "-c",
		`echo '{"values":{"functionality":0.93},"complexity":0.4}'`})
	require.NoError(t, err)

	got, err := a.Assess(context.Background(), "integration")
	require.NoError(t, err)
	assert.InDelta(t, 0.93, got.Values[score.DimFunctionality], 1e-9)
	assert.InDelta(t, 0.4, got.Complexity, 1e-9)
	assert.False(t, got.BlockingVisualFinding)
}

func TestCommandAssessor_FailureIsError(t *testing.T) {
	a, err := NewCommandAssessor([]string{"sh", "-c", "echo broken >&2; exit 1"})
	require.NoError(t, err)

	_, err = a.Assess(context.Background(), "integration")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestCommandAssessor_GarbageOutputIsError(t *testing.T) {
	a, err := NewCommandAssessor([]string{"sh", "-c", "echo not-json"})
	require.NoError(t, err)

	_, err = a.Assess(context.Background(), "integration")
	assert.Error(t, err)
}
