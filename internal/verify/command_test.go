package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandStage_EmptyCommand(t *testing.T) {
	_, err := NewCommandStage(StageRuntime, nil)
	require.Error(t, err)
}

func TestCommandStage_ParsesVerdict(t *testing.T) {
	stage, err := NewCommandStage(StageRuntime, []string{
		"sh", "-c", `echo '{"passed":true,"metrics":{"coverage":0.8}}'`,
	})
	require.NoError(t, err)

	result, err := stage.Check(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 0.8, result.Metrics["coverage"])
}

func TestCommandStage_BlockingVerdict(t *testing.T) {
	stage, err := NewCommandStage(StageVisual, []string{
		"sh", "-c", `echo '{"passed":false,"blocking":true,"diagnostics":"layout broken"}'`,
	})
	require.NoError(t, err)

	result, err := stage.Check(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.True(t, result.Blocking)
	assert.Equal(t, "layout broken", result.Diagnostics)
}

func TestCommandStage_GarbageOutputIsFailureNotError(t *testing.T) {
	stage, err := NewCommandStage(StageRuntime, []string{"sh", "-c", `echo not-json; exit 3`})
	require.NoError(t, err)

	result, err := stage.Check(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Diagnostics, "no verdict")
}
