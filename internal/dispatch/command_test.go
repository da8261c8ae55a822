package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

func TestCommandWorker_ParsesReport(t *testing.T) {
	w, err := NewCommandWorker(request.RoleBuilder,
		[]string{"sh", "-c", `echo '{"status":"success","branch_ref":"foundry/auth/builder"}'`})
	require.NoError(t, err)

	res, err := w.Execute(context.Background(), WorkItem{ID: "1", Feature: "auth"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "foundry/auth/builder", res.BranchRef)
}

func TestCommandWorker_GarbageOutputIsFailure(t *testing.T) {
	w, err := NewCommandWorker(request.RoleBuilder,
		[]string{"sh", "-c", `echo not-json; exit 3`})
	require.NoError(t, err)

	res, err := w.Execute(context.Background(), WorkItem{ID: "1", Feature: "auth"})
	require.NoError(t, err, "a broken runner burns budget, it does not crash the run")
	assert.Equal(t, StatusFailure, res.Status)
	assert.Contains(t, res.Diagnostics, "no report")
}

func TestCommandWorker_ReceivesItemOnStdin(t *testing.T) {
	// The runner echoes the feature it read back as its branch ref.
	script := `feature=$(cat - | sed 's/.*"feature":"\([^"]*\)".*/\1/'); printf '{"status":"success","branch_ref":"%s"}' "$feature"`
	w, err := NewCommandWorker(request.RoleBuilder, []string{"sh", "-c", script})
	require.NoError(t, err)

	res, err := w.Execute(context.Background(), WorkItem{ID: "1", Feature: "auth"})
	require.NoError(t, err)
	assert.Equal(t, "auth", res.BranchRef)
}

func TestNewCommandWorker_Validation(t *testing.T) {
	_, err := NewCommandWorker(request.Role("janitor"), []string{"true"})
	assert.Error(t, err)

	_, err = NewCommandWorker(request.RoleBuilder, nil)
	assert.Error(t, err)
}
