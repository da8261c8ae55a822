package integrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/foundry/internal/graph"
	"github.com/fyrsmithlabs/foundry/internal/logging"
	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/verify"
)

func buildGraph(t *testing.T, features []request.Feature) *graph.Graph {
	t.Helper()
	g, err := graph.Build(features)
	require.NoError(t, err)
	return g
}

func passingSmoke(context.Context, string) (verify.Result, error) {
	return verify.Result{Stage: verify.StageRuntime, Passed: true}, nil
}

func TestCoordinator_MergesInDependencyOrder(t *testing.T) {
	g := buildGraph(t, []request.Feature{
		{Name: "auth", Roles: []request.Role{request.RoleBuilder}},
		{Name: "profile", Roles: []request.Role{request.RoleBuilder}, Dependencies: []string{"auth"}},
	})
	line := NewMemoryLine("integration")
	c := NewCoordinator(line, g, passingSmoke, logging.NewNop())
	ctx := context.Background()

	// The dependent finishes first. It must wait.
	require.NoError(t, c.FeatureReady(ctx, "profile", "foundry/profile/builder"))
	assert.False(t, c.Merged("profile"))
	assert.Empty(t, line.MergedBranches())

	require.NoError(t, c.FeatureReady(ctx, "auth", "foundry/auth/builder"))
	assert.True(t, c.Merged("auth"))
	assert.True(t, c.Merged("profile"))
	assert.Equal(t, []string{"foundry/auth/builder", "foundry/profile/builder"}, line.MergedBranches())
}

func TestCoordinator_IndependentFeaturesMergeOnArrival(t *testing.T) {
	g := buildGraph(t, []request.Feature{
		{Name: "a", Roles: []request.Role{request.RoleBuilder}},
		{Name: "b", Roles: []request.Role{request.RoleBuilder}},
	})
	line := NewMemoryLine("integration")
	c := NewCoordinator(line, g, passingSmoke, logging.NewNop())
	ctx := context.Background()

	require.NoError(t, c.FeatureReady(ctx, "b", "foundry/b/builder"))
	assert.True(t, c.Merged("b"))
	require.NoError(t, c.FeatureReady(ctx, "a", "foundry/a/builder"))
	assert.True(t, c.Merged("a"))
}

func TestCoordinator_MarkMerged_SatisfiesDependents(t *testing.T) {
	g := buildGraph(t, []request.Feature{
		{Name: "auth", Roles: []request.Role{request.RoleBuilder}},
		{Name: "profile", Roles: []request.Role{request.RoleBuilder}, Dependencies: []string{"auth"}},
	})
	line := NewMemoryLine("integration")
	c := NewCoordinator(line, g, passingSmoke, logging.NewNop())

	// auth already sits on the line from an earlier pass; nothing re-merges.
	c.MarkMerged("auth")
	assert.True(t, c.Merged("auth"))
	assert.Empty(t, line.MergedBranches())

	require.NoError(t, c.FeatureReady(context.Background(), "profile", "foundry/profile/builder"))
	assert.True(t, c.Merged("profile"))
	assert.Equal(t, []string{"foundry/profile/builder"}, line.MergedBranches())
}

func TestCoordinator_SmokeFailureFreezesLine(t *testing.T) {
	g := buildGraph(t, []request.Feature{
		{Name: "a", Roles: []request.Role{request.RoleBuilder}},
		{Name: "b", Roles: []request.Role{request.RoleBuilder}},
	})
	line := NewMemoryLine("integration")

	failNext := true
	smoke := func(context.Context, string) (verify.Result, error) {
		if failNext {
			return verify.Result{Stage: verify.StageRuntime, Passed: false, Diagnostics: "boot loop"}, nil
		}
		return verify.Result{Stage: verify.StageRuntime, Passed: true}, nil
	}
	c := NewCoordinator(line, g, smoke, logging.NewNop())
	ctx := context.Background()

	err := c.FeatureReady(ctx, "a", "foundry/a/builder")
	var sf *SmokeFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, "a", sf.Feature)

	halted, reason := c.Halted()
	assert.True(t, halted)
	assert.Equal(t, "boot loop", reason)

	// The merged state stands; only further merging is frozen.
	assert.True(t, c.Merged("a"))
	require.NoError(t, c.FeatureReady(ctx, "b", "foundry/b/builder"))
	assert.False(t, c.Merged("b"), "no merges while frozen")

	failNext = false
	require.NoError(t, c.ResumeAfterBugfix(ctx, "a", "foundry/bugfix/a/bugfixer"))
	halted, _ = c.Halted()
	assert.False(t, halted)
	assert.True(t, c.Merged("b"), "queued features drain after resume")
	assert.True(t, c.SmokeGreen())
}

func TestCoordinator_ConflictSurfacesError(t *testing.T) {
	g := buildGraph(t, []request.Feature{
		{Name: "a", Roles: []request.Role{request.RoleBuilder}},
	})
	line := NewMemoryLine("integration")
	line.FailWith("foundry/a/builder", "diverged from integration")
	c := NewCoordinator(line, g, nil, logging.NewNop())

	err := c.FeatureReady(context.Background(), "a", "foundry/a/builder")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMergeConflict)
	assert.False(t, c.Merged("a"))
}

func TestCoordinator_ResumeWithoutFreezeFails(t *testing.T) {
	g := buildGraph(t, []request.Feature{
		{Name: "a", Roles: []request.Role{request.RoleBuilder}},
	})
	c := NewCoordinator(NewMemoryLine("integration"), g, nil, logging.NewNop())

	err := c.ResumeAfterBugfix(context.Background(), "a", "foundry/bugfix/a/bugfixer")
	assert.Error(t, err)
}
