package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/taxonomy"
)

func feat(name string, deps ...string) request.Feature {
	return request.Feature{
		Name:         name,
		Description:  name,
		Roles:        []request.Role{request.RoleBuilder},
		Dependencies: deps,
	}
}

func TestBuild_Adjacency(t *testing.T) {
	g, err := Build([]request.Feature{
		feat("a"),
		feat("b"),
		feat("c", "a", "b"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, g.Features())
	assert.Equal(t, []string{"a", "b"}, g.Dependencies("c"))
	assert.Equal(t, []string{"c"}, g.Dependents("a"))
	assert.Empty(t, g.Dependencies("a"))
	assert.Equal(t, 3, g.Len())
}

func TestBuild_UnknownDependency_AllReported(t *testing.T) {
	_, err := Build([]request.Feature{
		feat("a", "ghost"),
		feat("b", "phantom"),
	})
	require.Error(t, err)

	ve, ok := taxonomy.AsValidation(err)
	require.True(t, ok)
	require.Len(t, ve.Violations, 2)
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "phantom")
	assert.Contains(t, err.Error(), ErrUnknownDependency.Error())
}

func TestBuild_Cycle_NamesMember(t *testing.T) {
	_, err := Build([]request.Feature{
		feat("a", "c"),
		feat("b", "a"),
		feat("c", "b"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclicDependency))
	// At least one cycle member must be named.
	assert.Contains(t, err.Error(), "a")
}

func TestBuild_SelfCycle(t *testing.T) {
	_, err := Build([]request.Feature{feat("a", "a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclicDependency))
	assert.Contains(t, err.Error(), "a")
}

func TestBuild_DiamondIsAcyclic(t *testing.T) {
	_, err := Build([]request.Feature{
		feat("base"),
		feat("left", "base"),
		feat("right", "base"),
		feat("top", "left", "right"),
	})
	require.NoError(t, err)
}

func TestGraph_ReturnedSlicesAreCopies(t *testing.T) {
	g, err := Build([]request.Feature{feat("a"), feat("b", "a")})
	require.NoError(t, err)

	deps := g.Dependencies("b")
	deps[0] = "mutated"
	assert.Equal(t, []string{"a"}, g.Dependencies("b"))
}
