package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/foundry/internal/config"
	"github.com/fyrsmithlabs/foundry/internal/request"
)

func testScoreConfig() config.Score {
	return config.Score{
		FixedThreshold:  0.98,
		MaxIterations:   3,
		MinCoverageBase: 0.6,
	}
}

// uniformValues returns every dimension set to v.
func uniformValues(v float64) map[Dimension]float64 {
	m := make(map[Dimension]float64, len(Dimensions()))
	for _, dim := range Dimensions() {
		m[dim] = v
	}
	return m
}

func TestScorer_Score_ShipAgainstP50(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	qs := s.Score(Input{
		Values:     uniformValues(0.93),
		Iteration:  0,
		Benchmarks: Benchmarks{P50: 0.92, P75: 0.95, Available: true},
	})

	assert.InDelta(t, 0.93, qs.Overall, 1e-9)
	assert.InDelta(t, 0.92, qs.Threshold, 1e-9)
	assert.Equal(t, DecisionShip, qs.Decision)
	assert.Empty(t, qs.FixSet)
}

func TestScorer_Score_IterateAgainstP75(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	qs := s.Score(Input{
		Values:     uniformValues(0.93),
		Iteration:  1,
		Benchmarks: Benchmarks{P50: 0.92, P75: 0.95, Available: true},
	})

	assert.InDelta(t, 0.93, qs.Overall, 1e-9)
	assert.InDelta(t, 0.95, qs.Threshold, 1e-9)
	assert.Equal(t, DecisionIterate, qs.Decision)
	assert.NotEmpty(t, qs.FixSet)
}

func TestScorer_Score_FixedThresholdFromSecondIteration(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	qs := s.Score(Input{
		Values:     uniformValues(0.97),
		Iteration:  2,
		Benchmarks: Benchmarks{P50: 0.5, P75: 0.6, Available: true},
	})

	assert.InDelta(t, 0.98, qs.Threshold, 1e-9)
	assert.Equal(t, DecisionIterate, qs.Decision)
}

func TestScorer_Score_NoBenchmarksIsLowConfidence(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	qs := s.Score(Input{
		Values:    uniformValues(0.99),
		Iteration: 0,
	})

	assert.True(t, qs.LowConfidence)
	assert.InDelta(t, 0.98, qs.Threshold, 1e-9)
	assert.Equal(t, DecisionShip, qs.Decision)
}

func TestScorer_Score_CoverageGateForcesZero(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	values := uniformValues(0.99)
	values[DimTestCoverage] = 0.4

	qs := s.Score(Input{
		Values:     values,
		Complexity: 0,
		Iteration:  0,
		Benchmarks: Benchmarks{P50: 0.5, P75: 0.6, Available: true},
	})

	assert.Zero(t, qs.Overall)
	assert.Contains(t, qs.InstantFailReason, "coverage")
	assert.True(t, qs.Dimensions[DimTestCoverage].InstantFail)
	assert.Equal(t, DecisionIterate, qs.Decision)
	require.NotEmpty(t, qs.FixSet)
	assert.Equal(t, DimTestCoverage, qs.FixSet[0].Dimension)
}

func TestScorer_Score_BlockingVisualFindingForcesZero(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	qs := s.Score(Input{
		Values:                uniformValues(0.99),
		BlockingVisualFinding: true,
		Iteration:             0,
		Benchmarks:            Benchmarks{P50: 0.5, P75: 0.6, Available: true},
	})

	assert.Zero(t, qs.Overall)
	assert.Contains(t, qs.InstantFailReason, "visual")
	assert.True(t, qs.Dimensions[DimVisual].InstantFail)
}

func TestScorer_MinCoverage_ScalesWithComplexity(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	assert.InDelta(t, 0.6, s.MinCoverage(0), 1e-9)
	assert.InDelta(t, 0.95, s.MinCoverage(1), 1e-9)
	assert.Greater(t, s.MinCoverage(0.5), s.MinCoverage(0.1))
}

func TestScorer_Score_ShipWithNotesAfterMaxIterations(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	qs := s.Score(Input{
		Values:     uniformValues(0.90),
		Iteration:  3,
		Benchmarks: Benchmarks{P50: 0.92, P75: 0.95, Available: true},
	})

	assert.Equal(t, DecisionShipWithNotes, qs.Decision)
	assert.NotEmpty(t, qs.FixSet, "shipped notes carry the remaining fix-set")
}

func TestScorer_FixSet_OnlyFailingDimensions(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	values := uniformValues(0.99)
	values[DimIntegration] = 0.5
	values[DimAccessibility] = 0.7

	qs := s.Score(Input{
		Values:     values,
		Iteration:  1,
		Benchmarks: Benchmarks{P50: 0.9, P75: 0.95, Available: true},
	})

	require.Equal(t, DecisionIterate, qs.Decision)
	require.Len(t, qs.FixSet, 2)
	assert.Equal(t, DimIntegration, qs.FixSet[0].Dimension)
	assert.Equal(t, []request.Role{request.RoleIntegrator}, qs.FixSet[0].Roles)
	assert.Equal(t, DimAccessibility, qs.FixSet[1].Dimension)
	assert.NotEmpty(t, qs.FixSet[1].Instruction)
}

func TestScorer_Score_MissingDimensionScoresZero(t *testing.T) {
	s := NewScorer(testScoreConfig(), nil)

	values := uniformValues(1.0)
	delete(values, DimNamingStyle)

	qs := s.Score(Input{
		Values:     values,
		Iteration:  0,
		Benchmarks: Benchmarks{P50: 0.99, P75: 0.99, Available: true},
	})

	assert.Zero(t, qs.Dimensions[DimNamingStyle].Value)
	assert.InDelta(t, 0.95, qs.Overall, 1e-9)
}
