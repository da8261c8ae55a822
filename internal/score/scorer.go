package score

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/foundry/internal/config"
	"github.com/fyrsmithlabs/foundry/internal/telemetry"
)

// Input is everything one scoring pass needs.
type Input struct {
	// Values holds the measured value per dimension in [0, 1]. Missing
	// dimensions score 0.
	Values map[Dimension]float64

	// Complexity in [0, 1] scales the minimum acceptable coverage.
	Complexity float64

	// BlockingVisualFinding forces an instant fail regardless of the
	// weighted sum.
	BlockingVisualFinding bool

	// Iteration is the zero-based scoring iteration for this run.
	Iteration int

	// Benchmarks supplies p50/p75 from cross-run history.
	Benchmarks Benchmarks
}

// Scorer computes quality scores against the iteration threshold schedule.
type Scorer struct {
	cfg config.Score
	log *zap.Logger
}

// NewScorer returns a Scorer using the given score configuration.
func NewScorer(cfg config.Score, log *zap.Logger) *Scorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{cfg: cfg, log: log}
}

// MinCoverage returns the complexity-scaled minimum acceptable coverage:
// the configured base at complexity 0, rising linearly toward 0.95 at
// complexity 1.
func (s *Scorer) MinCoverage(complexity float64) float64 {
	c := clamp01(complexity)
	return s.cfg.MinCoverageBase + (0.95-s.cfg.MinCoverageBase)*c
}

// Threshold returns the passing threshold for the given iteration. Iteration
// 0 compares against the p50 benchmark, iteration 1 against p75, and every
// later iteration against the fixed threshold. Without benchmark history the
// fixed threshold is used and the result is flagged low confidence.
func (s *Scorer) Threshold(iteration int, b Benchmarks) (threshold float64, lowConfidence bool) {
	if iteration >= 2 {
		return s.cfg.FixedThreshold, false
	}
	if !b.Available {
		return s.cfg.FixedThreshold, true
	}
	if iteration == 0 {
		return b.P50, false
	}
	return b.P75, false
}

// Score computes the weighted score, applies instant-fail gates, and decides
// ship vs. iterate for the given iteration.
func (s *Scorer) Score(in Input) *QualityScore {
	threshold, lowConf := s.Threshold(in.Iteration, in.Benchmarks)

	qs := &QualityScore{
		Dimensions:    make(map[Dimension]DimensionScore, len(defaultWeights)),
		Threshold:     threshold,
		LowConfidence: lowConf,
		Iteration:     in.Iteration,
	}

	var overall float64
	for _, dim := range Dimensions() {
		ds := DimensionScore{
			Weight: defaultWeights[dim],
			Value:  clamp01(in.Values[dim]),
		}
		qs.Dimensions[dim] = ds
		overall += ds.Weight * ds.Value
	}

	// Instant-fail gates force the overall score to exactly 0 with a
	// specific reason. The weighted sum cannot rescue a gated result.
	minCov := s.MinCoverage(in.Complexity)
	switch {
	case qs.Dimensions[DimTestCoverage].Value < minCov:
		qs.InstantFailReason = fmt.Sprintf(
			"automated-test coverage %.2f below complexity-scaled minimum %.2f",
			qs.Dimensions[DimTestCoverage].Value, minCov)
		qs.markInstantFail(DimTestCoverage)
		overall = 0
	case in.BlockingVisualFinding:
		qs.InstantFailReason = "blocking visual finding reported"
		qs.markInstantFail(DimVisual)
		overall = 0
	}
	qs.Overall = overall

	switch {
	case qs.Overall >= threshold && qs.InstantFailReason == "":
		qs.Decision = DecisionShip
	case in.Iteration >= s.cfg.MaxIterations:
		qs.Decision = DecisionShipWithNotes
	default:
		qs.Decision = DecisionIterate
	}

	if qs.Decision != DecisionShip {
		qs.FixSet = s.fixSet(qs)
	}

	telemetry.QualityScore.Set(qs.Overall)
	s.log.Info("quality score computed",
		zap.Float64("overall", qs.Overall),
		zap.Float64("threshold", threshold),
		zap.Int("iteration", in.Iteration),
		zap.String("decision", string(qs.Decision)),
		zap.Bool("low_confidence", lowConf),
	)
	if qs.InstantFailReason != "" {
		s.log.Warn("instant-fail gate tripped", zap.String("reason", qs.InstantFailReason))
	}
	return qs
}

// fixSet returns the minimal fix-set: only dimensions below the threshold,
// each mapped to its responsible roles with a concrete instruction. When no
// individual dimension is below the threshold, the single lowest-scoring
// dimension carries the fix.
func (s *Scorer) fixSet(qs *QualityScore) []FixItem {
	var failing []Dimension
	for _, dim := range Dimensions() {
		ds := qs.Dimensions[dim]
		if ds.InstantFail || ds.Value < qs.Threshold {
			failing = append(failing, dim)
		}
	}
	if len(failing) == 0 {
		lowest := Dimensions()[0]
		for _, dim := range Dimensions() {
			if qs.Dimensions[dim].Value < qs.Dimensions[lowest].Value {
				lowest = dim
			}
		}
		failing = []Dimension{lowest}
	}
	sort.Slice(failing, func(i, j int) bool {
		return qs.Dimensions[failing[i]].Value < qs.Dimensions[failing[j]].Value
	})

	items := make([]FixItem, 0, len(failing))
	for _, dim := range failing {
		items = append(items, FixItem{
			Dimension:   dim,
			Value:       qs.Dimensions[dim].Value,
			Roles:       responsibleRoles[dim],
			Instruction: fixInstructions[dim],
		})
	}
	return items
}

func (qs *QualityScore) markInstantFail(dim Dimension) {
	ds := qs.Dimensions[dim]
	ds.InstantFail = true
	qs.Dimensions[dim] = ds
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
