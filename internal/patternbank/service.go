package patternbank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/score"
	"github.com/fyrsmithlabs/foundry/internal/taxonomy"
	"github.com/fyrsmithlabs/foundry/internal/telemetry"
)

// Suggestion is a pattern offered to a worker, annotated with its confidence
// at read time.
type Suggestion struct {
	Pattern    *Pattern
	Confidence int
	// AutoApply is set when confidence clears the auto-apply threshold.
	AutoApply bool
	// LowConfidence marks suggestions served from a degraded store.
	LowConfidence bool
}

// Service is the learning store front. Writes always land in the local
// store; when a shared store is configured they are mirrored there too.
// A shared-store failure flips the service into degraded local-only mode
// instead of failing the run.
type Service struct {
	local    Store
	shared   Store
	log      *zap.Logger
	now      func() time.Time
	degraded atomic.Bool
}

// NewService returns a Service over the local store and an optional shared
// store (nil for local-only mode).
func NewService(local Store, shared Store, log *zap.Logger) (*Service, error) {
	if local == nil {
		return nil, errors.New("patternbank: local store is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		local:  local,
		shared: shared,
		log:    log,
		now:    time.Now,
	}, nil
}

// Degraded reports whether the shared store has been marked unreachable.
func (s *Service) Degraded() bool {
	return s.degraded.Load()
}

// Record stores one observed pattern. Re-recording the same (role,
// description) merges: the frequency increments and updated_at advances. A
// recording whose success contradicts the stored outcome triggers
// false-memory handling: the frequency drops by 2 (floor 0), the pattern is
// flagged, and the contradiction is counted. The later outcome wins.
func (s *Service) Record(ctx context.Context, role request.Role, description, outcome string, success bool) (*Pattern, error) {
	now := s.now().UTC()
	id := PatternID(role, description)

	existing, err := s.read().GetPattern(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		if !s.degrade(err) {
			return nil, fmt.Errorf("read pattern %s: %w", id, err)
		}
		existing, err = s.local.GetPattern(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("read pattern %s: %w", id, err)
		}
	}

	var p *Pattern
	switch {
	case existing == nil:
		p = &Pattern{
			ID:          id,
			SourceRole:  role,
			Description: description,
			Outcome:     outcome,
			Success:     success,
			Frequency:   1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	case existing.Success == success:
		p = existing
		p.Frequency++
		p.Outcome = outcome
		p.UpdatedAt = now
	default:
		// Contradiction. The pattern claimed one polarity and reality
		// reported the other.
		p = existing
		p.Frequency -= 2
		if p.Frequency < 0 {
			p.Frequency = 0
		}
		p.FalseMemory = true
		p.Contradictions++
		p.Outcome = outcome
		p.Success = success
		p.UpdatedAt = now
		s.log.Warn("false memory detected",
			zap.String("pattern", id),
			zap.String("role", string(role)),
			zap.Int("contradictions", p.Contradictions),
		)
	}

	if err := s.local.PutPattern(ctx, p); err != nil {
		return nil, fmt.Errorf("store pattern %s: %w", id, err)
	}
	s.mirror(func(st Store) error { return st.PutPattern(ctx, p) })
	return p, nil
}

// Suggestions returns patterns for the role with confidence at or above the
// suggest threshold, highest confidence first. Patterns below the threshold
// are withheld.
func (s *Service) Suggestions(ctx context.Context, role request.Role) ([]Suggestion, error) {
	patterns, err := s.read().ListPatterns(ctx, role)
	if err != nil {
		if !s.degrade(err) {
			return nil, fmt.Errorf("list patterns: %w", err)
		}
		if patterns, err = s.local.ListPatterns(ctx, role); err != nil {
			return nil, taxonomy.StoreUnavailable(err)
		}
	}

	now := s.now()
	degraded := s.Degraded()
	var out []Suggestion
	for _, p := range patterns {
		conf := p.Confidence(now)
		if conf < ConfidenceSuggest {
			continue
		}
		out = append(out, Suggestion{
			Pattern:       p,
			Confidence:    conf,
			AutoApply:     conf >= ConfidenceAutoApply && !degraded,
			LowConfidence: degraded,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// Hints renders the role's suggestions as worker-facing strings. Advice is
// best-effort: a store failure yields no hints rather than an error.
func (s *Service) Hints(ctx context.Context, role request.Role) []string {
	sugs, err := s.Suggestions(ctx, role)
	if err != nil {
		s.log.Warn("suggestion lookup failed", zap.String("role", string(role)), zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(sugs))
	for _, sg := range sugs {
		verb := "consider"
		if sg.AutoApply {
			verb = "apply"
		}
		out = append(out, fmt.Sprintf("%s (confidence %d): %s", verb, sg.Confidence, sg.Pattern.Description))
	}
	return out
}

// Filter narrows a pattern query. Role restricts to one source role, zero
// values leave a field unconstrained.
type Filter struct {
	Role request.Role
	// MinFrequency keeps only patterns observed at least this many times.
	MinFrequency int
	// MaxAge keeps only patterns updated within this window.
	MaxAge time.Duration
}

// Query lists patterns matching the filter, most recently updated first.
func (s *Service) Query(ctx context.Context, f Filter) ([]*Pattern, error) {
	patterns, err := s.read().ListPatterns(ctx, f.Role)
	if err != nil {
		if !s.degrade(err) {
			return nil, fmt.Errorf("list patterns: %w", err)
		}
		if patterns, err = s.local.ListPatterns(ctx, f.Role); err != nil {
			return nil, taxonomy.StoreUnavailable(err)
		}
	}

	now := s.now()
	out := patterns[:0]
	for _, p := range patterns {
		if f.MinFrequency > 0 && p.Frequency < f.MinFrequency {
			continue
		}
		if f.MaxAge > 0 && now.Sub(p.UpdatedAt) > f.MaxAge {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// RolePerformance aggregates pattern outcomes for one role.
type RolePerformance struct {
	Role        request.Role
	Patterns    int
	Successes   int
	Failures    int
	SuccessRate float64
}

// Performance summarizes recorded outcomes per role, ordered by role name.
// Roles with no recorded patterns are absent.
func (s *Service) Performance(ctx context.Context) ([]RolePerformance, error) {
	patterns, err := s.read().ListPatterns(ctx, "")
	if err != nil {
		if !s.degrade(err) {
			return nil, fmt.Errorf("list patterns: %w", err)
		}
		if patterns, err = s.local.ListPatterns(ctx, ""); err != nil {
			return nil, taxonomy.StoreUnavailable(err)
		}
	}

	byRole := make(map[request.Role]*RolePerformance)
	for _, p := range patterns {
		perf := byRole[p.SourceRole]
		if perf == nil {
			perf = &RolePerformance{Role: p.SourceRole}
			byRole[p.SourceRole] = perf
		}
		perf.Patterns++
		if p.Success {
			perf.Successes++
		} else {
			perf.Failures++
		}
	}

	out := make([]RolePerformance, 0, len(byRole))
	for _, perf := range byRole {
		perf.SuccessRate = float64(perf.Successes) / float64(perf.Patterns)
		out = append(out, *perf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

// Prune deletes every flagged, never-reinforced pattern and returns how many
// were removed.
func (s *Service) Prune(ctx context.Context) (int, error) {
	patterns, err := s.local.ListPatterns(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list patterns: %w", err)
	}

	pruned := 0
	for _, p := range patterns {
		if !p.Prunable() {
			continue
		}
		if err := s.local.DeletePattern(ctx, p.ID); err != nil {
			return pruned, fmt.Errorf("prune %s: %w", p.ID, err)
		}
		s.mirror(func(st Store) error { return st.DeletePattern(ctx, p.ID) })
		pruned++
		s.log.Info("pruned false memory", zap.String("pattern", p.ID))
	}
	return pruned, nil
}

// CompleteRun records a finished run in the history that benchmark
// percentiles are computed from.
func (s *Service) CompleteRun(ctx context.Context, rec *RunRecord) error {
	if err := s.local.PutRun(ctx, rec); err != nil {
		return fmt.Errorf("store run %s: %w", rec.ID, err)
	}
	s.mirror(func(st Store) error { return st.PutRun(ctx, rec) })
	return nil
}

// Benchmarks recomputes the p50/p75 score benchmarks from the full run
// history. With no history, Available is false and callers fall back to
// fixed thresholds. A degraded service reports the same: the local mirror
// misses the shared history, so its percentiles cannot gate a ship decision.
func (s *Service) Benchmarks(ctx context.Context) (score.Benchmarks, error) {
	if s.Degraded() {
		return score.Benchmarks{}, nil
	}
	runs, err := s.read().ListRuns(ctx)
	if err != nil {
		if !s.degrade(err) {
			return score.Benchmarks{}, fmt.Errorf("list runs: %w", err)
		}
		return score.Benchmarks{}, nil
	}
	if len(runs) == 0 {
		return score.Benchmarks{}, nil
	}

	scores := make([]float64, 0, len(runs))
	for _, r := range runs {
		scores = append(scores, r.OverallScore)
	}
	sort.Float64s(scores)
	return score.Benchmarks{
		P50:       percentile(scores, 0.50),
		P75:       percentile(scores, 0.75),
		Available: true,
	}, nil
}

// read returns the preferred read backend: shared when configured and
// healthy, local otherwise.
func (s *Service) read() Store {
	if s.shared != nil && !s.degraded.Load() {
		return s.shared
	}
	return s.local
}

// mirror applies fn to the shared store when one is configured and healthy.
// A failure degrades the service rather than propagating.
func (s *Service) mirror(fn func(Store) error) {
	if s.shared == nil || s.degraded.Load() {
		return
	}
	if err := fn(s.shared); err != nil {
		s.degrade(err)
	}
}

// MarkDegraded records that a configured shared backend is unreachable. Used
// at startup when the connection itself fails and no shared store could be
// built; the service serves local-only and flags its output accordingly.
func (s *Service) MarkDegraded(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		telemetry.StoreDegraded.Set(1)
		s.log.Warn("shared store unreachable, continuing in degraded local-only mode", zap.Error(err))
	}
}

// degrade flips into local-only mode if a shared store exists. Returns true
// when the error was absorbed by degrading.
func (s *Service) degrade(err error) bool {
	if s.shared == nil {
		return false
	}
	s.MarkDegraded(err)
	return true
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
