package patternbank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

// brokenStore fails every operation, standing in for an unreachable shared
// backend.
type brokenStore struct{}

var errBroken = errors.New("connection refused")

func (brokenStore) GetPattern(context.Context, string) (*Pattern, error) { return nil, errBroken }
func (brokenStore) PutPattern(context.Context, *Pattern) error           { return errBroken }
func (brokenStore) DeletePattern(context.Context, string) error          { return errBroken }
func (brokenStore) ListPatterns(context.Context, request.Role) ([]*Pattern, error) {
	return nil, errBroken
}
func (brokenStore) PutRun(context.Context, *RunRecord) error      { return errBroken }
func (brokenStore) ListRuns(context.Context) ([]*RunRecord, error) { return nil, errBroken }
func (brokenStore) Close() error                                   { return nil }

func newTestService(t *testing.T, shared Store) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryStore(), shared, nil)
	require.NoError(t, err)
	return svc
}

func TestService_Record_MergesRepeatObservations(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.Record(ctx, request.RoleBuilder, "stage schema migrations first", "merge went clean", true)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Frequency)

	second, err := svc.Record(ctx, request.RoleBuilder, "Stage Schema  migrations first", "merge went clean again", true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Frequency)
	assert.Equal(t, "merge went clean again", second.Outcome)
}

func TestService_Record_ContradictionFlagsFalseMemory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Record(ctx, request.RoleBuilder, "skip smoke on doc-only merges", "fine", true)
		require.NoError(t, err)
	}

	p, err := svc.Record(ctx, request.RoleBuilder, "skip smoke on doc-only merges", "smoke caught a regression", false)
	require.NoError(t, err)

	assert.True(t, p.FalseMemory)
	assert.Equal(t, 2, p.Frequency, "frequency drops by 2 on contradiction")
	assert.Equal(t, 1, p.Contradictions)
	assert.False(t, p.Success, "later outcome wins")
}

func TestService_Record_ContradictionFrequencyFloorsAtZero(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, request.RoleBuilder, "cache the whole request payload", "worked", true)
	require.NoError(t, err)

	p, err := svc.Record(ctx, request.RoleBuilder, "cache the whole request payload", "stale data served", false)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Frequency)
}

func TestService_Suggestions_WithholdsLowConfidence(t *testing.T) {
	svc := newTestService(t, nil)
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	// Frequency 3, fresh: confidence 100, auto-apply.
	for i := 0; i < 3; i++ {
		_, err := svc.Record(ctx, request.RoleBuilder, "run data checks before ui checks", "ok", true)
		require.NoError(t, err)
	}
	// Frequency 1, fresh: confidence 80, auto-apply boundary.
	_, err := svc.Record(ctx, request.RoleBuilder, "keep branch names short", "ok", true)
	require.NoError(t, err)
	// Error-lexicon outcome + rare: 100-20-30 = 50, suggest only.
	_, err = svc.Record(ctx, request.RoleBuilder, "guard the form submit input", "TypeError: e is undefined", true)
	require.NoError(t, err)
	// False memory + rare: 100-20-50 = 30, withheld.
	_, err = svc.Record(ctx, request.RoleBuilder, "skip retries entirely", "ok", true)
	require.NoError(t, err)
	_, err = svc.Record(ctx, request.RoleBuilder, "skip retries entirely", "broke", false)
	require.NoError(t, err)

	sugs, err := svc.Suggestions(ctx, request.RoleBuilder)
	require.NoError(t, err)
	require.Len(t, sugs, 3)

	assert.Equal(t, 100, sugs[0].Confidence)
	assert.True(t, sugs[0].AutoApply)
	assert.Equal(t, 80, sugs[1].Confidence)
	assert.True(t, sugs[1].AutoApply)
	assert.Equal(t, 50, sugs[2].Confidence)
	assert.False(t, sugs[2].AutoApply)
}

func TestService_Suggestions_ScopedToRole(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, request.RoleBuilder, "builder lesson", "ok", true)
	require.NoError(t, err)
	_, err = svc.Record(ctx, request.RoleUIBuilder, "ui lesson", "ok", true)
	require.NoError(t, err)

	sugs, err := svc.Suggestions(ctx, request.RoleUIBuilder)
	require.NoError(t, err)
	require.Len(t, sugs, 1)
	assert.Equal(t, request.RoleUIBuilder, sugs[0].Pattern.SourceRole)
}

func TestService_Hints_RendersSuggestions(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Record(ctx, request.RoleBuilder, "run data checks before ui checks", "ok", true)
		require.NoError(t, err)
	}

	hints := svc.Hints(ctx, request.RoleBuilder)
	require.Len(t, hints, 1)
	assert.Contains(t, hints[0], "apply (confidence 100)")
	assert.Contains(t, hints[0], "run data checks before ui checks")
}

func TestService_Query_FiltersFrequencyAndRecency(t *testing.T) {
	svc := newTestService(t, nil)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	svc.now = func() time.Time { return base.Add(-120 * 24 * time.Hour) }
	_, err := svc.Record(ctx, request.RoleBuilder, "stale lesson", "ok", true)
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	_, err = svc.Record(ctx, request.RoleBuilder, "rare lesson", "ok", true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = svc.Record(ctx, request.RoleBuilder, "proven lesson", "ok", true)
		require.NoError(t, err)
	}

	got, err := svc.Query(ctx, Filter{
		Role:         request.RoleBuilder,
		MinFrequency: 3,
		MaxAge:       90 * 24 * time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "proven lesson", got[0].Description)

	all, err := svc.Query(ctx, Filter{Role: request.RoleBuilder})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestService_Performance_AggregatesPerRole(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, request.RoleBuilder, "worked once", "ok", true)
	require.NoError(t, err)
	_, err = svc.Record(ctx, request.RoleBuilder, "went sideways", "broke", false)
	require.NoError(t, err)
	_, err = svc.Record(ctx, request.RoleUIBuilder, "ui win", "ok", true)
	require.NoError(t, err)

	perf, err := svc.Performance(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 2)

	assert.Equal(t, request.RoleBuilder, perf[0].Role)
	assert.Equal(t, 2, perf[0].Patterns)
	assert.InDelta(t, 0.5, perf[0].SuccessRate, 1e-9)
	assert.Equal(t, request.RoleUIBuilder, perf[1].Role)
	assert.InDelta(t, 1.0, perf[1].SuccessRate, 1e-9)
}

func TestService_DegradesToLocalOnSharedFailure(t *testing.T) {
	svc := newTestService(t, brokenStore{})
	ctx := context.Background()

	p, err := svc.Record(ctx, request.RoleBuilder, "some lesson worth keeping", "ok", true)
	require.NoError(t, err, "shared failure must not fail the write")
	require.NotNil(t, p)
	assert.True(t, svc.Degraded())

	sugs, err := svc.Suggestions(ctx, request.RoleBuilder)
	require.NoError(t, err)
	require.Len(t, sugs, 1)
	assert.True(t, sugs[0].LowConfidence)
	assert.False(t, sugs[0].AutoApply, "degraded suggestions never auto-apply")
}

func TestService_Prune_RemovesOnlyPrunable(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, request.RoleBuilder, "solid lesson", "ok", true)
	require.NoError(t, err)
	_, err = svc.Record(ctx, request.RoleBuilder, "shaky lesson", "ok", true)
	require.NoError(t, err)
	_, err = svc.Record(ctx, request.RoleBuilder, "shaky lesson", "broke", false)
	require.NoError(t, err)

	n, err := svc.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := svc.local.ListPatterns(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "solid lesson", remaining[0].Description)
}

func TestService_Benchmarks_PercentilesFromRunHistory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	scores := []float64{0.80, 0.85, 0.90, 0.92, 0.95, 0.96, 0.97, 0.98}
	for i, v := range scores {
		require.NoError(t, svc.CompleteRun(ctx, &RunRecord{
			ID:           string(rune('a' + i)),
			RequestName:  "demo",
			CompletedAt:  time.Now().Add(time.Duration(i) * time.Minute),
			OverallScore: v,
		}))
	}

	b, err := svc.Benchmarks(ctx)
	require.NoError(t, err)
	assert.True(t, b.Available)
	assert.InDelta(t, 0.92, b.P50, 1e-9)
	assert.InDelta(t, 0.96, b.P75, 1e-9)
}

func TestService_Benchmarks_EmptyHistoryUnavailable(t *testing.T) {
	svc := newTestService(t, nil)

	b, err := svc.Benchmarks(context.Background())
	require.NoError(t, err)
	assert.False(t, b.Available)
}

func TestService_Benchmarks_UnavailableWhileDegraded(t *testing.T) {
	svc := newTestService(t, brokenStore{})
	ctx := context.Background()

	// Local history exists, but the shared history it mirrors is gone.
	// Percentiles over the partial view must not gate a ship decision.
	require.NoError(t, svc.CompleteRun(ctx, &RunRecord{
		ID: "a", RequestName: "demo", CompletedAt: time.Now(), OverallScore: 0.95,
	}))
	require.True(t, svc.Degraded(), "mirrored write to the broken shared store degrades")

	b, err := svc.Benchmarks(ctx)
	require.NoError(t, err)
	assert.False(t, b.Available)
}

func TestService_MarkDegraded_AtStartup(t *testing.T) {
	// No shared store could be built at all; the connect error arrives from
	// the caller.
	svc := newTestService(t, nil)
	svc.MarkDegraded(errBroken)

	require.True(t, svc.Degraded())
	b, err := svc.Benchmarks(context.Background())
	require.NoError(t, err)
	assert.False(t, b.Available)
}
