package patternbank

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

// ErrNotFound is returned when no pattern or run exists for the given key.
var ErrNotFound = errors.New("patternbank: not found")

// RunRecord summarizes one completed run for cross-run benchmarks.
type RunRecord struct {
	ID           string    `json:"id"`
	RequestName  string    `json:"request_name"`
	CompletedAt  time.Time `json:"completed_at"`
	OverallScore float64   `json:"overall_score"`
	FeatureCount int       `json:"feature_count"`
	Waves        int       `json:"waves"`
}

// Store persists patterns and run history. Implementations: LocalStore
// (sqlite), SharedStore (NATS JetStream KV), MemoryStore (tests).
type Store interface {
	GetPattern(ctx context.Context, id string) (*Pattern, error)
	PutPattern(ctx context.Context, p *Pattern) error
	DeletePattern(ctx context.Context, id string) error
	// ListPatterns returns patterns for the role, or every pattern when
	// role is empty, ordered by ID.
	ListPatterns(ctx context.Context, role request.Role) ([]*Pattern, error)

	PutRun(ctx context.Context, r *RunRecord) error
	ListRuns(ctx context.Context) ([]*RunRecord, error)

	Close() error
}

// MemoryStore is an in-memory Store used in tests and as a scratch backend.
type MemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
	runs     map[string]*RunRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patterns: make(map[string]*Pattern),
		runs:     make(map[string]*RunRecord),
	}
}

func (m *MemoryStore) GetPattern(_ context.Context, id string) (*Pattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) PutPattern(_ context.Context, p *Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.patterns[p.ID] = &cp
	return nil
}

func (m *MemoryStore) DeletePattern(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patterns, id)
	return nil
}

func (m *MemoryStore) ListPatterns(_ context.Context, role request.Role) ([]*Pattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Pattern
	for _, p := range m.patterns {
		if role != "" && p.SourceRole != role {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) PutRun(_ context.Context, r *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context) ([]*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
