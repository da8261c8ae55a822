// Package integrate owns the shared integration line: ordered merges of
// finished feature branches plus the post-merge smoke gate.
package integrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrMergeConflict marks a merge the line could not complete automatically.
var ErrMergeConflict = errors.New("integrate: merge conflict")

// ConflictError reports a branch that diverged from the integration line.
type ConflictError struct {
	Branch      string
	Diagnostics string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge %s: %s", e.Branch, e.Diagnostics)
}

func (e *ConflictError) Unwrap() error { return ErrMergeConflict }

// MergeOutcome describes one completed merge.
type MergeOutcome struct {
	Branch      string
	Commit      string
	FastForward bool
}

// Line is the merge driver for the integration branch. Implementations:
// GitLine (go-git) and MemoryLine (tests).
type Line interface {
	// Merge advances the integration line to include branch.
	Merge(ctx context.Context, branch string) (*MergeOutcome, error)

	// Ref names the integration reference verification runs against.
	Ref() string
}

// MemoryLine is an in-memory Line. Branches listed in conflicts fail with a
// ConflictError.
type MemoryLine struct {
	mu        sync.Mutex
	ref       string
	merged    []string
	conflicts map[string]string
	seq       int
}

// NewMemoryLine returns an empty MemoryLine with the given ref name.
func NewMemoryLine(ref string) *MemoryLine {
	return &MemoryLine{ref: ref, conflicts: make(map[string]string)}
}

// FailWith makes future merges of branch fail with the given diagnostics.
func (m *MemoryLine) FailWith(branch, diagnostics string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[branch] = diagnostics
}

func (m *MemoryLine) Merge(_ context.Context, branch string) (*MergeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if diag, ok := m.conflicts[branch]; ok {
		return nil, &ConflictError{Branch: branch, Diagnostics: diag}
	}
	m.seq++
	m.merged = append(m.merged, branch)
	return &MergeOutcome{
		Branch:      branch,
		Commit:      fmt.Sprintf("commit-%d", m.seq),
		FastForward: true,
	}, nil
}

func (m *MemoryLine) Ref() string { return m.ref }

// MergedBranches returns the merge order so far.
func (m *MemoryLine) MergedBranches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.merged))
	copy(out, m.merged)
	return out
}
