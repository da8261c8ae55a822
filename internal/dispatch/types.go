// Package dispatch issues work items to pluggable worker roles and collects
// their completion signals.
//
// The dispatcher never interprets what a worker built. Its contract is the
// work item going out and a Success(branch_ref) or Failure(diagnostics)
// coming back; everything else belongs to the worker.
package dispatch

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

// Kind distinguishes first-build work from targeted bugfix work.
type Kind string

const (
	KindBuild  Kind = "build"
	KindBugfix Kind = "bugfix"
)

// WorkItem is one unit of dispatched work: a feature/role pair on its own
// isolation branch.
type WorkItem struct {
	// ID uniquely identifies this work item within the run.
	ID string `json:"id"`

	// Feature is the feature this item builds.
	Feature string `json:"feature"`

	// Description is the feature's declared intent.
	Description string `json:"description"`

	// Role selects the worker.
	Role request.Role `json:"role"`

	// Kind is build or bugfix.
	Kind Kind `json:"kind"`

	// Branch is the deterministic isolation branch name.
	Branch string `json:"branch"`

	// Attempt starts at 1 and increments on each re-dispatch.
	Attempt int `json:"attempt"`

	// Scope narrows a bugfix item to exactly the failing concern.
	Scope string `json:"scope,omitempty"`

	// PriorDiagnostics carries every earlier failure so a retried worker
	// sees the full history.
	PriorDiagnostics []string `json:"prior_diagnostics,omitempty"`

	// Hints are learned-pattern suggestions for this role, surfaced to the
	// worker alongside the item.
	Hints []string `json:"hints,omitempty"`
}

// Status is the worker-reported outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result is the worker's completion signal.
type Result struct {
	Status Status `json:"status"`

	// BranchRef is the ref holding the finished work. Required on success.
	BranchRef string `json:"branch_ref,omitempty"`

	// Diagnostics explains a failure. Required on failure.
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Worker executes work items for one role. Implementations are opaque
// long-running tasks; they are consumed only through this contract.
type Worker interface {
	// Role returns the role this worker serves.
	Role() request.Role

	// Execute runs one work item to completion. A returned error is treated
	// the same as a Failure result with the error text as diagnostics.
	Execute(ctx context.Context, item WorkItem) (Result, error)
}

// Completed pairs a finished work item with the branch ref it produced.
type Completed struct {
	Item      WorkItem `json:"item"`
	BranchRef string   `json:"branch_ref"`
}

// BranchName builds the deterministic isolation branch name for a
// feature/role pair.
func BranchName(prefix, feature string, role request.Role, kind Kind) string {
	if kind == KindBugfix {
		return fmt.Sprintf("%s/bugfix/%s/%s", prefix, feature, role)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, feature, role)
}
