package integrate

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitLine advances a real integration branch with fast-forward merges.
// A branch that diverged from the line is reported as a conflict with
// merge-base diagnostics; resolving it is worker work, not line work.
type GitLine struct {
	repo   *git.Repository
	branch string
}

// OpenGitLine opens the repository at path and binds the integration branch.
func OpenGitLine(path, branch string) (*GitLine, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return NewGitLine(repo, branch)
}

// NewGitLine binds an already-open repository. The integration branch must
// exist.
func NewGitLine(repo *git.Repository, branch string) (*GitLine, error) {
	if _, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true); err != nil {
		return nil, fmt.Errorf("resolve integration branch %s: %w", branch, err)
	}
	return &GitLine{repo: repo, branch: branch}, nil
}

func (g *GitLine) Ref() string { return g.branch }

func (g *GitLine) Merge(ctx context.Context, branch string) (*MergeOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lineName := plumbing.NewBranchReferenceName(g.branch)
	lineRef, err := g.repo.Reference(lineName, true)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", g.branch, err)
	}
	featRef, err := g.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", branch, err)
	}

	lineCommit, err := g.repo.CommitObject(lineRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", lineRef.Hash(), err)
	}
	featCommit, err := g.repo.CommitObject(featRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", featRef.Hash(), err)
	}

	// Branch already contained in the line: nothing to do.
	if contained, err := featCommit.IsAncestor(lineCommit); err != nil {
		return nil, fmt.Errorf("ancestry check: %w", err)
	} else if contained {
		return &MergeOutcome{Branch: branch, Commit: lineRef.Hash().String()}, nil
	}

	// Line is an ancestor of the branch: fast-forward.
	if ff, err := lineCommit.IsAncestor(featCommit); err != nil {
		return nil, fmt.Errorf("ancestry check: %w", err)
	} else if ff {
		if err := g.repo.Storer.SetReference(plumbing.NewHashReference(lineName, featRef.Hash())); err != nil {
			return nil, fmt.Errorf("advance %s: %w", g.branch, err)
		}
		return &MergeOutcome{
			Branch:      branch,
			Commit:      featRef.Hash().String(),
			FastForward: true,
		}, nil
	}

	return nil, &ConflictError{
		Branch:      branch,
		Diagnostics: divergenceDiagnostics(lineCommit, featCommit, g.branch),
	}
}

func divergenceDiagnostics(line, feat *object.Commit, lineName string) string {
	bases, err := line.MergeBase(feat)
	if err != nil || len(bases) == 0 {
		return fmt.Sprintf("diverged from %s with no common ancestor", lineName)
	}
	return fmt.Sprintf("diverged from %s since %s; rebase the branch onto the line and re-run its checks",
		lineName, bases[0].Hash)
}
