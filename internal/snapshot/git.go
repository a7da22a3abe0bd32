package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitCommitter commits export directories to a git repository rooted at
// the export root, initialising the repository on first use.
type GitCommitter struct {
	root  string
	name  string
	email string
	now   func() time.Time
}

// NewGitCommitter returns a committer for the repository at root.
func NewGitCommitter(root, authorName, authorEmail string) *GitCommitter {
	if authorName == "" {
		authorName = "archcore"
	}
	if authorEmail == "" {
		authorEmail = "archcore@localhost"
	}
	return &GitCommitter{root: root, name: authorName, email: authorEmail, now: time.Now}
}

func (g *GitCommitter) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(g.root, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return repo, nil
}

// Commit stages every change below dir and commits only those changes;
// edits elsewhere in the worktree stay uncommitted. It returns the commit
// hash, or "" when nothing below dir changed.
func (g *GitCommitter) Commit(_ context.Context, dir, message string) (string, error) {
	repo, err := g.open()
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}
	rel, err := filepath.Rel(g.root, dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	rel = filepath.ToSlash(rel)
	if err := wt.AddWithOptions(&git.AddOptions{Path: rel}); err != nil {
		return "", fmt.Errorf("staging %s: %w", rel, err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("getting status: %w", err)
	}
	if !stagedBelow(status, rel) {
		return "", nil
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: g.name, Email: g.email, When: g.now()},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

func stagedBelow(status git.Status, dir string) bool {
	for name, st := range status {
		if dir != "." && name != dir && !strings.HasPrefix(name, dir+"/") {
			continue
		}
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			return true
		}
	}
	return false
}
