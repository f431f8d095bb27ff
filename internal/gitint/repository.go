// Package gitint reads the git state of the project a session works in:
// the current branch recorded on the session, and the committed HEAD
// version of a file, which serves as a drift baseline when a file has no
// earlier snapshot.
package gitint

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotTracked is returned when a file does not exist in the HEAD commit.
var ErrNotTracked = errors.New("file not tracked at HEAD")

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
	root string
}

// Open opens the git repository containing path, searching parent
// directories for the .git directory.
func Open(path string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open git repo at %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree for %s: %w", path, err)
	}
	return &Repository{repo: repo, root: wt.Filesystem.Root()}, nil
}

// Root returns the absolute worktree root.
func (r *Repository) Root() string {
	return r.root
}

// CurrentBranch returns the short branch name. For a detached HEAD it
// returns the commit hash.
func (r *Repository) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return head.Hash().String(), nil
}

// HeadFileContent returns the content of path as committed at HEAD. path
// may be absolute or relative to the worktree root.
func (r *Repository) HeadFileContent(path string) ([]byte, error) {
	rel := path
	if filepath.IsAbs(path) {
		var err error
		rel, err = filepath.Rel(r.root, path)
		if err != nil {
			return nil, fmt.Errorf("relativize %s: %w", path, err)
		}
	}
	rel = filepath.ToSlash(rel)

	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("get HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("HEAD commit: %w", err)
	}
	f, err := commit.File(rel)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, ErrNotTracked
	}
	if err != nil {
		return nil, fmt.Errorf("read %s at HEAD: %w", rel, err)
	}
	content, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("read %s at HEAD: %w", rel, err)
	}
	return []byte(content), nil
}

// BranchOf returns the current branch of the repository containing path,
// or "" when path is not inside a git repository.
func BranchOf(path string) string {
	r, err := Open(path)
	if err != nil {
		return ""
	}
	b, err := r.CurrentBranch()
	if err != nil {
		return ""
	}
	return b
}
