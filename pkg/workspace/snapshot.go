package workspace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// snapshotExcludes are never committed.
var snapshotExcludes = []string{"node_modules", "dist", "*.log"}

// Snapshot is one recorded commit of a project.
type Snapshot struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// Snapshotter commits project directories to a repository inside each
// project, so every generation and fix can be inspected or rolled back.
type Snapshotter struct {
	name   string
	email  string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewSnapshotter creates a snapshotter committing as name <email>.
func NewSnapshotter(name, email string) *Snapshotter {
	if name == "" {
		name = "codemother"
	}
	if email == "" {
		email = "codemother@localhost"
	}
	return &Snapshotter{
		name:   name,
		email:  email,
		logger: log.With().Str("component", "workspace.snapshot").Logger(),
	}
}

func openOrInit(dir string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", dir, err)
	}
	return repo, nil
}

// Snapshot commits every change in dir with message. It returns the commit
// hash, or "" when there was nothing to commit.
func (s *Snapshotter) Snapshot(dir, message string) (string, error) {
	if !isDir(dir) {
		return "", fmt.Errorf("%w: %s", ErrNoProject, dir)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := openOrInit(dir)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	for _, p := range snapshotExcludes {
		wt.Excludes = append(wt.Excludes, gitignore.ParsePattern(p, nil))
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}
	for path, st := range status {
		// deletions of tracked files are staged by CommitOptions.All
		if st.Worktree == gogit.Unmodified || st.Worktree == gogit.Deleted {
			continue
		}
		if _, err := wt.Add(path); err != nil {
			return "", fmt.Errorf("stage %s: %w", path, err)
		}
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		All: true,
		Author: &object.Signature{
			Name:  s.name,
			Email: s.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug().Str("dir", dir).Str("hash", hash.String()).Msg("project snapshot committed")
	return hash.String(), nil
}

// Snapshots returns up to limit commits of dir, newest first. A limit of
// zero returns all of them.
func (s *Snapshotter) Snapshots(dir string, limit int) ([]Snapshot, error) {
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", dir, err)
	}

	iter, err := repo.Log(&gogit.LogOptions{})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()

	var out []Snapshot
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(out) >= limit {
			return storer.ErrStop
		}
		out = append(out, Snapshot{
			Hash:    c.Hash.String(),
			Message: c.Message,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	return out, nil
}
