package revision

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"

	"mercator-hq/tollgate/pkg/config"
)

// ErrNotRepository is returned when no .git directory is found at or above
// the configured path.
var ErrNotRepository = errors.New("not inside a git repository")

// CommitInfo contains metadata about the HEAD commit.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Branch    string    `json:"branch,omitempty"`
}

// Repository reads commit identity from a local repository. It never
// writes to the repository.
type Repository struct {
	repo *gogit.Repository
	mu   sync.RWMutex
}

// Open opens the repository containing path, searching parent directories
// for the .git directory.
func Open(path string) (*Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit: true,
	})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRepository)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return &Repository{repo: repo}, nil
}

// Head returns metadata about the current HEAD commit. Branch is empty for
// a detached HEAD.
func (r *Repository) Head() (*CommitInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}

	info := &CommitInfo{
		SHA:       commit.Hash.String(),
		Author:    commit.Author.Name,
		Email:     commit.Author.Email,
		Timestamp: commit.Author.When,
		Subject:   strings.TrimSpace(strings.SplitN(commit.Message, "\n", 2)[0]),
	}
	if ref.Name().IsBranch() {
		info.Branch = ref.Name().Short()
	}
	return info, nil
}

// Resolve returns the HEAD commit SHA for audit provenance, or "" when
// revision stamping is disabled or the commit cannot be read. A missing
// revision never fails an evaluation.
func Resolve(cfg config.RevisionConfig, logger *slog.Logger) string {
	if !cfg.Enabled {
		return ""
	}
	if logger == nil {
		logger = slog.Default()
	}

	repo, err := Open(cfg.RepoPath)
	if err != nil {
		logger.Debug("revision unavailable", "path", cfg.RepoPath, "error", err)
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		logger.Warn("failed to read HEAD commit", "path", cfg.RepoPath, "error", err)
		return ""
	}
	return head.SHA
}
