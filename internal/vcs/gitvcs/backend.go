// Package gitvcs mines git repositories through go-git.
package gitvcs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"github.com/kilupskalvis/vcsmine/internal/vcs"
)

// RepositoryType is the type recorded for git repositories.
const RepositoryType = "git"

// Backend detects and opens git repositories.
type Backend struct {
	logger *slog.Logger
}

// New returns a git backend logging through logger.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger.With("backend", RepositoryType)}
}

// Name implements vcs.Backend.
func (b *Backend) Name() string {
	return RepositoryType
}

// Detect reports whether path is inside a git repository.
func (b *Backend) Detect(path string) bool {
	_, err := b.Discover(path)
	return err == nil
}

// Discover walks up from path to the first directory that opens as a
// repository, the way git itself finds its working tree.
func (b *Backend) Discover(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	for {
		_, err := git.PlainOpen(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			return "", fmt.Errorf("open %s: %w", dir, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: %s (or any parent up to root)", vcs.ErrRepositoryNotFound, path)
		}
		dir = parent
	}
}

// Open returns a new handle on the repository at path.
func (b *Backend) Open(path string, opts vcs.Options) (vcs.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", vcs.ErrRepositoryNotFound, path)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = vcs.DefaultOptions().SimilarityThreshold
	}
	return &Repository{
		repo:   repo,
		path:   path,
		opts:   opts,
		logger: b.logger,
	}, nil
}

// Repository is a go-git handle on one repository.
type Repository struct {
	repo   *git.Repository
	path   string
	opts   vcs.Options
	logger *slog.Logger
}

// Path returns the repository root.
func (r *Repository) Path() string {
	return r.path
}

// ProjectURL returns the first URL of the configured remote. Repositories
// without that remote get a stable local identifier derived from their path.
func (r *Repository) ProjectURL() string {
	if remote, err := r.repo.Remote(r.opts.Remote); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			return urls[0]
		}
	}
	return "local/" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.path)).String()
}

// Resolve implements vcs.Repository.
func (r *Repository) Resolve(rev string) (string, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rev, err)
	}
	c, err := r.peelCommit(*h)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Close releases the handle.
func (r *Repository) Close() error {
	if c, ok := r.repo.Storer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
