// Package vcs defines the backend-independent side of history mining: the
// backend contract, backend selection and the commit graph built from a
// repository's references.
package vcs

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilupskalvis/vcsmine/internal/models"
)

var (
	// ErrRepositoryNotFound is returned when no repository exists at or above a path.
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrBackendNotFound is returned when no backend recognizes a path.
	ErrBackendNotFound = errors.New("no backend detects repository")
	// ErrNotCommit is returned when a reference resolves to a non-commit object.
	ErrNotCommit = errors.New("reference does not point to a commit")
)

// Options control how a repository is walked and classified.
type Options struct {
	// SimilarityThreshold is the minimum percentage of shared content for a
	// change to be reported as a rename or copy. Zero selects the default.
	SimilarityThreshold int
	// RenameLimit caps the number of rename candidates per diff. Zero means no limit.
	RenameLimit int
	NoHunks     bool
	// NoBranchInfo disables per-commit branch membership.
	NoBranchInfo bool
	// Remote is the remote whose tracking branches are reported as tips.
	Remote string
	// ContextLines is the number of unchanged lines around each hunk.
	ContextLines int
	// InterhunkLines merges hunks separated by at most this many unchanged lines.
	InterhunkLines int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 50,
		Remote:              "origin",
		ContextLines:        0,
		InterhunkLines:      1,
	}
}

// Backend knows how to find and open repositories of one VCS type.
type Backend interface {
	// Name is the repository type recorded for mined repositories.
	Name() string
	// Detect reports whether path lies inside a repository of this type.
	Detect(path string) bool
	// Discover returns the root of the repository containing path.
	Discover(path string) (string, error)
	// Open opens an independent handle on the repository rooted at path.
	Open(path string, opts Options) (Repository, error)
}

// Repository is an open handle on one repository. Handles are not safe for
// concurrent use; each worker opens its own.
type Repository interface {
	Path() string
	// ProjectURL identifies the repository in the store.
	ProjectURL() string
	// Resolve turns a revision expression such as a branch, tag or
	// abbreviated hash into a commit id.
	Resolve(rev string) (string, error)
	// Initialize enumerates references and builds the commit graph.
	Initialize(ctx context.Context) (*Graph, error)
	// Classify returns the commit's metadata and file actions. Branch and
	// tag membership are left empty.
	Classify(ctx context.Context, id string) (*models.CommitRecord, error)
	Close() error
}

// Select returns the first backend that detects path. The order of backends
// is the probe order.
func Select(backends []Backend, path string) (Backend, error) {
	for _, b := range backends {
		if b.Detect(path) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, path)
}
