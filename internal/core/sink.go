// Package core runs a sync: it dispatches commit classification across
// workers, submits branch tips and reconciles stored records with the
// repository as it is now.
package core

import (
	"context"
	"time"

	"github.com/kilupskalvis/vcsmine/internal/models"
)

// Sink is where classified records are written. Implementations must make
// their create-or-fetch of people, files and tags safe under concurrent
// callers; AddCommit itself is never called concurrently by the dispatcher.
type Sink interface {
	AddCommit(ctx context.Context, rec *models.CommitRecord) error
	AddBranch(ctx context.Context, tip models.BranchTip) error
	ContainsCommit(ctx context.Context, id string) (bool, error)
	// Finalize blocks until every previous write is durable.
	Finalize(ctx context.Context) error
}

// ReconcileStore is the part of the store the reconciler reads and versions.
type ReconcileStore interface {
	SyncTime() time.Time
	ContainsCommit(ctx context.Context, id string) (bool, error)
	LiveCommitIDs(ctx context.Context) ([]string, error)
	MarkCommitDeleted(ctx context.Context, id string) (bool, error)
	ListTags(ctx context.Context) ([]*models.TagRecord, error)
	CreateTag(ctx context.Context, tag *models.TagRecord) (*models.TagRecord, bool, error)
	PutTag(ctx context.Context, tag *models.TagRecord) error
	ListBranches(ctx context.Context) ([]*models.BranchTip, error)
	PutBranch(ctx context.Context, tip *models.BranchTip) error
}

// Store is everything a sync needs from persistence.
type Store interface {
	Sink
	ReconcileStore
}
