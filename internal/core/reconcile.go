package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/vcsmine/internal/metrics"
	"github.com/kilupskalvis/vcsmine/internal/models"
	"github.com/kilupskalvis/vcsmine/internal/vcs"
	"github.com/kilupskalvis/vcsmine/internal/versioning"
)

// ReconcileResult counts the state transitions of one reconciliation.
type ReconcileResult struct {
	CommitsDeleted  int
	TagsDeleted     int
	TagsRestored    int
	TagsCreated     int
	BranchesDeleted int
	// Errors counts entities that could not be reconciled.
	Errors int
}

// Changes returns the number of records written.
func (r *ReconcileResult) Changes() int {
	return r.CommitsDeleted + r.TagsDeleted + r.TagsRestored + r.TagsCreated + r.BranchesDeleted
}

// Reconciler soft-deletes and restores stored records so they match a
// freshly walked graph. It never removes anything.
type Reconciler struct {
	store   ReconcileStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store ReconcileStore, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger.With("component", "reconciler"), metrics: m}
}

// Run reconciles commits, then tags, then branch tips. Failures on single
// entities are logged and counted; only failing to list stored records is
// returned as an error.
func (r *Reconciler) Run(ctx context.Context, g *vcs.Graph) (*ReconcileResult, error) {
	res := &ReconcileResult{}
	if err := r.commits(ctx, g, res); err != nil {
		return res, err
	}
	if err := r.tags(ctx, g, res); err != nil {
		return res, err
	}
	if err := r.branches(ctx, g, res); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Reconciler) commits(ctx context.Context, g *vcs.Graph, res *ReconcileResult) error {
	ids, err := r.store.LiveCommitIDs(ctx)
	if err != nil {
		return fmt.Errorf("list stored commits: %w", err)
	}
	for _, id := range ids {
		if g.Contains(id) {
			continue
		}
		changed, err := r.store.MarkCommitDeleted(ctx, id)
		if err != nil {
			r.entityError(res, "commit", id, err)
			continue
		}
		if changed {
			res.CommitsDeleted++
			r.metrics.Reconciled("commit", "deleted")
			r.logger.Info("commit deleted", "commit", id)
		}
	}
	return nil
}

func (r *Reconciler) tags(ctx context.Context, g *vcs.Graph, res *ReconcileResult) error {
	stored, err := r.store.ListTags(ctx)
	if err != nil {
		return fmt.Errorf("list stored tags: %w", err)
	}

	live := g.LiveTags()
	byKey := make(map[string]*models.TagRecord, len(live))
	for _, t := range live {
		byKey[t.Key()] = t
	}

	now := r.store.SyncTime()
	known := make(map[string]bool, len(stored))
	for _, t := range stored {
		known[t.Key()] = true
		action := versioning.ReconcileTag(t, byKey[t.Key()], now)
		if action == versioning.TagUnchanged {
			continue
		}
		if err := r.store.PutTag(ctx, t); err != nil {
			r.entityError(res, "tag", t.Name, err)
			continue
		}
		switch action {
		case versioning.TagDeleted:
			res.TagsDeleted++
		case versioning.TagRestored:
			res.TagsRestored++
		}
		r.metrics.Reconciled("tag", string(action))
		r.logger.Info("tag "+string(action), "tag", t.Name, "commit", t.CommitID)
	}

	// stored commits skipped by the dispatcher never submit their tags
	for _, t := range live {
		if known[t.Key()] {
			continue
		}
		ok, err := r.store.ContainsCommit(ctx, t.CommitID)
		if err != nil {
			r.entityError(res, "tag", t.Name, err)
			continue
		}
		if !ok {
			continue
		}
		_, created, err := r.store.CreateTag(ctx, t)
		if err != nil {
			r.entityError(res, "tag", t.Name, err)
			continue
		}
		if created {
			res.TagsCreated++
			r.metrics.Reconciled("tag", "created")
		}
	}
	return nil
}

func (r *Reconciler) branches(ctx context.Context, g *vcs.Graph, res *ReconcileResult) error {
	stored, err := r.store.ListBranches(ctx)
	if err != nil {
		return fmt.Errorf("list stored branches: %w", err)
	}

	live := make(map[string]bool)
	for _, tip := range g.Tips() {
		live[tip.Name] = true
	}

	now := r.store.SyncTime()
	for _, tip := range stored {
		if live[tip.Name] || !versioning.SoftDeleteBranch(tip, now) {
			continue
		}
		if err := r.store.PutBranch(ctx, tip); err != nil {
			r.entityError(res, "branch", tip.Name, err)
			continue
		}
		res.BranchesDeleted++
		r.metrics.Reconciled("branch", "deleted")
		r.logger.Info("branch deleted", "branch", tip.Name)
	}
	return nil
}

func (r *Reconciler) entityError(res *ReconcileResult, entity, name string, err error) {
	res.Errors++
	r.metrics.EntityError(entity)
	r.logger.Warn("reconcile failed", "entity", entity, "name", name, "error", err)
}
