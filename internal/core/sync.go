package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kilupskalvis/vcsmine/internal/metrics"
	"github.com/kilupskalvis/vcsmine/internal/vcs"
)

// SyncOptions configures a Syncer.
type SyncOptions struct {
	Backend vcs.Backend
	Path    string
	Options vcs.Options
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// SyncResult summarizes one sync.
type SyncResult struct {
	Commits     int
	Classified  int
	Skipped     int
	FileActions int
	Tags        int
	Branches    int
	// BranchErrors counts tips the store refused.
	BranchErrors int
	Reconcile    ReconcileResult
	Duration     time.Duration
}

// Syncer mines one repository into a store.
type Syncer struct {
	opts   SyncOptions
	store  Store
	submit sync.Mutex
	logger *slog.Logger
}

// NewSyncer creates a syncer writing to store.
func NewSyncer(store Store, opts SyncOptions) *Syncer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{opts: opts, store: store, logger: opts.Logger.With("component", "sync")}
}

// Run walks the repository, stores every commit, then the branch tips,
// reconciles commits, tags and branches, and finally flushes the store.
func (s *Syncer) Run(ctx context.Context) (*SyncResult, error) {
	start := time.Now()

	repo, err := s.opts.Backend.Open(s.opts.Path, s.opts.Options)
	if err != nil {
		return nil, err
	}
	g, err := repo.Initialize(ctx)
	repo.Close()
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %w", s.opts.Path, err)
	}
	s.logger.Info("repository walked", "path", s.opts.Path, "commits", g.Len(), "tags", len(g.LiveTags()), "branches", len(g.Tips()))

	dispatcher := NewDispatcher(s.store, &s.submit, DispatchOptions{
		Backend: s.opts.Backend,
		Path:    s.opts.Path,
		Options: s.opts.Options,
		Workers: s.opts.Workers,
		Logger:  s.opts.Logger,
		Metrics: s.opts.Metrics,
	})
	dispatched, err := dispatcher.Dispatch(ctx, g)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{
		Commits:     g.Len(),
		Classified:  dispatched.Classified,
		Skipped:     dispatched.Skipped,
		FileActions: dispatched.FileActions,
		Tags:        len(g.LiveTags()),
	}

	for _, tip := range g.Tips() {
		if err := s.store.AddBranch(ctx, tip); err != nil {
			res.BranchErrors++
			s.opts.Metrics.EntityError("branch")
			s.logger.Warn("branch not stored", "branch", tip.Name, "error", err)
			continue
		}
		res.Branches++
	}

	reconciled, err := NewReconciler(s.store, s.opts.Logger, s.opts.Metrics).Run(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	res.Reconcile = *reconciled

	if err := s.store.Finalize(ctx); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	s.opts.Metrics.SyncDone(res.Duration)
	s.logger.Info("sync finished",
		"classified", res.Classified,
		"skipped", res.Skipped,
		"branches", res.Branches,
		"reconciled", res.Reconcile.Changes(),
		"duration", res.Duration)
	return res, nil
}
