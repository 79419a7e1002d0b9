package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilupskalvis/vcsmine/internal/metrics"
	"github.com/kilupskalvis/vcsmine/internal/vcs"
	"golang.org/x/sync/errgroup"
)

// DispatchOptions configures a Dispatcher.
type DispatchOptions struct {
	Backend vcs.Backend
	// Path is the discovered repository root every worker opens.
	Path    string
	Options vcs.Options
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DispatchResult counts what the workers did.
type DispatchResult struct {
	Classified  int
	Skipped     int
	FileActions int
}

// Dispatcher classifies the commits of a graph on a fixed pool of workers
// and submits them to a sink one at a time.
type Dispatcher struct {
	opts   DispatchOptions
	sink   Sink
	mu     *sync.Mutex
	logger *slog.Logger
}

// worker is the per-goroutine context: its own repository handle and logger.
type worker struct {
	n      int
	repo   vcs.Repository
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher writing to sink. submit guards every
// AddCommit call; nil means a private lock.
func NewDispatcher(sink Sink, submit *sync.Mutex, opts DispatchOptions) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if submit == nil {
		submit = &sync.Mutex{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		opts:   opts,
		sink:   sink,
		mu:     submit,
		logger: logger.With("component", "dispatcher"),
	}
}

// skipStored reports whether stored commits can be skipped. Without branch
// membership and hunks nothing of a stored commit can change.
func (d *Dispatcher) skipStored() bool {
	return d.opts.Options.NoBranchInfo && d.opts.Options.NoHunks
}

// Dispatch classifies every commit of g and returns once all of them are
// submitted. The first failure cancels the remaining work.
func (d *Dispatcher) Dispatch(ctx context.Context, g *vcs.Graph) (*DispatchResult, error) {
	var classified, skipped, fileActions atomic.Int64

	eg, ctx := errgroup.WithContext(ctx)
	ids := make(chan string)

	eg.Go(func() error {
		defer close(ids)
		for _, id := range g.Commits() {
			select {
			case ids <- id:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for n := 0; n < d.opts.Workers; n++ {
		eg.Go(func() error {
			repo, err := d.opts.Backend.Open(d.opts.Path, d.opts.Options)
			if err != nil {
				return fmt.Errorf("worker %d: open repository: %w", n, err)
			}
			defer repo.Close()
			w := &worker{n: n, repo: repo, logger: d.logger.With("worker", n)}

			for id := range ids {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				done, actions, err := d.process(ctx, w, g, id)
				if err != nil {
					return err
				}
				if !done {
					skipped.Add(1)
					continue
				}
				classified.Add(1)
				fileActions.Add(int64(actions))
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &DispatchResult{
		Classified:  int(classified.Load()),
		Skipped:     int(skipped.Load()),
		FileActions: int(fileActions.Load()),
	}, nil
}

// process classifies and submits one commit. It reports false when the
// commit was skipped.
func (d *Dispatcher) process(ctx context.Context, w *worker, g *vcs.Graph, id string) (bool, int, error) {
	if d.skipStored() {
		stored, err := d.sink.ContainsCommit(ctx, id)
		if err != nil {
			return false, 0, fmt.Errorf("check commit %s: %w", id, err)
		}
		if stored {
			d.opts.Metrics.CommitSkipped()
			return false, 0, nil
		}
	}

	start := time.Now()
	rec, err := w.repo.Classify(ctx, id)
	if err != nil {
		return false, 0, fmt.Errorf("classify commit %s: %w", id, err)
	}
	rec.Branches = g.Branches(id)
	rec.Tags = g.Tags(id)
	d.opts.Metrics.CommitClassified(time.Since(start))

	d.mu.Lock()
	err = d.sink.AddCommit(ctx, rec)
	d.mu.Unlock()
	if err != nil {
		return false, 0, fmt.Errorf("store commit %s: %w", id, err)
	}

	w.logger.Debug("commit stored", "commit", rec.ShortID(), "file_actions", len(rec.FileActions))
	return true, len(rec.FileActions), nil
}
