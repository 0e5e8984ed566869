// Package reconcile periodically removes user index entries that point at
// history records which no longer exist.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pruner abstracts the index maintenance operations of the history service.
type Pruner interface {
	IndexedUsers(ctx context.Context) ([]int, error)
	PruneIndex(ctx context.Context, userID int) (int, error)
}

// Worker sweeps every user index on a fixed interval.
type Worker struct {
	pruner   Pruner
	interval time.Duration
	limit    int
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If interval is <= 0, it defaults to 10 minutes.
func NewWorker(pruner Pruner, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Worker{
		pruner:   pruner,
		interval: interval,
		limit:    4,
		logger:   slog.Default(),
	}
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("index reconciliation failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// RunOnce prunes every indexed user and returns the number of entries removed.
// A failure on one user is logged and does not stop the others.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	users, err := w.pruner.IndexedUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing indexed users: %w", err)
	}

	var pruned atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)

	for _, userID := range users {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			n, err := w.pruner.PruneIndex(gCtx, userID)
			pruned.Add(int64(n))
			if err != nil {
				w.logger.Warn("pruning user index failed", "user_id", userID, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(pruned.Load()), err
	}

	n := int(pruned.Load())
	if n > 0 {
		w.logger.Info("index reconciliation finished", "users", len(users), "pruned", n)
	}
	return n, nil
}
