package leaderboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/ecoloop/ecoloop-server/internal/storage"
)

const rebuildLimit = 1000

// Refresher periodically rebuilds the Redis ranking from the database so
// drift from missed updates self-heals.
type Refresher struct {
	board    *Leaderboard
	store    storage.Store
	interval time.Duration
}

// NewRefresher creates a new refresh worker
func NewRefresher(board *Leaderboard, store storage.Store, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Refresher{
		board:    board,
		store:    store,
		interval: interval,
	}
}

// Start begins the refresh worker in a goroutine
func (r *Refresher) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Refresher) run(ctx context.Context) {
	slog.Info("leaderboard refresher started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start
	r.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("leaderboard refresher stopped")
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	slog.Debug("running leaderboard refresh")

	entries, err := r.store.TopUsersByCoins(ctx, rebuildLimit)
	if err != nil {
		slog.Error("failed to load leaderboard snapshot", "error", err)
		return
	}

	if err := r.board.Rebuild(ctx, entries); err != nil {
		slog.Error("failed to rebuild leaderboard", "error", err)
		return
	}

	slog.Debug("leaderboard refreshed", "entries", len(entries))
}
