package storage

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper periodically deletes expired sessions so the table does not
// grow without bound. Expired tokens are already rejected at auth time; this
// is housekeeping only.
type SessionSweeper struct {
	store    Store
	interval time.Duration
}

// NewSessionSweeper creates a new sweep worker
func NewSessionSweeper(store Store, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}

	return &SessionSweeper{
		store:    store,
		interval: interval,
	}
}

// Start begins the sweep worker in a goroutine
func (s *SessionSweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *SessionSweeper) run(ctx context.Context) {
	slog.Info("session sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SessionSweeper) sweep(ctx context.Context) {
	deleted, err := s.store.DeleteExpiredSessions(ctx)
	if err != nil {
		slog.Error("failed to sweep expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("expired sessions removed", "count", deleted)
	}
}
