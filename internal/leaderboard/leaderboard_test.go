package leaderboard

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ecoloop/ecoloop-server/internal/storage"
)

func newTestBoard(t *testing.T) *Leaderboard {
	t.Helper()
	mr := miniredis.RunT(t)
	board, err := New(mr.Addr(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { board.Close() })
	return board
}

func TestRecordAndTop(t *testing.T) {
	board := newTestBoard(t)
	ctx := context.Background()

	seed := []storage.LeaderboardEntry{
		{UserID: "u1", Username: "ana", Coins: 50},
		{UserID: "u2", Username: "bo", Coins: 120},
		{UserID: "u3", Username: "cleo", Coins: 80},
	}
	for _, e := range seed {
		if err := board.Record(ctx, e.UserID, e.Username, e.Coins); err != nil {
			t.Fatalf("Record(%s): %v", e.UserID, err)
		}
	}

	entries, err := board.Top(ctx, 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	wantOrder := []string{"bo", "cleo", "ana"}
	wantCoins := []int{120, 80, 50}
	for i, e := range entries {
		if e.Username != wantOrder[i] || e.Coins != wantCoins[i] {
			t.Errorf("entry %d = %s/%d, want %s/%d", i, e.Username, e.Coins, wantOrder[i], wantCoins[i])
		}
	}

	// A newer grant replaces the score rather than accumulating.
	if err := board.Record(ctx, "u1", "ana", 200); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, err = board.Top(ctx, 1)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "u1" || entries[0].Coins != 200 {
		t.Errorf("expected u1 on top with 200 coins, got %+v", entries)
	}
}

func TestTopToleratesMissingUsername(t *testing.T) {
	board := newTestBoard(t)
	ctx := context.Background()

	// Score present without a username mapping, as after a partial rebuild.
	if err := board.client.ZAdd(ctx, coinsKey, redis.Z{Score: 30, Member: "ghost"}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	entries, err := board.Top(ctx, 5)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "ghost" || entries[0].Username != "" {
		t.Errorf("expected ghost entry with empty username, got %+v", entries)
	}
}

func TestRank(t *testing.T) {
	board := newTestBoard(t)
	ctx := context.Background()

	board.Record(ctx, "u1", "ana", 50)
	board.Record(ctx, "u2", "bo", 120)

	rank, err := board.Rank(ctx, "u1")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if rank != 2 {
		t.Errorf("expected rank 2, got %d", rank)
	}

	rank, err = board.Rank(ctx, "nobody")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if rank != 0 {
		t.Errorf("absent user should rank 0, got %d", rank)
	}
}

func TestRebuildReplacesStaleEntries(t *testing.T) {
	board := newTestBoard(t)
	ctx := context.Background()

	board.Record(ctx, "stale", "stale", 999)

	snapshot := []storage.LeaderboardEntry{
		{UserID: "u1", Username: "ana", Coins: 40},
		{UserID: "u2", Username: "bo", Coins: 70},
	}
	if err := board.Rebuild(ctx, snapshot); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	entries, err := board.Top(ctx, 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after rebuild, got %d", len(entries))
	}
	if entries[0].UserID != "u2" || entries[1].UserID != "u1" {
		t.Errorf("unexpected order after rebuild: %+v", entries)
	}
}
