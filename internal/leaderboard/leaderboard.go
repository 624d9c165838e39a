// Package leaderboard keeps the community coins ranking in a Redis sorted
// set. Postgres stays the source of truth; the set is a read cache that is
// updated on every grant and rebuilt periodically.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ecoloop/ecoloop-server/internal/storage"
)

const coinsKey = "leaderboard:coins"

func usernameKey(userID string) string {
	return fmt.Sprintf("leaderboard:username:%s", userID)
}

// Leaderboard serves the coins ranking from Redis.
type Leaderboard struct {
	client *redis.Client
}

// New connects to Redis and returns a leaderboard.
func New(address, password string) (*Leaderboard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Leaderboard{client: client}, nil
}

// Record updates one user's score and display name.
func (l *Leaderboard) Record(ctx context.Context, userID, username string, coins int) error {
	pipe := l.client.Pipeline()
	pipe.ZAdd(ctx, coinsKey, redis.Z{Score: float64(coins), Member: userID})
	pipe.Set(ctx, usernameKey(userID), username, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record score: %w", err)
	}
	return nil
}

// Top returns the highest-coin entries, richest first.
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]storage.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	scores, err := l.client.ZRevRangeWithScores(ctx, coinsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	pipe := l.client.Pipeline()
	names := make([]*redis.StringCmd, len(scores))
	for i, z := range scores {
		userID, _ := z.Member.(string)
		names[i] = pipe.Get(ctx, usernameKey(userID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read usernames: %w", err)
	}

	entries := make([]storage.LeaderboardEntry, 0, len(scores))
	for i, z := range scores {
		userID, _ := z.Member.(string)
		username, err := names[i].Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to read username: %w", err)
		}
		entries = append(entries, storage.LeaderboardEntry{
			UserID:   userID,
			Username: username,
			Coins:    int(z.Score),
		})
	}

	return entries, nil
}

// Rank returns a user's 1-based position, or 0 when absent.
func (l *Leaderboard) Rank(ctx context.Context, userID string) (int, error) {
	rank, err := l.client.ZRevRank(ctx, coinsKey, userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rank: %w", err)
	}
	return int(rank) + 1, nil
}

// Rebuild replaces the cached ranking with the given database snapshot.
func (l *Leaderboard) Rebuild(ctx context.Context, entries []storage.LeaderboardEntry) error {
	pipe := l.client.Pipeline()
	pipe.Del(ctx, coinsKey)
	for _, e := range entries {
		pipe.ZAdd(ctx, coinsKey, redis.Z{Score: float64(e.Coins), Member: e.UserID})
		pipe.Set(ctx, usernameKey(e.UserID), e.Username, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rebuild leaderboard: %w", err)
	}
	return nil
}

// HealthCheck verifies Redis connectivity.
func (l *Leaderboard) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *Leaderboard) Close() error {
	return l.client.Close()
}
