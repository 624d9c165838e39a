package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ecoloop/ecoloop-server/internal/engine"
	"github.com/ecoloop/ecoloop-server/internal/models"
)

// ErrDuplicateUser is returned when a username or email is already taken.
var ErrDuplicateUser = errors.New("username or email already registered")

// LeaderboardEntry is one row of the coins ranking.
type LeaderboardEntry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Coins    int    `json:"coins"`
}

// Store defines the interface for user, session and progress persistence.
// It includes engine.ProgressStore so the reward ledger can commit grants
// through the same backend.
type Store interface {
	engine.ProgressStore

	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUserLogin(ctx context.Context, id string, lastLogin time.Time, streak int) error
	UpdateUserProfileImage(ctx context.Context, id, image string) error

	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Progress
	ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error)

	// Challenges
	CreateChallengeCompletion(ctx context.Context, c *models.ChallengeCompletion, coinsDelta int) error
	ListChallengeCompletions(ctx context.Context, userID string) ([]models.ChallengeCompletion, error)

	// Leaderboard
	TopUsersByCoins(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}
