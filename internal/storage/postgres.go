package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecoloop/ecoloop-server/internal/engine"
	"github.com/ecoloop/ecoloop-server/internal/models"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	// Set pool configuration
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25 // default
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5 // default
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate runs all pending schema migrations from the given directory
func (s *PostgresStore) Migrate(ctx context.Context, migrationsDir string) error {
	return RunMigrations(ctx, s.pool, migrationsDir)
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Users ---

// CreateUser creates a new user record
func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, coins, xp, streak, last_login, profile_image, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		u.ID,
		u.Username,
		u.Email,
		u.PasswordHash,
		u.Coins,
		u.XP,
		u.Streak,
		nullTime(u.LastLogin),
		nullString(u.ProfileImage),
		u.CreatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by ID
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByUsername retrieves a user by username
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *PostgresStore) getUser(ctx context.Context, field, value string) (*models.User, error) {
	query := fmt.Sprintf(`
		SELECT id, username, email, password_hash, coins, xp, streak, last_login, profile_image, created_at
		FROM users
		WHERE %s = $1
	`, field)

	var u models.User
	var lastLogin sql.NullTime
	var profileImage sql.NullString

	err := s.pool.QueryRow(ctx, query, value).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Coins,
		&u.XP,
		&u.Streak,
		&lastLogin,
		&profileImage,
		&u.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	u.ProfileImage = profileImage.String

	return &u, nil
}

// UpdateUserLogin records a login: the new streak and last_login timestamp
func (s *PostgresStore) UpdateUserLogin(ctx context.Context, id string, lastLogin time.Time, streak int) error {
	query := `UPDATE users SET last_login = $2, streak = $3 WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, id, lastLogin, streak)
	if err != nil {
		return fmt.Errorf("failed to update user login: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	return nil
}

// UpdateUserProfileImage sets the user's profile image URL
func (s *PostgresStore) UpdateUserProfileImage(ctx context.Context, id, image string) error {
	query := `UPDATE users SET profile_image = $2 WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, id, nullString(image))
	if err != nil {
		return fmt.Errorf("failed to update profile image: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	return nil
}

// --- Sessions ---

// CreateSession creates a new session record
func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.Session) error {
	query := `
		INSERT INTO sessions (token, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, sess.Token, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSessionByToken retrieves a session by its token
func (s *PostgresStore) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT token, user_id, created_at, expires_at
		FROM sessions
		WHERE token = $1
	`

	var sess models.Session
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&sess.Token,
		&sess.UserID,
		&sess.CreatedAt,
		&sess.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &sess, nil
}

// DeleteSession deletes a session by token
func (s *PostgresStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all sessions past their expiry
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// --- Progress ---

// GetProgress retrieves the progress record for one (user, level) pair.
// Returns nil when the user has not touched the level yet.
func (s *PostgresStore) GetProgress(ctx context.Context, userID string, levelID int) (*models.ProgressRecord, error) {
	query := `
		SELECT user_id, level_id, status, stage, quiz_index, quiz_correct, stages_rewarded, completed_at
		FROM level_progress
		WHERE user_id = $1 AND level_id = $2
	`

	rec, err := scanProgress(s.pool.QueryRow(ctx, query, userID, levelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}

	return rec, nil
}

// ListProgress returns all progress records for a user
func (s *PostgresStore) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	query := `
		SELECT user_id, level_id, status, stage, quiz_index, quiz_correct, stages_rewarded, completed_at
		FROM level_progress
		WHERE user_id = $1
		ORDER BY level_id ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var records []*models.ProgressRecord
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CommitStageGrant applies a progress mutation and its coin/XP grant in one
// transaction. The user row is locked first so concurrent grants for the
// same user serialize, and the progress status never moves backward.
func (s *PostgresStore) CommitStageGrant(ctx context.Context, mut engine.Mutation) (*models.ProgressRecord, error) {
	rec := mut.Record

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var coins, xp int
	err = tx.QueryRow(ctx, `SELECT coins, xp FROM users WHERE id = $1 FOR UPDATE`, rec.UserID).Scan(&coins, &xp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %s", rec.UserID)
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	// A concurrent commit may have advanced the row past this mutation.
	// completed is terminal: once a record reaches it, later writes with an
	// earlier status are discarded and the stored row wins.
	current, err := scanProgress(tx.QueryRow(ctx, `
		SELECT user_id, level_id, status, stage, quiz_index, quiz_correct, stages_rewarded, completed_at
		FROM level_progress
		WHERE user_id = $1 AND level_id = $2
		FOR UPDATE
	`, rec.UserID, rec.LevelID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock progress: %w", err)
	}
	if current != nil && !rec.Status.AtLeast(current.Status) {
		return current, tx.Commit(ctx)
	}

	// The mutation was staged from a read outside this transaction; merge it
	// with the locked row so a concurrent twin of the same event cannot grant
	// twice or shrink the stage key set.
	rec, coinsDelta, xpDelta := reconcileGrant(mut, current)

	rewardedJSON, err := json.Marshal(rec.StagesRewarded)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage keys: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO level_progress (user_id, level_id, status, stage, quiz_index, quiz_correct, stages_rewarded, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, level_id) DO UPDATE
		SET status = EXCLUDED.status,
		    stage = EXCLUDED.stage,
		    quiz_index = EXCLUDED.quiz_index,
		    quiz_correct = EXCLUDED.quiz_correct,
		    stages_rewarded = EXCLUDED.stages_rewarded,
		    completed_at = EXCLUDED.completed_at
	`,
		rec.UserID,
		rec.LevelID,
		string(rec.Status),
		string(rec.Stage),
		rec.QuizIndex,
		rec.QuizCorrect,
		rewardedJSON,
		nullTime(rec.CompletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert progress: %w", err)
	}

	if coinsDelta != 0 || xpDelta != 0 {
		_, err = tx.Exec(ctx, `UPDATE users SET coins = coins + $2, xp = xp + $3 WHERE id = $1`,
			rec.UserID, coinsDelta, xpDelta)
		if err != nil {
			return nil, fmt.Errorf("failed to apply grant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}

	return rec, nil
}

// reconcileGrant merges a staged mutation with the locked row it is about to
// replace. The stored stage key set is grow-only, so keys already on the row
// are carried into the write, and a mutation that introduces no new key was
// already applied by a concurrent commit: its coin/XP delta is dropped.
func reconcileGrant(mut engine.Mutation, current *models.ProgressRecord) (*models.ProgressRecord, int, int) {
	rec := mut.Record.Clone()
	if current == nil {
		return rec, mut.CoinsDelta, mut.XPDelta
	}

	newKeys := false
	for key := range rec.StagesRewarded {
		if !current.StagesRewarded.Has(key) {
			newKeys = true
			break
		}
	}
	for key := range current.StagesRewarded {
		rec.StagesRewarded.Add(key)
	}

	if !newKeys {
		return rec, 0, 0
	}
	return rec, mut.CoinsDelta, mut.XPDelta
}

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (*models.ProgressRecord, error) {
	var rec models.ProgressRecord
	var statusStr, stageStr string
	var completedAt sql.NullTime
	var rewardedJSON []byte

	err := row.Scan(
		&rec.UserID,
		&rec.LevelID,
		&statusStr,
		&stageStr,
		&rec.QuizIndex,
		&rec.QuizCorrect,
		&rewardedJSON,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = models.ProgressStatus(statusStr)
	rec.Stage = models.Stage(stageStr)
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}

	rec.StagesRewarded = make(models.StageKeySet)
	if rewardedJSON != nil {
		if err := json.Unmarshal(rewardedJSON, &rec.StagesRewarded); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage keys: %w", err)
		}
	}

	return &rec, nil
}

// --- Challenges ---

// CreateChallengeCompletion records a completed challenge and its coin grant
// in one transaction
func (s *PostgresStore) CreateChallengeCompletion(ctx context.Context, c *models.ChallengeCompletion, coinsDelta int) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO challenge_completions (id, user_id, completed_at)
		VALUES ($1, $2, $3)
	`, c.ID, c.UserID, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create challenge completion: %w", err)
	}

	if coinsDelta != 0 {
		_, err = tx.Exec(ctx, `UPDATE users SET coins = coins + $2 WHERE id = $1`, c.UserID, coinsDelta)
		if err != nil {
			return fmt.Errorf("failed to grant challenge coins: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListChallengeCompletions returns all challenge completions for a user
func (s *PostgresStore) ListChallengeCompletions(ctx context.Context, userID string) ([]models.ChallengeCompletion, error) {
	query := `
		SELECT id, user_id, completed_at
		FROM challenge_completions
		WHERE user_id = $1
		ORDER BY completed_at ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenge completions: %w", err)
	}
	defer rows.Close()

	var completions []models.ChallengeCompletion
	for rows.Next() {
		var c models.ChallengeCompletion
		if err := rows.Scan(&c.ID, &c.UserID, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan challenge completion: %w", err)
		}
		completions = append(completions, c)
	}

	return completions, rows.Err()
}

// --- Leaderboard ---

// TopUsersByCoins returns the highest-coin users, richest first
func (s *PostgresStore) TopUsersByCoins(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	query := `
		SELECT id, username, coins
		FROM users
		ORDER BY coins DESC, username ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Coins); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Helper functions for nullable values

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
