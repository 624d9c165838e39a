package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// User is the server-authoritative account state. Coins, XP and streak are
// only ever written by the engine (grants) and the login path (streak).
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Coins        int        `json:"coins"`
	XP           int        `json:"xp"`
	Streak       int        `json:"streak"` // consecutive active days
	LastLogin    *time.Time `json:"last_login,omitempty"`
	ProfileImage string     `json:"profile_image,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ProgressStatus is the lifecycle state of a user's progress on one level.
// It only moves forward: not_started -> in_progress -> completed.
type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// rankOf orders statuses for forward-only checks.
func (s ProgressStatus) rank() int {
	switch s {
	case ProgressInProgress:
		return 1
	case ProgressCompleted:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s is as far along as other.
func (s ProgressStatus) AtLeast(other ProgressStatus) bool {
	return s.rank() >= other.rank()
}

// StageKeySet is the set of stage keys already granted on a progress record.
// It only grows; keys are never removed.
type StageKeySet map[string]bool

// Has reports whether the key has already been granted.
func (s StageKeySet) Has(key string) bool { return s[key] }

// Add inserts a key. The receiver must be non-nil.
func (s StageKeySet) Add(key string) { s[key] = true }

// Clone returns an independent copy of the set.
func (s StageKeySet) Clone() StageKeySet {
	out := make(StageKeySet, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

// ProgressRecord is the durable per-(user, level) progress state. Created
// lazily on the first stage event, mutated only by the reward ledger, never
// deleted.
type ProgressRecord struct {
	UserID         string         `json:"user_id"`
	LevelID        int            `json:"level_id"`
	Status         ProgressStatus `json:"status"`
	Stage          Stage          `json:"stage"`
	QuizIndex      int            `json:"quiz_index"`   // next unanswered question
	QuizCorrect    int            `json:"quiz_correct"` // correct answers this attempt
	StagesRewarded StageKeySet    `json:"stages_rewarded"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// NewProgressRecord returns the initial record for an unstarted level.
func NewProgressRecord(userID string, levelID int) *ProgressRecord {
	return &ProgressRecord{
		UserID:         userID,
		LevelID:        levelID,
		Status:         ProgressNotStarted,
		Stage:          StageVideo,
		StagesRewarded: make(StageKeySet),
	}
}

// Clone returns a deep copy so callers can stage mutations without touching
// the loaded record.
func (p *ProgressRecord) Clone() *ProgressRecord {
	cp := *p
	cp.StagesRewarded = p.StagesRewarded.Clone()
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ChallengeCompletion records one completed community challenge. The content
// of the challenge is external; only the timestamp matters to the engine.
type ChallengeCompletion struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Session is an opaque login session.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired checks whether the session is past its expiry.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// GenerateSessionToken creates a cryptographically random 48-char hex token.
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
