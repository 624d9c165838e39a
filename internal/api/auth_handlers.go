package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecoloop/ecoloop-server/internal/engine"
	"github.com/ecoloop/ecoloop-server/internal/models"
	"github.com/ecoloop/ecoloop-server/internal/storage"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if len(req.Username) < 3 {
		respondError(w, http.StatusBadRequest, "validation_error", "username must be at least 3 characters")
		return
	}
	if !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, "validation_error", "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "validation_error", "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to create account")
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Streak:       1,
		LastLogin:    &now,
		CreatedAt:    now,
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicateUser) {
			respondError(w, http.StatusConflict, "duplicate_user", "username or email already registered")
			return
		}
		slog.Error("failed to create user", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to create account")
		return
	}

	session, err := s.issueSession(r, user.ID)
	if err != nil {
		slog.Error("failed to create session", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)

	respondJSON(w, http.StatusCreated, authResponse{
		User:      user,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		slog.Error("failed to look up user", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "wrong username or password")
		return
	}

	// Logins drive the streak: next-day logins extend it, gaps reset it.
	now := time.Now().UTC()
	streak := engine.NextStreak(user.Streak, user.LastLogin, now)
	if err := s.store.UpdateUserLogin(r.Context(), user.ID, now, streak); err != nil {
		slog.Error("failed to update login streak", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}
	user.Streak = streak
	user.LastLogin = &now

	session, err := s.issueSession(r, user.ID)
	if err != nil {
		slog.Error("failed to create session", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}

	slog.Info("user logged in", "user_id", user.ID, "streak", streak)

	respondJSON(w, http.StatusOK, authResponse{
		User:      user,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token != "" {
		if err := s.store.DeleteSession(r.Context(), token); err != nil {
			slog.Warn("failed to delete session", "error", err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out",
	})
}

func (s *Server) issueSession(r *http.Request, userID string) (*models.Session, error) {
	token, err := models.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &models.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	if err := s.store.CreateSession(r.Context(), session); err != nil {
		return nil, err
	}

	return session, nil
}
