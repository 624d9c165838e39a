package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ecoloop/ecoloop-server/internal/storage"
)

// AuthMiddleware handles session token authentication
type AuthMiddleware struct {
	store storage.Store
}

// NewAuthMiddleware creates new auth middleware
func NewAuthMiddleware(store storage.Store) *AuthMiddleware {
	return &AuthMiddleware{store: store}
}

// Authenticate verifies the session token from the Authorization header.
// Supports "Bearer <token>" or a raw token, with X-Session-Token as a
// fallback header.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing token", "provide Authorization header with Bearer token or X-Session-Token header")
			return
		}

		session, err := m.store.GetSessionByToken(r.Context(), token)
		if err != nil {
			slog.Error("failed to lookup session", "error", err, "token_prefix", maskToken(token))
			writeAuthError(w, http.StatusInternalServerError, "authentication error", "internal server error")
			return
		}

		if session == nil {
			slog.Warn("invalid session token attempt", "token_prefix", maskToken(token), "remote_addr", r.RemoteAddr)
			writeAuthError(w, http.StatusUnauthorized, "invalid token", "the provided session token is not valid")
			return
		}

		if session.IsExpired() {
			slog.Debug("expired session attempt", "user_id", session.UserID)
			writeAuthError(w, http.StatusUnauthorized, "session expired", "please log in again")
			return
		}

		user, err := m.store.GetUserByID(r.Context(), session.UserID)
		if err != nil {
			slog.Error("failed to load session user", "error", err, "user_id", session.UserID)
			writeAuthError(w, http.StatusInternalServerError, "authentication error", "internal server error")
			return
		}

		if user == nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid token", "the session's account no longer exists")
			return
		}

		ctx := ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken extracts the session token from request headers
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}

	return r.Header.Get("X-Session-Token")
}

// maskToken returns first 8 chars of a token for safe logging
func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:8] + "..."
}

// AuthError represents an authentication error response
type AuthError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeAuthError writes JSON error response
func writeAuthError(w http.ResponseWriter, status int, error, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(AuthError{
		Error:   error,
		Message: message,
	})
}
