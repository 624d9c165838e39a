package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ecoloop/ecoloop-server/internal/catalog"
	"github.com/ecoloop/ecoloop-server/internal/config"
	"github.com/ecoloop/ecoloop-server/internal/engine"
	"github.com/ecoloop/ecoloop-server/internal/storage"
	"github.com/ecoloop/ecoloop-server/internal/verifier"
)

// Board is the slice of the leaderboard the API needs.
type Board interface {
	Record(ctx context.Context, userID, username string, coins int) error
	Top(ctx context.Context, limit int) ([]storage.LeaderboardEntry, error)
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	store          storage.Store
	catalog        *catalog.Catalog
	ledger         *engine.Ledger
	verifier       verifier.TaskVerifier
	board          Board
	sessionTTL     time.Duration
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	store storage.Store,
	cat *catalog.Catalog,
	ledger *engine.Ledger,
	taskVerifier verifier.TaskVerifier,
	board Board,
	sessionTTL time.Duration,
) *Server {
	s := &Server{
		config:         cfg,
		store:          store,
		catalog:        cat,
		ledger:         ledger,
		verifier:       taskVerifier,
		board:          board,
		sessionTTL:     sessionTTL,
		authMiddleware: NewAuthMiddleware(store),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Session-Token"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		// Account endpoints are the only unauthenticated API routes
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware.Authenticate)

			r.Post("/auth/logout", s.handleLogout)

			r.Route("/levels", func(r chi.Router) {
				r.Get("/", s.handleListLevels)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetLevel)
					r.Post("/events", s.handleStageEvent)
					r.Post("/task", s.handleSubmitTask)
				})
			})

			r.Get("/profile", s.handleProfile)
			r.Put("/profile/image", s.handleUpdateProfileImage)
			r.Post("/challenges/complete", s.handleCompleteChallenge)
			r.Get("/leaderboard", s.handleLeaderboard)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
