package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ecoloop/ecoloop-server/internal/engine"
	"github.com/ecoloop/ecoloop-server/internal/models"
)

// maxTaskPhotoBytes caps task photo uploads at 10 MiB.
const maxTaskPhotoBytes = 10 << 20

// coinsChallengeComplete is the flat grant for a community challenge.
const coinsChallengeComplete = 15

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondLedgerError maps reward ledger errors onto HTTP statuses.
func respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownLevel):
		respondError(w, http.StatusNotFound, "level_not_found", "level not found")
	case errors.Is(err, engine.ErrQuizIndexOutOfRange):
		respondError(w, http.StatusBadRequest, "invalid_question", "question index out of range")
	case errors.Is(err, engine.ErrInvalidStageTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	default:
		slog.Error("stage event failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to apply stage event")
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "database not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Level views. Quiz answers never leave the server: question views carry
// options only, the grading happens in the reward ledger.

type questionView struct {
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Difficulty int      `json:"difficulty"`
}

type levelView struct {
	ID              int            `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Theme           models.Theme   `json:"theme"`
	XPReward        int            `json:"xp_reward"`
	VideoID         string         `json:"video_id"`
	InfoContent     string         `json:"info_content"`
	TaskDescription string         `json:"task_description"`
	TaskTag         string         `json:"task_tag"`
	Questions       []questionView `json:"questions"`

	// Per-user progress, present when the user has touched the level.
	Status models.ProgressStatus `json:"status"`
	Stage  models.Stage          `json:"stage,omitempty"`
}

func newLevelView(level *models.Level, rec *models.ProgressRecord) levelView {
	v := levelView{
		ID:              level.ID,
		Title:           level.Title,
		Description:     level.Description,
		Theme:           level.Theme,
		XPReward:        level.XPReward,
		VideoID:         level.VideoID,
		InfoContent:     level.InfoContent,
		TaskDescription: level.TaskDescription,
		TaskTag:         level.TaskTag,
		Status:          models.ProgressNotStarted,
		Stage:           models.StageVideo,
	}
	for _, q := range engine.ActiveQuestions(level) {
		v.Questions = append(v.Questions, questionView{
			Text:       q.Text,
			Options:    q.Options,
			Difficulty: q.Difficulty,
		})
	}
	if rec != nil {
		v.Status = rec.Status
		v.Stage = rec.Stage
	}
	return v
}

// Level handlers

func (s *Server) handleListLevels(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	progress, err := s.store.ListProgress(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list progress", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load progress")
		return
	}

	byLevel := make(map[int]*models.ProgressRecord, len(progress))
	for _, p := range progress {
		byLevel[p.LevelID] = p
	}

	levels := s.catalog.List()
	views := make([]levelView, 0, len(levels))
	for _, level := range levels {
		views = append(views, newLevelView(level, byLevel[level.ID]))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"levels": views,
		"total":  len(views),
	})
}

func (s *Server) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	levelID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "level id must be an integer")
		return
	}

	level, ok := s.catalog.Level(levelID)
	if !ok {
		respondError(w, http.StatusNotFound, "level_not_found", "level not found")
		return
	}

	rec, err := s.store.GetProgress(r.Context(), user.ID, levelID)
	if err != nil {
		slog.Error("failed to get progress", "error", err, "user_id", user.ID, "level_id", levelID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load progress")
		return
	}

	respondJSON(w, http.StatusOK, newLevelView(level, rec))
}

// Stage event handler

type stageEventRequest struct {
	Type          string `json:"type"`
	QuestionIndex int    `json:"question_index"`
	OptionIndex   int    `json:"option_index"`
}

func (s *Server) handleStageEvent(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	levelID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "level id must be an integer")
		return
	}

	var req stageEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	ev := engine.StageEvent{
		Type:          engine.EventType(req.Type),
		QuestionIndex: req.QuestionIndex,
		OptionIndex:   req.OptionIndex,
	}

	// Task completion only enters through the photo submission endpoint.
	if ev.Type == engine.EventTaskVerified {
		respondError(w, http.StatusBadRequest, "invalid_request", "task completion requires a photo submission")
		return
	}
	if !ev.Type.IsValid() {
		respondError(w, http.StatusBadRequest, "invalid_request", "unknown event type")
		return
	}

	result, err := s.ledger.ApplyStageEvent(r.Context(), user.ID, levelID, ev)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	s.syncLeaderboard(r, user.ID, result)
	respondJSON(w, http.StatusOK, result)
}

// Task submission handler

type taskSubmissionResponse struct {
	Verified   bool                `json:"verified"`
	Confidence float64             `json:"confidence"`
	Feedback   string              `json:"feedback"`
	Result     *engine.ApplyResult `json:"result,omitempty"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	levelID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "level id must be an integer")
		return
	}

	level, ok := s.catalog.Level(levelID)
	if !ok {
		respondError(w, http.StatusNotFound, "level_not_found", "level not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTaskPhotoBytes)
	if err := r.ParseMultipartForm(maxTaskPhotoBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with a photo field")
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "photo field is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "failed to read photo")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	verdict, err := s.verifier.VerifyImage(r.Context(), level, image, mimeType)
	if err != nil {
		slog.Error("task verification failed", "error", err, "level_id", levelID, "user_id", user.ID)
		respondError(w, http.StatusBadGateway, "verification_unavailable", "photo verification is temporarily unavailable")
		return
	}

	resp := taskSubmissionResponse{
		Verified:   verdict.Verified,
		Confidence: verdict.Confidence,
		Feedback:   verdict.Feedback,
	}

	if !verdict.Verified {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	result, err := s.ledger.ApplyStageEvent(r.Context(), user.ID, levelID, engine.StageEvent{Type: engine.EventTaskVerified})
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	s.syncLeaderboard(r, user.ID, result)
	resp.Result = result
	respondJSON(w, http.StatusOK, resp)
}

// Profile handler

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	progress, err := s.store.ListProgress(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list progress", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load progress")
		return
	}

	completions, err := s.store.ListChallengeCompletions(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list challenge completions", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load challenges")
		return
	}

	profile := engine.Derive(user, progress, completions, s.catalog, nil)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":     user,
		"profile":  profile,
		"progress": progress,
	})
}

type profileImageRequest struct {
	ProfileImage string `json:"profile_image"`
}

func (s *Server) handleUpdateProfileImage(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req profileImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := s.store.UpdateUserProfileImage(r.Context(), user.ID, req.ProfileImage); err != nil {
		slog.Error("failed to update profile image", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to update profile image")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"profile_image": req.ProfileImage,
	})
}

// Challenge handler

func (s *Server) handleCompleteChallenge(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	completion := &models.ChallengeCompletion{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		CompletedAt: time.Now().UTC(),
	}

	if err := s.store.CreateChallengeCompletion(r.Context(), completion, coinsChallengeComplete); err != nil {
		slog.Error("failed to record challenge completion", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to record challenge")
		return
	}

	slog.Info("challenge completed", "user_id", user.ID, "coins", coinsChallengeComplete)

	s.syncLeaderboard(r, user.ID, nil)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"completion":    completion,
		"coins_granted": coinsChallengeComplete,
	})
}

// Leaderboard handler

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	entries, err := s.board.Top(r.Context(), limit)
	if err != nil {
		// Redis is a cache; fall back to the database ranking.
		slog.Warn("leaderboard cache unavailable, falling back to database", "error", err)
		entries, err = s.store.TopUsersByCoins(r.Context(), limit)
		if err != nil {
			slog.Error("failed to load leaderboard", "error", err)
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to load leaderboard")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

// syncLeaderboard pushes the user's fresh coin balance into the Redis
// ranking after a grant. Failures are logged, never surfaced: the periodic
// rebuild repairs any drift.
func (s *Server) syncLeaderboard(r *http.Request, userID string, result *engine.ApplyResult) {
	if result != nil && result.CoinsGranted == 0 {
		return
	}

	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil || user == nil {
		slog.Warn("failed to reload user for leaderboard sync", "error", err, "user_id", userID)
		return
	}

	if err := s.board.Record(r.Context(), user.ID, user.Username, user.Coins); err != nil {
		slog.Warn("failed to sync leaderboard", "error", err, "user_id", userID)
	}
}
