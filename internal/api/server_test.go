package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/ecoloop/ecoloop-server/internal/catalog"
	"github.com/ecoloop/ecoloop-server/internal/config"
	"github.com/ecoloop/ecoloop-server/internal/engine"
	"github.com/ecoloop/ecoloop-server/internal/models"
	"github.com/ecoloop/ecoloop-server/internal/storage"
	"github.com/ecoloop/ecoloop-server/internal/verifier"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	users       map[string]*models.User
	sessions    map[string]*models.Session
	progress    map[string]*models.ProgressRecord
	completions []models.ChallengeCompletion
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.Session),
		progress: make(map[string]*models.ProgressRecord),
	}
}

func progressKey(userID string, levelID int) string {
	return fmt.Sprintf("%s/%d", userID, levelID)
}

func (f *fakeStore) CreateUser(_ context.Context, u *models.User) error {
	for _, existing := range f.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return storage.ErrDuplicateUser
		}
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateUserLogin(_ context.Context, id string, lastLogin time.Time, streak int) error {
	u, ok := f.users[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	u.LastLogin = &lastLogin
	u.Streak = streak
	return nil
}

func (f *fakeStore) UpdateUserProfileImage(_ context.Context, id, image string) error {
	u, ok := f.users[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	u.ProfileImage = image
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, s *models.Session) error {
	cp := *s
	f.sessions[s.Token] = &cp
	return nil
}

func (f *fakeStore) GetSessionByToken(_ context.Context, token string) (*models.Session, error) {
	s, ok := f.sessions[token]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) DeleteSession(_ context.Context, token string) error {
	delete(f.sessions, token)
	return nil
}

func (f *fakeStore) DeleteExpiredSessions(_ context.Context) (int64, error) {
	var n int64
	for token, s := range f.sessions {
		if s.IsExpired() {
			delete(f.sessions, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetProgress(_ context.Context, userID string, levelID int) (*models.ProgressRecord, error) {
	rec, ok := f.progress[progressKey(userID, levelID)]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (f *fakeStore) ListProgress(_ context.Context, userID string) ([]*models.ProgressRecord, error) {
	var records []*models.ProgressRecord
	for _, rec := range f.progress {
		if rec.UserID == userID {
			records = append(records, rec.Clone())
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].LevelID < records[j].LevelID })
	return records, nil
}

func (f *fakeStore) CommitStageGrant(_ context.Context, mut engine.Mutation) (*models.ProgressRecord, error) {
	u, ok := f.users[mut.Record.UserID]
	if !ok {
		return nil, fmt.Errorf("user not found: %s", mut.Record.UserID)
	}
	u.Coins += mut.CoinsDelta
	u.XP += mut.XPDelta
	f.progress[progressKey(mut.Record.UserID, mut.Record.LevelID)] = mut.Record.Clone()
	return mut.Record.Clone(), nil
}

func (f *fakeStore) CreateChallengeCompletion(_ context.Context, c *models.ChallengeCompletion, coinsDelta int) error {
	u, ok := f.users[c.UserID]
	if !ok {
		return fmt.Errorf("user not found: %s", c.UserID)
	}
	u.Coins += coinsDelta
	f.completions = append(f.completions, *c)
	return nil
}

func (f *fakeStore) ListChallengeCompletions(_ context.Context, userID string) ([]models.ChallengeCompletion, error) {
	var out []models.ChallengeCompletion
	for _, c := range f.completions {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) TopUsersByCoins(_ context.Context, limit int) ([]storage.LeaderboardEntry, error) {
	var entries []storage.LeaderboardEntry
	for _, u := range f.users {
		entries = append(entries, storage.LeaderboardEntry{UserID: u.ID, Username: u.Username, Coins: u.Coins})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Coins > entries[j].Coins })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

// fakeBoard records scores in memory and can be forced to fail.
type fakeBoard struct {
	scores map[string]int
	fail   bool
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{scores: make(map[string]int)}
}

func (b *fakeBoard) Record(_ context.Context, userID, _ string, coins int) error {
	if b.fail {
		return errors.New("redis down")
	}
	b.scores[userID] = coins
	return nil
}

func (b *fakeBoard) Top(context.Context, int) ([]storage.LeaderboardEntry, error) {
	if b.fail {
		return nil, errors.New("redis down")
	}
	var entries []storage.LeaderboardEntry
	for id, coins := range b.scores {
		entries = append(entries, storage.LeaderboardEntry{UserID: id, Coins: coins})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Coins > entries[j].Coins })
	return entries, nil
}

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Add(&models.Level{
		ID:              1,
		Title:           "Forest Guardians",
		Theme:           models.ThemeForest,
		XPReward:        100,
		TaskDescription: "Plant a sapling.",
		TaskTag:         "planting",
		Questions: []models.Question{
			{Text: "q0", Options: []string{"right", "wrong"}, CorrectIndex: 0, Difficulty: 1},
		},
	})
	return c
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore, *fakeBoard) {
	t.Helper()

	store := newFakeStore()
	board := newFakeBoard()
	cat := testCatalog()
	ledger := engine.NewLedger(store, cat)

	srv := NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 0},
		store,
		cat,
		ledger,
		verifier.NewMockVerifier(),
		board,
		time.Hour,
	)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store, board
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, method, url, token string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func registerUser(t *testing.T, ts *httptest.Server, username string) string {
	t.Helper()

	status, env := doJSON(t, "POST", ts.URL+"/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "hunter2hunter2",
	})
	if status != http.StatusCreated {
		t.Fatalf("register status = %d", status)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		t.Fatalf("decode auth: %v", err)
	}
	if auth.Token == "" {
		t.Fatal("register returned no token")
	}
	return auth.Token
}

func TestRegisterValidation(t *testing.T) {
	ts, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"short username", map[string]string{"username": "ab", "email": "a@b.c", "password": "hunter2hunter2"}},
		{"bad email", map[string]string{"username": "alice", "email": "nope", "password": "hunter2hunter2"}},
		{"short password", map[string]string{"username": "alice", "email": "a@b.c", "password": "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := doJSON(t, "POST", ts.URL+"/api/v1/auth/register", "", tt.body)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", status)
			}
			if env.Error == nil || env.Error.Code != "validation_error" {
				t.Errorf("error = %+v, want validation_error", env.Error)
			}
		})
	}
}

func TestDuplicateRegistration(t *testing.T) {
	ts, _, _ := newTestServer(t)
	registerUser(t, ts, "alice")

	status, env := doJSON(t, "POST", ts.URL+"/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	})
	if status != http.StatusConflict {
		t.Errorf("status = %d, want 409", status)
	}
	if env.Error == nil || env.Error.Code != "duplicate_user" {
		t.Errorf("error = %+v, want duplicate_user", env.Error)
	}
}

func TestLoginAndProfile(t *testing.T) {
	ts, _, _ := newTestServer(t)
	registerUser(t, ts, "alice")

	status, env := doJSON(t, "POST", ts.URL+"/api/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "hunter2hunter2",
	})
	if status != http.StatusOK {
		t.Fatalf("login status = %d", status)
	}

	var auth struct {
		Token string `json:"token"`
		User  struct {
			Streak int `json:"streak"`
		} `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		t.Fatalf("decode auth: %v", err)
	}
	// Registration counted as today's activity; a same-day login keeps it.
	if auth.User.Streak != 1 {
		t.Errorf("streak = %d, want 1", auth.User.Streak)
	}

	status, env = doJSON(t, "GET", ts.URL+"/api/v1/profile", auth.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("profile status = %d", status)
	}

	var profile struct {
		Profile struct {
			Rank   string `json:"rank"`
			Badges []struct {
				Name string `json:"name"`
			} `json:"badges"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Profile.Rank != "Eco Beginner" {
		t.Errorf("rank = %q", profile.Profile.Rank)
	}
	if len(profile.Profile.Badges) != 1 || profile.Profile.Badges[0].Name != "Newbie" {
		t.Errorf("badges = %+v", profile.Profile.Badges)
	}
}

func TestWrongPassword(t *testing.T) {
	ts, _, _ := newTestServer(t)
	registerUser(t, ts, "alice")

	status, _ := doJSON(t, "POST", ts.URL+"/api/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "not-the-password",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, _ := http.NewRequest("GET", ts.URL+"/api/v1/profile", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestFullLevelProgression(t *testing.T) {
	ts, store, board := newTestServer(t)
	token := registerUser(t, ts, "alice")
	eventsURL := ts.URL + "/api/v1/levels/1/events"

	// Watch the video: +10 coins.
	status, env := doJSON(t, "POST", eventsURL, token, map[string]any{"type": "video_watched"})
	if status != http.StatusOK {
		t.Fatalf("video event status = %d", status)
	}
	var result struct {
		CoinsGranted int  `json:"coins_granted"`
		QuizPassed   bool `json:"quiz_passed"`
	}
	json.Unmarshal(env.Data, &result)
	if result.CoinsGranted != 10 {
		t.Errorf("video coins = %d, want 10", result.CoinsGranted)
	}

	// Re-delivery is a no-op.
	status, env = doJSON(t, "POST", eventsURL, token, map[string]any{"type": "video_watched"})
	if status != http.StatusOK {
		t.Fatalf("duplicate video status = %d", status)
	}
	json.Unmarshal(env.Data, &result)
	if result.CoinsGranted != 0 {
		t.Errorf("duplicate video coins = %d, want 0", result.CoinsGranted)
	}

	// Acknowledge the recap, answer the single question correctly.
	status, _ = doJSON(t, "POST", eventsURL, token, map[string]any{"type": "info_acknowledged"})
	if status != http.StatusOK {
		t.Fatalf("info event status = %d", status)
	}
	status, env = doJSON(t, "POST", eventsURL, token, map[string]any{
		"type": "answer_submitted", "question_index": 0, "option_index": 0,
	})
	if status != http.StatusOK {
		t.Fatalf("answer status = %d", status)
	}
	json.Unmarshal(env.Data, &result)
	if result.CoinsGranted != 5 || !result.QuizPassed {
		t.Errorf("answer result = %+v", result)
	}

	// Submit the task photo; the mock verifier approves it.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("photo", "sapling.jpg")
	part.Write([]byte{0xFF, 0xD8, 0xFF})
	mw.Close()

	req, _ := http.NewRequest("POST", ts.URL+"/api/v1/levels/1/task", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("task submit failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("task status = %d", resp.StatusCode)
	}

	var taskEnv envelope
	json.NewDecoder(resp.Body).Decode(&taskEnv)
	var task struct {
		Verified bool `json:"verified"`
		Result   *struct {
			CoinsGranted   int  `json:"coins_granted"`
			XPGranted      int  `json:"xp_granted"`
			LevelCompleted bool `json:"level_completed"`
		} `json:"result"`
	}
	json.Unmarshal(taskEnv.Data, &task)
	if !task.Verified || task.Result == nil {
		t.Fatalf("task response = %+v", task)
	}
	if task.Result.CoinsGranted != 20 || task.Result.XPGranted != 100 || !task.Result.LevelCompleted {
		t.Errorf("completion result = %+v", task.Result)
	}

	// Final balance: 10 + 5 + 20.
	var userID string
	for id := range store.users {
		userID = id
	}
	if store.users[userID].Coins != 35 {
		t.Errorf("coins = %d, want 35", store.users[userID].Coins)
	}
	if store.users[userID].XP != 100 {
		t.Errorf("xp = %d, want 100", store.users[userID].XP)
	}
	if board.scores[userID] != 35 {
		t.Errorf("leaderboard score = %d, want 35", board.scores[userID])
	}
}

func TestStageEventRejectsTaskType(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := registerUser(t, ts, "alice")

	status, _ := doJSON(t, "POST", ts.URL+"/api/v1/levels/1/events", token, map[string]any{"type": "task_verified"})
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestStageEventIllegalJump(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := registerUser(t, ts, "alice")

	status, env := doJSON(t, "POST", ts.URL+"/api/v1/levels/1/events", token, map[string]any{"type": "info_acknowledged"})
	if status != http.StatusConflict {
		t.Errorf("status = %d, want 409", status)
	}
	if env.Error == nil || env.Error.Code != "invalid_transition" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestUnknownLevel(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := registerUser(t, ts, "alice")

	status, _ := doJSON(t, "POST", ts.URL+"/api/v1/levels/99/events", token, map[string]any{"type": "video_watched"})
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestChallengeCompletion(t *testing.T) {
	ts, store, _ := newTestServer(t)
	token := registerUser(t, ts, "alice")

	status, env := doJSON(t, "POST", ts.URL+"/api/v1/challenges/complete", token, nil)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}

	var result struct {
		CoinsGranted int `json:"coins_granted"`
	}
	json.Unmarshal(env.Data, &result)
	if result.CoinsGranted != coinsChallengeComplete {
		t.Errorf("coins = %d, want %d", result.CoinsGranted, coinsChallengeComplete)
	}
	if len(store.completions) != 1 {
		t.Errorf("completions = %d, want 1", len(store.completions))
	}
}

func TestLeaderboardFallback(t *testing.T) {
	ts, _, board := newTestServer(t)
	token := registerUser(t, ts, "alice")

	board.fail = true
	status, env := doJSON(t, "GET", ts.URL+"/api/v1/leaderboard", token, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 via database fallback", status)
	}

	var result struct {
		Entries []storage.LeaderboardEntry `json:"entries"`
	}
	json.Unmarshal(env.Data, &result)
	if len(result.Entries) != 1 || result.Entries[0].Username != "alice" {
		t.Errorf("entries = %+v", result.Entries)
	}
}

func TestLevelViewHidesAnswers(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := registerUser(t, ts, "alice")

	req, _ := http.NewRequest("GET", ts.URL+"/api/v1/levels/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var raw bytes.Buffer
	raw.ReadFrom(resp.Body)
	if bytes.Contains(raw.Bytes(), []byte("correct_index")) {
		t.Error("level response must not leak correct_index")
	}
}
