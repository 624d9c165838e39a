// Package client is a Go SDK for the ecoloop-server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Client is a Go SDK for the ecoloop-server API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithToken sets an existing session token
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a new ecoloop-server client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Token returns the current session token
func (c *Client) Token() string {
	return c.token
}

// User represents an account in API responses
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Coins     int        `json:"coins"`
	XP        int        `json:"xp"`
	Streak    int        `json:"streak"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuthResult is the response to register and login
type AuthResult struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Question is a quiz question as exposed by the API. The correct option is
// never included; answers are graded server-side.
type Question struct {
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Difficulty int      `json:"difficulty"`
}

// Level is a catalog level with the caller's progress folded in
type Level struct {
	ID              int        `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Theme           string     `json:"theme"`
	XPReward        int        `json:"xp_reward"`
	VideoID         string     `json:"video_id"`
	InfoContent     string     `json:"info_content"`
	TaskDescription string     `json:"task_description"`
	TaskTag         string     `json:"task_tag"`
	Questions       []Question `json:"questions"`
	Status          string     `json:"status"`
	Stage           string     `json:"stage,omitempty"`
}

// StageEvent is a progression event to apply against a level
type StageEvent struct {
	Type          string `json:"type"`
	QuestionIndex int    `json:"question_index,omitempty"`
	OptionIndex   int    `json:"option_index,omitempty"`
}

// Progress is the per-level progress state
type Progress struct {
	UserID      string     `json:"user_id"`
	LevelID     int        `json:"level_id"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StageResult reports what a stage event changed
type StageResult struct {
	Record         *Progress `json:"record"`
	CoinsGranted   int       `json:"coins_granted"`
	XPGranted      int       `json:"xp_granted"`
	AnswerCorrect  bool      `json:"answer_correct,omitempty"`
	QuizFinished   bool      `json:"quiz_finished,omitempty"`
	QuizPassed     bool      `json:"quiz_passed,omitempty"`
	LevelCompleted bool      `json:"level_completed,omitempty"`
}

// TaskResult is the response to a task photo submission
type TaskResult struct {
	Verified   bool         `json:"verified"`
	Confidence float64      `json:"confidence"`
	Feedback   string       `json:"feedback"`
	Result     *StageResult `json:"result,omitempty"`
}

// Badge is an unlocked achievement badge
type Badge struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Impact is the estimated environmental impact of the user's activity
type Impact struct {
	CO2   float64 `json:"co2"`
	Water float64 `json:"water"`
	Waste float64 `json:"waste"`
}

// Profile is the derived profile statistics
type Profile struct {
	Rank            string  `json:"rank"`
	MaxLevel        int     `json:"max_level"`
	CompletedLevels int     `json:"completed_levels"`
	Badges          []Badge `json:"badges"`
	Impact          Impact  `json:"impact"`
}

// ProfileResult bundles the account with its derived statistics
type ProfileResult struct {
	User     *User       `json:"user"`
	Profile  *Profile    `json:"profile"`
	Progress []*Progress `json:"progress"`
}

// LeaderboardEntry is one row of the coins ranking
type LeaderboardEntry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Coins    int    `json:"coins"`
}

// Register creates an account and stores the returned session token
func (c *Client) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result AuthResult
	if err := c.call(ctx, "POST", "/api/v1/auth/register", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}

	c.token = result.Token
	return &result, nil
}

// Login authenticates and stores the returned session token
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result AuthResult
	if err := c.call(ctx, "POST", "/api/v1/auth/login", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}

	c.token = result.Token
	return &result, nil
}

// Logout invalidates the current session token
func (c *Client) Logout(ctx context.Context) error {
	if err := c.call(ctx, "POST", "/api/v1/auth/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// ListLevels retrieves all levels with the caller's progress
func (c *Client) ListLevels(ctx context.Context) ([]*Level, error) {
	var result struct {
		Levels []*Level `json:"levels"`
		Total  int      `json:"total"`
	}
	if err := c.call(ctx, "GET", "/api/v1/levels", nil, &result); err != nil {
		return nil, err
	}
	return result.Levels, nil
}

// GetLevel retrieves one level
func (c *Client) GetLevel(ctx context.Context, id int) (*Level, error) {
	var result Level
	if err := c.call(ctx, "GET", fmt.Sprintf("/api/v1/levels/%d", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendStageEvent applies a progression event against a level
func (c *Client) SendStageEvent(ctx context.Context, levelID int, ev StageEvent) (*StageResult, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result StageResult
	if err := c.call(ctx, "POST", fmt.Sprintf("/api/v1/levels/%d/events", levelID), bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitTask uploads a task photo for verification
func (c *Client) SubmitTask(ctx context.Context, levelID int, photo []byte, filename string) (*TaskResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return nil, fmt.Errorf("failed to write photo: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	path := fmt.Sprintf("/api/v1/levels/%d/task", levelID)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result TaskResult
	if err := parseEnvelope(respBody, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProfile retrieves the caller's account and derived statistics
func (c *Client) GetProfile(ctx context.Context) (*ProfileResult, error) {
	var result ProfileResult
	if err := c.call(ctx, "GET", "/api/v1/profile", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CompleteChallenge records a community challenge completion
func (c *Client) CompleteChallenge(ctx context.Context) (int, error) {
	var result struct {
		CoinsGranted int `json:"coins_granted"`
	}
	if err := c.call(ctx, "POST", "/api/v1/challenges/complete", nil, &result); err != nil {
		return 0, err
	}
	return result.CoinsGranted, nil
}

// Leaderboard retrieves the coins ranking
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	path := "/api/v1/leaderboard"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var result struct {
		Entries []LeaderboardEntry `json:"entries"`
		Total   int                `json:"total"`
	}
	if err := c.call(ctx, "GET", path, nil, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	_, err = c.do(req)
	return err
}

// call performs a JSON request and unwraps the response envelope into out
func (c *Client) call(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	respBody, err := c.do(req)
	if err != nil {
		return err
	}

	return parseEnvelope(respBody, out)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Error responses still carry the envelope; surface its message.
		var envelope struct {
			Error *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != nil {
			return nil, fmt.Errorf("API error: %s - %s", envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// parseEnvelope unwraps the {success, data, error} response envelope
func parseEnvelope(body []byte, out any) error {
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("API error: %s - %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("API error: request failed")
	}

	if out != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}

	return nil
}
