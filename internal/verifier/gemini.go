package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ecoloop/ecoloop-server/internal/models"
)

const defaultGeminiModel = "gemini-2.0-flash"

// minConfidence is the floor below which a positive verdict is rejected.
const minConfidence = 0.6

// GeminiVerifier verifies task photos with the Google Gemini SDK.
type GeminiVerifier struct {
	client *genai.Client
	model  string
}

// NewGeminiVerifier creates a Gemini-backed verifier.
func NewGeminiVerifier(ctx context.Context, apiKey, model string) (*GeminiVerifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiVerifier{client: client, model: model}, nil
}

// VerifyImage sends the photo and the level's task description to Gemini and
// parses the structured verdict.
func (v *GeminiVerifier) VerifyImage(ctx context.Context, level *models.Level, image []byte, mimeType string) (*Result, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				genai.NewPartFromBytes(image, mimeType),
				{Text: buildPrompt(level)},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   resultSchema(),
	}

	resp, err := v.client.Models.GenerateContent(ctx, v.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini verification failed: %w", err)
	}

	result, err := parseResult(resp.Text())
	if err != nil {
		return nil, err
	}

	slog.Info("task photo verified",
		"level_id", level.ID,
		"task_tag", level.TaskTag,
		"verified", result.Verified,
		"confidence", result.Confidence,
	)
	return result, nil
}

// buildPrompt asks for a strict yes/no verdict on the task photo.
func buildPrompt(level *models.Level) string {
	var b strings.Builder
	b.WriteString("You are verifying a photo submitted for an environmental task.\n")
	fmt.Fprintf(&b, "Task: %s\n", level.TaskDescription)
	fmt.Fprintf(&b, "Task category: %s\n", level.TaskTag)
	b.WriteString("Decide whether the photo plausibly shows this task being done. ")
	b.WriteString("Be lenient about photo quality but strict about the subject: ")
	b.WriteString("an unrelated photo must not be verified. ")
	b.WriteString("Respond with verified, a confidence between 0 and 1, and one sentence of feedback for the user.")
	return b.String()
}

func resultSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"verified":   {Type: genai.TypeBoolean},
			"confidence": {Type: genai.TypeNumber},
			"feedback":   {Type: genai.TypeString},
		},
		Required: []string{"verified", "confidence", "feedback"},
	}
}

// parseResult decodes the model's JSON verdict and applies the confidence
// floor.
func parseResult(text string) (*Result, error) {
	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("failed to parse verification response: %w", err)
	}

	if result.Verified && result.Confidence < minConfidence {
		result.Verified = false
		if result.Feedback == "" {
			result.Feedback = "The photo could not be matched to the task confidently enough. Please try a clearer photo."
		}
	}

	return &result, nil
}
