package verifier

import (
	"context"
	"strings"
	"testing"

	"github.com/ecoloop/ecoloop-server/internal/models"
)

func testLevel() *models.Level {
	return &models.Level{
		ID:              1,
		Title:           "Forest Guardians",
		Theme:           models.ThemeForest,
		TaskDescription: "Plant a sapling and photograph it.",
		TaskTag:         "planting",
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantVerified bool
		wantErr      bool
	}{
		{"verified high confidence", `{"verified": true, "confidence": 0.9, "feedback": "Looks good"}`, true, false},
		{"verified low confidence demoted", `{"verified": true, "confidence": 0.3, "feedback": ""}`, false, false},
		{"rejected", `{"verified": false, "confidence": 0.95, "feedback": "Not the task"}`, false, false},
		{"malformed", `not json`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseResult(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Error("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Verified != tt.wantVerified {
				t.Errorf("verified = %v, want %v", result.Verified, tt.wantVerified)
			}
			if !result.Verified && result.Feedback == "" {
				t.Error("a rejection must carry feedback")
			}
		})
	}
}

func TestBuildPromptIncludesTask(t *testing.T) {
	prompt := buildPrompt(testLevel())
	if !strings.Contains(prompt, "Plant a sapling") {
		t.Error("prompt must include the task description")
	}
	if !strings.Contains(prompt, "planting") {
		t.Error("prompt must include the task tag")
	}
}

func TestMockVerifierAlwaysAccepts(t *testing.T) {
	m := NewMockVerifier()

	result, err := m.VerifyImage(context.Background(), testLevel(), []byte{0xFF, 0xD8}, "image/jpeg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Verified {
		t.Error("mock verifier must accept every submission")
	}
	if result.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", result.Confidence)
	}
}
