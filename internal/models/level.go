package models

import "fmt"

// Theme identifies the environmental theme of a level. Themes drive the
// impact coefficients used by the profile aggregator.
type Theme string

const (
	ThemeForest   Theme = "forest"
	ThemeRiver    Theme = "river"
	ThemeCity     Theme = "city"
	ThemeMountain Theme = "mountain"
	ThemeSky      Theme = "sky"
)

// IsValid reports whether the theme is one of the known catalog themes.
func (t Theme) IsValid() bool {
	switch t {
	case ThemeForest, ThemeRiver, ThemeCity, ThemeMountain, ThemeSky:
		return true
	}
	return false
}

// Question is a single multiple-choice quiz question within a level.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Difficulty   int      `json:"difficulty"` // display weight, 1-5
}

// Level is a static catalog entry. Levels are immutable for the lifetime of
// the engine; the catalog owns them.
type Level struct {
	ID              int        `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Theme           Theme      `json:"theme"`
	XPReward        int        `json:"xp_reward"`
	VideoID         string     `json:"video_id"`
	InfoContent     string     `json:"info_content"`
	TaskDescription string     `json:"task_description"`
	TaskTag         string     `json:"task_tag"` // what the submitted photo must show
	Questions       []Question `json:"questions"`
}

// Stage is one of the five phases of a level.
type Stage string

const (
	StageVideo     Stage = "video"
	StageInfo      Stage = "info"
	StageQuiz      Stage = "quiz"
	StageTask      Stage = "task"
	StageCompleted Stage = "completed"
)

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageVideo, StageInfo, StageQuiz, StageTask, StageCompleted:
		return true
	}
	return false
}

// Stage keys identify a grantable event within a level. A stage key is the
// idempotency unit of the reward ledger: each key is granted at most once
// per (user, level).
const (
	StageKeyVideoWatch   = "video_watch"
	StageKeyTaskComplete = "task_complete"
)

// QuizAnswerKey returns the stage key for a correct answer on question i.
func QuizAnswerKey(i int) string {
	return fmt.Sprintf("quiz_correct_answer[%d]", i)
}

// Fixed coin grants per stage key.
const (
	CoinsVideoWatch    = 10
	CoinsCorrectAnswer = 5
	CoinsTaskComplete  = 20
)
