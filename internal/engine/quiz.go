package engine

import (
	"math"

	"github.com/ecoloop/ecoloop-server/internal/models"
)

// PassRatio is the fraction of correct answers required to pass a quiz.
const PassRatio = 0.6

// fallbackQuestion substitutes for a level shipped without questions so the
// pass threshold never divides by zero. It is degenerate content, not a
// legitimate quiz: any answer is correct.
var fallbackQuestion = models.Question{
	Text:         "No questions are available for this level yet.",
	Options:      []string{"Continue"},
	CorrectIndex: 0,
	Difficulty:   1,
}

// ActiveQuestions returns the question sequence the quiz runs over,
// substituting the synthetic fallback when the level has none.
func ActiveQuestions(level *models.Level) []models.Question {
	if len(level.Questions) == 0 {
		return []models.Question{fallbackQuestion}
	}
	return level.Questions
}

// PassThreshold returns the minimum number of correct answers required to
// pass a quiz of n questions: ceil(n * 0.6).
func PassThreshold(n int) int {
	return int(math.Ceil(float64(n) * PassRatio))
}

// QuizPassed reports whether an attempt with the given correct count passes.
func QuizPassed(correct, total int) bool {
	return correct >= PassThreshold(total)
}

// GradeAnswer grades one answer against the question at index. The caller is
// responsible for range-checking index.
func GradeAnswer(questions []models.Question, index, option int) bool {
	return option == questions[index].CorrectIndex
}
