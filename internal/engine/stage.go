package engine

import (
	"fmt"

	"github.com/ecoloop/ecoloop-server/internal/models"
)

// EventType identifies a UI-driven stage event.
type EventType string

const (
	EventVideoWatched     EventType = "video_watched"
	EventReviewVideo      EventType = "review_video"
	EventInfoAcknowledged EventType = "info_acknowledged"
	EventAnswerSubmitted  EventType = "answer_submitted"
	EventTaskVerified     EventType = "task_verified"
)

// IsValid reports whether the event type is known.
func (e EventType) IsValid() bool {
	switch e {
	case EventVideoWatched, EventReviewVideo, EventInfoAcknowledged,
		EventAnswerSubmitted, EventTaskVerified:
		return true
	}
	return false
}

// stageTransitions is the legal transition table. The video and info stages
// are freely navigable in both directions until the quiz is entered; the
// quiz stays in quiz until a passing result, which the ledger promotes to
// task after scoring.
var stageTransitions = map[models.Stage]map[EventType]models.Stage{
	models.StageVideo: {
		EventVideoWatched: models.StageInfo,
	},
	models.StageInfo: {
		EventReviewVideo:      models.StageVideo,
		EventInfoAcknowledged: models.StageQuiz,
	},
	models.StageQuiz: {
		EventAnswerSubmitted: models.StageQuiz,
	},
	models.StageTask: {
		EventTaskVerified: models.StageCompleted,
	},
}

// NextStage validates an event against the current stage and returns the
// resulting stage. Illegal transitions are rejected synchronously and leave
// state unchanged; callers may re-issue a legal event.
func NextStage(current models.Stage, ev EventType) (models.Stage, error) {
	if targets, ok := stageTransitions[current]; ok {
		if next, ok := targets[ev]; ok {
			return next, nil
		}
	}
	return current, fmt.Errorf("%w: %s from stage %s", ErrInvalidStageTransition, ev, current)
}
