package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecoloop/ecoloop-server/internal/models"
)

// LevelCatalog is the read-only level content catalog the ledger validates
// events against.
type LevelCatalog interface {
	Level(id int) (*models.Level, bool)
}

// Mutation is one atomic unit of progress change: the resulting progress
// record plus the coin/XP grant that accompanies it. The store must apply
// all of it or none of it.
type Mutation struct {
	Record     *models.ProgressRecord
	CoinsDelta int
	XPDelta    int
}

// ProgressStore is the durable record of per-user, per-level progress.
// CommitStageGrant must be atomic and must serialize writes per
// (user, level) so status never moves backward under concurrent delivery.
type ProgressStore interface {
	GetProgress(ctx context.Context, userID string, levelID int) (*models.ProgressRecord, error)
	CommitStageGrant(ctx context.Context, mut Mutation) (*models.ProgressRecord, error)
}

// StageEvent is a validated UI-driven event applied against one level.
type StageEvent struct {
	Type EventType `json:"type"`

	// Answer payload, used by answer_submitted only.
	QuestionIndex int `json:"question_index"`
	OptionIndex   int `json:"option_index"`
}

// ApplyResult reports what a stage event changed.
type ApplyResult struct {
	Record       *models.ProgressRecord `json:"record"`
	CoinsGranted int                    `json:"coins_granted"`
	XPGranted    int                    `json:"xp_granted"`

	// Quiz outcome, populated for answer_submitted.
	AnswerCorrect bool `json:"answer_correct,omitempty"`
	QuizFinished  bool `json:"quiz_finished,omitempty"`
	QuizPassed    bool `json:"quiz_passed,omitempty"`

	LevelCompleted bool `json:"level_completed,omitempty"`
}

// Ledger grants stage rewards exactly once per (user, level, stage key) and
// updates completion status atomically with each grant. Safe under
// at-least-once event delivery: duplicates are no-ops, not errors.
type Ledger struct {
	store   ProgressStore
	catalog LevelCatalog
}

// NewLedger creates a reward ledger over the given store and catalog.
func NewLedger(store ProgressStore, catalog LevelCatalog) *Ledger {
	return &Ledger{store: store, catalog: catalog}
}

// ApplyStageEvent validates the event against the level's stage machine and
// applies its grant, if any, as one atomic commit. Validation failures are
// returned before any mutation.
func (l *Ledger) ApplyStageEvent(ctx context.Context, userID string, levelID int, ev StageEvent) (*ApplyResult, error) {
	level, ok := l.catalog.Level(levelID)
	if !ok {
		return nil, fmt.Errorf("%w: level %d", ErrUnknownLevel, levelID)
	}
	if !ev.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidStageTransition, ev.Type)
	}

	rec, err := l.store.GetProgress(ctx, userID, levelID)
	if err != nil {
		return nil, fmt.Errorf("%w: load progress: %v", ErrPersistence, err)
	}
	if rec == nil {
		rec = models.NewProgressRecord(userID, levelID)
	}

	switch ev.Type {
	case EventVideoWatched:
		return l.applyVideoWatched(ctx, level, rec)
	case EventReviewVideo, EventInfoAcknowledged:
		return l.applyNavigation(ctx, rec, ev.Type)
	case EventAnswerSubmitted:
		return l.applyAnswer(ctx, level, rec, ev)
	case EventTaskVerified:
		return l.applyTaskVerified(ctx, level, rec)
	}
	return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidStageTransition, ev.Type)
}

// applyVideoWatched grants the one-time video reward and advances to info.
// A re-delivered event after the grant is a no-op success.
func (l *Ledger) applyVideoWatched(ctx context.Context, level *models.Level, rec *models.ProgressRecord) (*ApplyResult, error) {
	if rec.StagesRewarded.Has(models.StageKeyVideoWatch) && rec.Stage != models.StageVideo {
		return &ApplyResult{Record: rec}, nil
	}

	next, err := NextStage(rec.Stage, EventVideoWatched)
	if err != nil {
		return nil, err
	}

	mut := Mutation{Record: rec.Clone()}
	mut.Record.Stage = next
	if mut.Record.Status == models.ProgressNotStarted {
		mut.Record.Status = models.ProgressInProgress
	}
	if !mut.Record.StagesRewarded.Has(models.StageKeyVideoWatch) {
		mut.Record.StagesRewarded.Add(models.StageKeyVideoWatch)
		mut.CoinsDelta = models.CoinsVideoWatch
	}

	return l.commit(ctx, level, mut, &ApplyResult{})
}

// applyNavigation handles the grant-free transitions: info acknowledgement
// and pre-quiz back-navigation to the video.
func (l *Ledger) applyNavigation(ctx context.Context, rec *models.ProgressRecord, ev EventType) (*ApplyResult, error) {
	next, err := NextStage(rec.Stage, ev)
	if err != nil {
		return nil, err
	}

	mut := Mutation{Record: rec.Clone()}
	mut.Record.Stage = next
	if mut.Record.Status == models.ProgressNotStarted {
		mut.Record.Status = models.ProgressInProgress
	}

	res := &ApplyResult{}
	out, err := l.store.CommitStageGrant(ctx, mut)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	res.Record = out
	return res, nil
}

// applyAnswer grades one quiz answer, grants the per-question reward at most
// once, and scores the attempt after the last question. A failing attempt
// restarts from the first question with the score reset; previously granted
// answer rewards stay granted and are not re-granted on a repeat.
func (l *Ledger) applyAnswer(ctx context.Context, level *models.Level, rec *models.ProgressRecord, ev StageEvent) (*ApplyResult, error) {
	questions := ActiveQuestions(level)
	if ev.QuestionIndex < 0 || ev.QuestionIndex >= len(questions) {
		return nil, fmt.Errorf("%w: index %d of %d questions", ErrQuizIndexOutOfRange, ev.QuestionIndex, len(questions))
	}

	// An answer whose reward key is already in the set was graded and
	// rewarded before; once the attempt has been scored the counters no
	// longer point at it, so re-delivery is a no-op, not an error.
	granted := rec.StagesRewarded.Has(models.QuizAnswerKey(ev.QuestionIndex))

	if rec.Stage != models.StageQuiz {
		if granted {
			return &ApplyResult{Record: rec}, nil
		}
		return nil, fmt.Errorf("%w: answer_submitted from stage %s", ErrInvalidStageTransition, rec.Stage)
	}
	if ev.QuestionIndex < rec.QuizIndex {
		// Answer already locked this attempt; re-delivery is a no-op.
		return &ApplyResult{Record: rec}, nil
	}
	if ev.QuestionIndex > rec.QuizIndex {
		if granted {
			return &ApplyResult{Record: rec}, nil
		}
		return nil, fmt.Errorf("%w: question %d answered before question %d", ErrInvalidStageTransition, ev.QuestionIndex, rec.QuizIndex)
	}

	correct := GradeAnswer(questions, ev.QuestionIndex, ev.OptionIndex)

	mut := Mutation{Record: rec.Clone()}
	res := &ApplyResult{AnswerCorrect: correct}
	if correct {
		mut.Record.QuizCorrect++
		key := models.QuizAnswerKey(ev.QuestionIndex)
		if !mut.Record.StagesRewarded.Has(key) {
			mut.Record.StagesRewarded.Add(key)
			mut.CoinsDelta = models.CoinsCorrectAnswer
		}
	}
	mut.Record.QuizIndex++

	if mut.Record.QuizIndex >= len(questions) {
		res.QuizFinished = true
		res.QuizPassed = QuizPassed(mut.Record.QuizCorrect, len(questions))
		if res.QuizPassed {
			mut.Record.Stage = models.StageTask
		}
		// The next attempt, if any, starts over from question zero.
		mut.Record.QuizIndex = 0
		mut.Record.QuizCorrect = 0
	}

	return l.commit(ctx, level, mut, res)
}

// applyTaskVerified grants the completion reward: coins, the level's XP, and
// the forward-only status change, all in one commit. Requires the stage
// machine to currently be in task.
func (l *Ledger) applyTaskVerified(ctx context.Context, level *models.Level, rec *models.ProgressRecord) (*ApplyResult, error) {
	if rec.StagesRewarded.Has(models.StageKeyTaskComplete) {
		return &ApplyResult{Record: rec}, nil
	}
	if rec.Stage != models.StageTask {
		return nil, fmt.Errorf("%w: task_verified from stage %s", ErrInvalidStageTransition, rec.Stage)
	}

	now := time.Now().UTC()
	mut := Mutation{
		Record:     rec.Clone(),
		CoinsDelta: models.CoinsTaskComplete,
		XPDelta:    level.XPReward,
	}
	mut.Record.Stage = models.StageCompleted
	mut.Record.Status = models.ProgressCompleted
	mut.Record.StagesRewarded.Add(models.StageKeyTaskComplete)
	mut.Record.CompletedAt = &now

	return l.commit(ctx, level, mut, &ApplyResult{LevelCompleted: true})
}

func (l *Ledger) commit(ctx context.Context, level *models.Level, mut Mutation, res *ApplyResult) (*ApplyResult, error) {
	out, err := l.store.CommitStageGrant(ctx, mut)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	res.Record = out
	res.CoinsGranted = mut.CoinsDelta
	res.XPGranted = mut.XPDelta

	if mut.CoinsDelta > 0 || mut.XPDelta > 0 {
		slog.Info("stage reward granted",
			"user_id", mut.Record.UserID,
			"level_id", level.ID,
			"coins", mut.CoinsDelta,
			"xp", mut.XPDelta,
			"stage", mut.Record.Stage,
		)
	}
	return res, nil
}
