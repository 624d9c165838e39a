package engine

import "errors"

// Typed failures surfaced by the engine. Validation errors are detected
// before any mutation; ErrPersistence wraps store failures, which leave
// state untouched so the caller can safely retry the identical event.
var (
	ErrUnknownLevel           = errors.New("unknown level")
	ErrInvalidStageTransition = errors.New("invalid stage transition")
	ErrQuizIndexOutOfRange    = errors.New("quiz question index out of range")
	ErrPersistence            = errors.New("persistence failure")
)
