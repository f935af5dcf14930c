package core

import (
	"errors"

	"speakup.dev/speaking-sprint/internal/auth"
	"speakup.dev/speaking-sprint/internal/store"
)

// Pipeline failures. Handlers map these to HTTP statuses; anything else is an
// internal error.
var (
	ErrUnauthorized         = auth.ErrUnauthorized
	ErrNotFound             = store.ErrNotFound
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUpstreamUnavailable  = errors.New("judge unavailable")
	ErrMalformedJudgeOutput = errors.New("malformed judge output")
	ErrPersistenceFailure   = errors.New("failed to persist evaluation")
	ErrDayLocked            = errors.New("day is locked")
	ErrChallengeNotStarted  = errors.New("challenge not started")
	ErrShuttingDown         = errors.New("evaluation service is shutting down")
)
