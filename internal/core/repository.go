package core

import (
	"context"
	"time"

	"speakup.dev/speaking-sprint/internal/audio"
	"speakup.dev/speaking-sprint/internal/store"
)

type UserRepository interface {
	GetOrCreateUser(ctx context.Context, userID string) (*store.User, error)
	SetChallengeStart(ctx context.Context, userID string, start time.Time) error
}

type ScenarioRepository interface {
	GetScenarioByDay(ctx context.Context, day int) (*store.Scenario, error)
}

// ResultRepository persists attempts. Listings are newest first.
type ResultRepository interface {
	SaveAttempt(ctx context.Context, a *store.Attempt) (string, error)
	GetAttempt(ctx context.Context, userID, attemptID string) (*store.Attempt, error)
	LatestAttempt(ctx context.Context, userID string, day int) (*store.Attempt, error)
	ListAttempts(ctx context.Context, userID string, day int) ([]store.Attempt, error)
	AttemptDays(ctx context.Context, userID string) ([]int, error)
}

// Repository is everything the services need from one backing store.
type Repository interface {
	UserRepository
	ScenarioRepository
	ResultRepository
}

type AudioSource = audio.Source

// Judge sends one recording and prompt to the scoring model and returns its raw text.
type Judge interface {
	Evaluate(ctx context.Context, recording []byte, mimeType, prompt string) (string, error)
}
