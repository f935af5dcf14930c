package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"speakup.dev/speaking-sprint/internal/store"
)

type Dashboard struct {
	Started            bool        `json:"started"`
	ChallengeStartDate *time.Time  `json:"challenge_start_date"`
	CurrentDay         int         `json:"current_day"`
	Streak             int         `json:"streak"`
	CompletedDays      int         `json:"completed_days"`
	NextMilestone      int         `json:"next_milestone,omitempty"`
	Days               []DayStatus `json:"days"`
}

// ProgressService answers the read side of the challenge: where the user is,
// which days are open and what they scored.
type ProgressService struct {
	repo Repository
	now  func() time.Time
}

func NewProgressService(repo Repository) *ProgressService {
	return &ProgressService{repo: repo, now: time.Now}
}

// StartChallenge sets the user's challenge start to now. Calling it again
// restarts the challenge.
func (s *ProgressService) StartChallenge(ctx context.Context, userID string) (*store.User, error) {
	if err := s.repo.SetChallengeStart(ctx, userID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to start challenge: %w", err)
	}
	return s.repo.GetOrCreateUser(ctx, userID)
}

func (s *ProgressService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	user, err := s.repo.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	days, err := s.repo.AttemptDays(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt days: %w", err)
	}

	current, err := CurrentDay(user.ChallengeStartDate, s.now())
	if errors.Is(err, ErrChallengeNotStarted) {
		return &Dashboard{Days: DayStatuses(0, days), Streak: Streak(days), CompletedDays: len(days)}, nil
	}
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		Started:            true,
		ChallengeStartDate: user.ChallengeStartDate,
		CurrentDay:         current,
		Streak:             Streak(days),
		CompletedDays:      len(days),
		Days:               DayStatuses(current, days),
	}
	for _, m := range MilestoneDays {
		if m >= current && !slices.Contains(days, m) {
			d.NextMilestone = m
			break
		}
	}
	return d, nil
}

// Day returns the scenario for a day the user has unlocked.
func (s *ProgressService) Day(ctx context.Context, userID string, day int) (*store.Scenario, error) {
	if err := s.checkUnlocked(ctx, userID, day); err != nil {
		return nil, err
	}
	sc, err := s.repo.GetScenarioByDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario: %w", err)
	}
	return sc, nil
}

// Attempts lists a day's attempts newest first.
func (s *ProgressService) Attempts(ctx context.Context, userID string, day int) ([]store.Attempt, error) {
	if !store.ValidDay(day) {
		return nil, fmt.Errorf("%w: day %d", ErrInvalidRequest, day)
	}
	return s.repo.ListAttempts(ctx, userID, day)
}

func (s *ProgressService) Attempt(ctx context.Context, userID, attemptID string) (*store.Attempt, error) {
	if attemptID == "" {
		return nil, fmt.Errorf("%w: attempt id is required", ErrInvalidRequest)
	}
	return s.repo.GetAttempt(ctx, userID, attemptID)
}

func (s *ProgressService) LatestAttempt(ctx context.Context, userID string, day int) (*store.Attempt, error) {
	if !store.ValidDay(day) {
		return nil, fmt.Errorf("%w: day %d", ErrInvalidRequest, day)
	}
	return s.repo.LatestAttempt(ctx, userID, day)
}

func (s *ProgressService) checkUnlocked(ctx context.Context, userID string, day int) error {
	if !store.ValidDay(day) {
		return fmt.Errorf("%w: day %d outside %d-%d", ErrInvalidRequest, day, store.FirstDay, store.LastDay)
	}
	user, err := s.repo.GetOrCreateUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	current, err := CurrentDay(user.ChallengeStartDate, s.now())
	if err != nil {
		return err
	}
	if !IsUnlocked(day, current) {
		return fmt.Errorf("%w: day %d opens after day %d", ErrDayLocked, day, current)
	}
	return nil
}
