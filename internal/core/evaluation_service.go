package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"speakup.dev/speaking-sprint/internal/audio"
	"speakup.dev/speaking-sprint/internal/metrics"
	"speakup.dev/speaking-sprint/internal/store"
)

type EvaluateInput struct {
	UserID    string
	DayNumber int
	Audio     *audio.Clip // Inline upload; nil means fetch from the audio source
}

type EvaluateOutput struct {
	AttemptID string
	Attempt   *store.Attempt
}

// EvaluationService runs one recording through the judge and records the result.
type EvaluationService struct {
	users     UserRepository
	scenarios ScenarioRepository
	results   ResultRepository
	audio     AudioSource
	judge     Judge
	logger    *zap.Logger
	clamp     bool
	now       func() time.Time

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewEvaluationService wires the pipeline. src may be nil when every request
// carries its audio inline.
func NewEvaluationService(repo Repository, src AudioSource, judge Judge, logger *zap.Logger, clamp bool) *EvaluationService {
	return &EvaluationService{
		users:     repo,
		scenarios: repo,
		results:   repo,
		audio:     src,
		judge:     judge,
		logger:    logger.Named("evaluation"),
		clamp:     clamp,
		now:       time.Now,
	}
}

// Evaluate scores one attempt. When the result was computed but could not be
// stored, the output is returned together with an ErrPersistenceFailure.
func (s *EvaluationService) Evaluate(ctx context.Context, in EvaluateInput) (*EvaluateOutput, error) {
	if !s.begin() {
		metrics.EvaluationsTotal.WithLabelValues(outcome(ErrShuttingDown)).Inc()
		return nil, ErrShuttingDown
	}
	defer s.inflight.Done()

	out, err := s.evaluate(ctx, in)
	metrics.EvaluationsTotal.WithLabelValues(outcome(err)).Inc()
	return out, err
}

func (s *EvaluationService) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Drain stops accepting evaluations and waits for the running ones to be
// stored. It returns ctx.Err() if ctx ends first.
func (s *EvaluationService) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EvaluationService) evaluate(ctx context.Context, in EvaluateInput) (*EvaluateOutput, error) {
	log := s.logger.With(zap.String("user_id", in.UserID), zap.Int("day", in.DayNumber))

	if in.UserID == "" {
		return nil, ErrUnauthorized
	}
	if !store.ValidDay(in.DayNumber) {
		return nil, fmt.Errorf("%w: day %d outside %d-%d", ErrInvalidRequest, in.DayNumber, store.FirstDay, store.LastDay)
	}
	if in.Audio == nil && s.audio == nil {
		return nil, fmt.Errorf("%w: audio is required", ErrInvalidRequest)
	}

	user, err := s.users.GetOrCreateUser(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	current, err := CurrentDay(user.ChallengeStartDate, s.now())
	if err != nil {
		return nil, err
	}
	if !IsUnlocked(in.DayNumber, current) {
		return nil, fmt.Errorf("%w: day %d opens after day %d", ErrDayLocked, in.DayNumber, current)
	}

	var (
		scenario *store.Scenario
		clip     *audio.Clip
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sc, err := s.scenarios.GetScenarioByDay(gctx, in.DayNumber)
		if err != nil {
			return fmt.Errorf("failed to load scenario: %w", err)
		}
		scenario = sc
		return nil
	})
	g.Go(func() error {
		c, err := s.acquireAudio(gctx, in)
		if err != nil {
			return err
		}
		clip = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prompt := BuildJudgePrompt(*scenario)

	log.Info("calling judge", zap.Int("audio_bytes", len(clip.Data)), zap.String("mime_type", clip.MimeType))
	raw, err := s.judge.Evaluate(ctx, clip.Data, clip.MimeType, prompt)
	if err != nil {
		log.Error("judge call failed", zap.Error(err))
		return nil, err
	}

	verdict, err := ParseJudgeOutput(raw)
	if err != nil {
		log.Warn("judge returned malformed output", zap.Error(err), zap.String("raw", raw))
		return nil, err
	}

	scores := verdict.Scores
	if s.clamp {
		clamped, changed := ClampScores(scores)
		if changed {
			metrics.ScoresClamped.Inc()
			log.Warn("judge scores outside rubric were clamped",
				zap.Any("judge_scores", verdict.Scores),
				zap.Any("clamped_scores", clamped))
		}
		scores = clamped
	}

	attempt := &store.Attempt{
		UserID:           in.UserID,
		DayNumber:        in.DayNumber,
		Transcript:       verdict.Transcript,
		ClarityScore:     scores.Clarity,
		StructureScore:   scores.Structure,
		ConfidenceScore:  scores.Confidence,
		ToneScore:        scores.Tone,
		ConcisenessScore: scores.Conciseness,
		FillerCount:      verdict.FillerCount,
		OverallScore:     OverallScore(scores),
		FeedbackSummary:  verdict.Feedback,
		CreatedAt:        s.now().UTC(),
	}
	if clip.Path != "" {
		path := clip.Path
		attempt.AudioPath = &path
	}

	// The judge call already happened; a client hanging up must not lose it.
	id, err := s.results.SaveAttempt(context.WithoutCancel(ctx), attempt)
	if err != nil {
		log.Error("failed to persist evaluation",
			zap.Error(err),
			zap.Int("overall_score", attempt.OverallScore))
		return &EvaluateOutput{Attempt: attempt}, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	log.Info("evaluation stored", zap.String("attempt_id", id), zap.Int("overall_score", attempt.OverallScore))
	return &EvaluateOutput{AttemptID: id, Attempt: attempt}, nil
}

func (s *EvaluationService) acquireAudio(ctx context.Context, in EvaluateInput) (*audio.Clip, error) {
	if in.Audio != nil {
		if len(in.Audio.Data) == 0 {
			return nil, fmt.Errorf("%w: empty audio", ErrInvalidRequest)
		}
		return in.Audio, nil
	}

	clip, err := s.audio.Fetch(ctx, in.UserID, in.DayNumber)
	switch {
	case err == nil:
		return clip, nil
	case errors.Is(err, audio.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, audio.ErrInvalid), errors.Is(err, audio.ErrTooLarge):
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	default:
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDayLocked), errors.Is(err, ErrChallengeNotStarted):
		return "locked"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream"
	case errors.Is(err, ErrMalformedJudgeOutput):
		return "malformed"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence"
	default:
		return "error"
	}
}
