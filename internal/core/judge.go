package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speakup.dev/speaking-sprint/internal/config"
	"speakup.dev/speaking-sprint/internal/metrics"
	"speakup.dev/speaking-sprint/internal/utils"
)

const (
	defaultJudgeModelName = "gemini-2.5-flash"
	judgeTemperature      = float32(0.2)
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiJudge scores recordings with a Gemini multimodal model.
type GeminiJudge struct {
	client     *genai.Client
	model      contentGenerator
	limiter    *rate.Limiter
	logger     *zap.Logger
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewGeminiJudge(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger) (*GeminiJudge, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = defaultJudgeModelName
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(judgeTemperature)
	model.ResponseMIMEType = "application/json"

	j := newJudge(model, cfg, logger)
	j.client = client
	return j, nil
}

func newJudge(model contentGenerator, cfg config.GeminiConfig, logger *zap.Logger) *GeminiJudge {
	rpm := max(cfg.RequestsPerMinute, 1)
	return &GeminiJudge{
		model:      model,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		logger:     logger.Named("judge"),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		maxDelay:   cfg.RetryMaxDelay,
	}
}

func (j *GeminiJudge) Close() {
	if j.client != nil {
		if err := j.client.Close(); err != nil {
			j.logger.Warn("error closing GenAI client", zap.Error(err))
		}
	}
}

// Evaluate sends the recording and prompt in one request and returns the raw
// text of the first candidate. The call is not cancelled when ctx is; it is
// bounded by the judge timeout instead.
func (j *GeminiJudge) Evaluate(ctx context.Context, recording []byte, mimeType, prompt string) (string, error) {
	if len(recording) == 0 {
		return "", fmt.Errorf("%w: no audio", ErrInvalidRequest)
	}
	detached := context.WithoutCancel(ctx)
	parts := []genai.Part{
		genai.Blob{MIMEType: mimeType, Data: recording},
		genai.Text(prompt),
	}

	var lastErr error
	for attempt := 0; attempt <= j.maxRetries; attempt++ {
		if attempt > 0 {
			delay := utils.Backoff(attempt, j.baseDelay, j.maxDelay)
			metrics.JudgeRetries.Inc()
			j.logger.Warn("retrying judge call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			time.Sleep(delay)
		}

		text, err := j.generate(detached, parts)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, ErrMalformedJudgeOutput) {
			return "", err
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

func (j *GeminiJudge) generate(ctx context.Context, parts []genai.Part) (string, error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	if err := j.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("judge rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := j.model.GenerateContent(ctx, parts...)
	metrics.JudgeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("%w: %v", ErrMalformedJudgeOutput, err)
		}
		return "", fmt.Errorf("gemini GenerateContent failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrMalformedJudgeOutput)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			j.logger.Debug("ignoring non-text response part", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	if responseText.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response", ErrMalformedJudgeOutput)
	}
	return responseText.String(), nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
			return true
		}
		return false
	}

	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
