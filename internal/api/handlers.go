package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"speakup.dev/speaking-sprint/internal/audio"
	"speakup.dev/speaking-sprint/internal/auth"
	"speakup.dev/speaking-sprint/internal/core"
	"speakup.dev/speaking-sprint/internal/store"
)

const genericFailure = "Something went wrong, please try again."

type Evaluator interface {
	Evaluate(ctx context.Context, in core.EvaluateInput) (*core.EvaluateOutput, error)
}

type ProgressReader interface {
	StartChallenge(ctx context.Context, userID string) (*store.User, error)
	Dashboard(ctx context.Context, userID string) (*core.Dashboard, error)
	Day(ctx context.Context, userID string, day int) (*store.Scenario, error)
	Attempts(ctx context.Context, userID string, day int) ([]store.Attempt, error)
	Attempt(ctx context.Context, userID, attemptID string) (*store.Attempt, error)
	LatestAttempt(ctx context.Context, userID string, day int) (*store.Attempt, error)
}

type Options struct {
	AudioMimeType   string
	MaxAudioBytes   int64
	FeedbackURLBase string
}

type APIHandler struct {
	evaluator Evaluator
	progress  ProgressReader
	verifier  auth.IdentityVerifier
	logger    *zap.Logger
	opts      Options
}

func NewAPIHandler(ev Evaluator, pr ProgressReader, verifier auth.IdentityVerifier, logger *zap.Logger, opts Options) *APIHandler {
	if opts.AudioMimeType == "" {
		opts.AudioMimeType = "audio/webm"
	}
	if opts.FeedbackURLBase == "" {
		opts.FeedbackURLBase = "/dashboard/day"
	}
	return &APIHandler{
		evaluator: ev,
		progress:  pr,
		verifier:  verifier,
		logger:    logger.Named("api"),
		opts:      opts,
	}
}

func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		userID, err := h.verifier.Verify(r.Context(), strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")))
		if err != nil {
			h.logger.Debug("rejected credential", zap.Error(err))
			writeJSONError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

type EvaluateRequest struct {
	DayNumber   int    `json:"dayNumber"`
	AudioBase64 string `json:"audioBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type EvaluateResponse struct {
	Success bool           `json:"success"`
	URL     string         `json:"url"`
	ID      string         `json:"id"`
	Result  *store.Attempt `json:"result"`
}

type persistenceFailureResponse struct {
	Error  string         `json:"error"`
	Result *store.Attempt `json:"result"`
}

func (h *APIHandler) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	// base64 inflates by 4/3; leave headroom for the JSON envelope.
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxAudioBytes/3*4+64<<10)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Recording is too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.DayNumber == 0 {
		writeJSONError(w, http.StatusBadRequest, "dayNumber is required")
		return
	}

	in := core.EvaluateInput{UserID: userID, DayNumber: req.DayNumber}
	if req.AudioBase64 != "" {
		mime := req.MimeType
		if mime == "" {
			mime = h.opts.AudioMimeType
		}
		clip, err := audio.DecodeInline(req.AudioBase64, mime, h.opts.MaxAudioBytes)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err))
			return
		}
		in.Audio = clip
	}

	out, err := h.evaluator.Evaluate(r.Context(), in)
	if err != nil {
		if errors.Is(err, core.ErrPersistenceFailure) && out != nil {
			h.logger.Error("evaluation computed but not stored", zap.String("user_id", userID), zap.Int("day", req.DayNumber), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, persistenceFailureResponse{
				Error:  "Your evaluation could not be saved. Keep this result and try again later.",
				Result: out.Attempt,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		Success: true,
		URL:     h.feedbackURL(req.DayNumber, out.AttemptID),
		ID:      out.AttemptID,
		Result:  out.Attempt,
	})
}

func (h *APIHandler) feedbackURL(day int, attemptID string) string {
	return fmt.Sprintf("%s/%d/feedback?id=%s", strings.TrimSuffix(h.opts.FeedbackURLBase, "/"), day, attemptID)
}

func (h *APIHandler) StartChallengeHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.progress.StartChallenge(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenge_start_date": user.ChallengeStartDate})
}

func (h *APIHandler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	dashboard, err := h.progress.Dashboard(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *APIHandler) DayHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	day, ok := dayParam(w, r)
	if !ok {
		return
	}

	scenario, err := h.progress.Day(r.Context(), userID, day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scenario)
}

func (h *APIHandler) ListAttemptsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	day, ok := dayParam(w, r)
	if !ok {
		return
	}

	attempts, err := h.progress.Attempts(r.Context(), userID, day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

type FeedbackResponse struct {
	Attempt   *store.Attempt `json:"attempt"`
	Milestone bool           `json:"milestone"`
}

// FeedbackHandler returns the attempt named by ?id=, or the day's latest.
func (h *APIHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	day, ok := dayParam(w, r)
	if !ok {
		return
	}

	var (
		attempt *store.Attempt
		err     error
	)
	if id := r.URL.Query().Get("id"); id != "" {
		attempt, err = h.progress.Attempt(r.Context(), userID, id)
		if err == nil && attempt.DayNumber != day {
			err = fmt.Errorf("attempt %s is not for day %d: %w", id, day, core.ErrNotFound)
		}
	} else {
		attempt, err = h.progress.LatestAttempt(r.Context(), userID, day)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Attempt: attempt, Milestone: core.IsMilestone(day)})
}

func (h *APIHandler) GetAttemptHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	attempt, err := h.progress.Attempt(r.Context(), userID, chi.URLParam(r, "attemptID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func dayParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil || !store.ValidDay(day) {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("day must be a number between %d and %d", store.FirstDay, store.LastDay))
		return 0, false
	}
	return day, true
}

// writeError maps a service error to its HTTP status. Internal causes are
// logged and never sent to the client.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, core.ErrDayLocked):
		writeJSONError(w, http.StatusForbidden, "This day is still locked")
	case errors.Is(err, core.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, core.ErrChallengeNotStarted):
		writeJSONError(w, http.StatusConflict, "Start the challenge first")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, genericFailure)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
