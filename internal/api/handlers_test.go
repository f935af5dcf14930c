package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"speakup.dev/speaking-sprint/internal/auth"
	"speakup.dev/speaking-sprint/internal/core"
	"speakup.dev/speaking-sprint/internal/store"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	verdict    = "```json\n" + `{"transcript":"Hi team","clarity_score":8,"structure_score":7,"confidence_score":6,"tone_score":9,"conciseness_score":7,"filler_count":2,
"feedback_summary":{"what_you_did_well":["a","b"],"improvement_areas":["c","d"],
"missed_objective_check":{"addressed_situation":true,"offered_solution":true,"followed_constraint":false},"suggested_rewrite":"r"}}` + "\n```"
)

type stubJudge struct {
	raw   string
	err   error
	calls int
}

func (j *stubJudge) Evaluate(context.Context, []byte, string, string) (string, error) {
	j.calls++
	return j.raw, j.err
}

type brokenEvaluator struct{}

func (brokenEvaluator) Evaluate(_ context.Context, in core.EvaluateInput) (*core.EvaluateOutput, error) {
	return &core.EvaluateOutput{Attempt: &store.Attempt{UserID: in.UserID, DayNumber: in.DayNumber, OverallScore: 37}},
		errors.Join(core.ErrPersistenceFailure, errors.New("disk full"))
}

type testServer struct {
	handler  http.Handler
	repo     *store.SQLiteStore
	judge    *stubJudge
	verifier *auth.HMACVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db")+"?_busy_timeout=5000", store.PolicyAppend)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	for d := store.FirstDay; d <= store.LastDay; d++ {
		require.NoError(t, repo.UpsertScenario(ctx, store.Scenario{
			DayNumber: d, Title: "Weekly Sync", Role: "Project Manager", Situation: "S", Objective: "O", TimeLimit: 90,
		}))
	}
	// Current day is 3.
	require.NoError(t, repo.SetChallengeStart(ctx, "u1", time.Now().Add(-50*time.Hour)))

	judge := &stubJudge{raw: verdict}
	verifier := auth.NewHMACVerifier(testSecret, "speaking-sprint", "")
	h := NewAPIHandler(
		core.NewEvaluationService(repo, nil, judge, zap.NewNop(), true),
		core.NewProgressService(repo),
		verifier,
		zap.NewNop(),
		Options{MaxAudioBytes: 1 << 20},
	)
	return &testServer{handler: NewRouter(h), repo: repo, judge: judge, verifier: verifier}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.verifier.GenerateToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func evaluateBody(day int) map[string]any {
	return map[string]any{"dayNumber": day, "audioBase64": base64.StdEncoding.EncodeToString([]byte("webm"))}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)

	tests := map[string]string{
		"missing header": "",
		"not bearer":     "Basic dTpw",
		"garbage token":  "Bearer abc.def",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestEvaluateHandler_Success(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/evaluate", "u1", evaluateBody(2))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[EvaluateResponse](t, rec)
	assert.True(t, resp.Success)
	require.NotEmpty(t, resp.ID)
	assert.Equal(t, "/dashboard/day/2/feedback?id="+resp.ID, resp.URL)
	assert.Equal(t, 37, resp.Result.OverallScore)
	assert.Equal(t, "u1", resp.Result.UserID)

	stored, err := s.repo.GetAttempt(context.Background(), "u1", resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 37, stored.OverallScore)
}

func TestEvaluateHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		body   any
		status int
	}{
		{name: "missing day", user: "u1", body: map[string]any{"audioBase64": "d2VibQ=="}, status: http.StatusBadRequest},
		{name: "missing audio", user: "u1", body: map[string]any{"dayNumber": 1}, status: http.StatusBadRequest},
		{name: "bad base64", user: "u1", body: map[string]any{"dayNumber": 1, "audioBase64": "%%%"}, status: http.StatusBadRequest},
		{name: "day out of range", user: "u1", body: evaluateBody(31), status: http.StatusBadRequest},
		{name: "wrong day type", user: "u1", body: map[string]any{"dayNumber": "one"}, status: http.StatusBadRequest},
		{name: "locked day", user: "u1", body: evaluateBody(4), status: http.StatusForbidden},
		{name: "not started", user: "u2", body: evaluateBody(1), status: http.StatusConflict},
		{name: "no credential", body: evaluateBody(1), status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/evaluate", tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Zero(t, s.judge.calls)
		})
	}
}

func TestEvaluateHandler_JudgeFailuresAreGeneric(t *testing.T) {
	for name, judge := range map[string]*stubJudge{
		"upstream":  {err: core.ErrUpstreamUnavailable},
		"malformed": {raw: "I think you did great!"},
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t)
			*s.judge = *judge

			rec := s.do(t, http.MethodPost, "/api/evaluate", "u1", evaluateBody(1))
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"`+genericFailure+`"}`, rec.Body.String())
		})
	}
}

func TestEvaluateHandler_PersistenceFailureKeepsResult(t *testing.T) {
	s := newTestServer(t)
	h := NewAPIHandler(brokenEvaluator{}, core.NewProgressService(s.repo), s.verifier, zap.NewNop(), Options{MaxAudioBytes: 1 << 20})

	req := httptest.NewRequest(http.MethodPost, "/api/evaluate", strings.NewReader(`{"dayNumber":1,"audioBase64":"d2VibQ=="}`))
	req.Header.Set("Authorization", "Bearer "+s.token(t, "u1"))
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[persistenceFailureResponse](t, rec)
	assert.NotEmpty(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 37, resp.Result.OverallScore)
}

func TestProgressRoutes(t *testing.T) {
	s := newTestServer(t)

	first := decode[EvaluateResponse](t, s.do(t, http.MethodPost, "/api/evaluate", "u1", evaluateBody(1)))
	second := decode[EvaluateResponse](t, s.do(t, http.MethodPost, "/api/evaluate", "u1", evaluateBody(1)))
	s.do(t, http.MethodPost, "/api/evaluate", "u1", evaluateBody(2))

	t.Run("dashboard", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/dashboard", "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		d := decode[core.Dashboard](t, rec)
		assert.True(t, d.Started)
		assert.Equal(t, 3, d.CurrentDay)
		assert.Equal(t, 2, d.Streak)
		assert.Len(t, d.Days, 30)
	})

	t.Run("day", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/days/3", "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Weekly Sync", decode[store.Scenario](t, rec).Title)

		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/days/4", "u1", nil).Code)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/days/abc", "u1", nil).Code)
	})

	t.Run("attempts", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/days/1/attempts", "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[[]store.Attempt](t, rec)
		require.Len(t, list, 2)
		assert.ElementsMatch(t, []string{first.ID, second.ID}, []string{list[0].ID, list[1].ID})
	})

	t.Run("feedback", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/days/1/feedback?id="+first.ID, "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, first.ID, decode[FeedbackResponse](t, rec).Attempt.ID)

		rec = s.do(t, http.MethodGet, "/api/days/1/feedback", "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decode[FeedbackResponse](t, rec).Attempt.DayNumber)

		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/days/2/feedback?id="+first.ID, "u1", nil).Code)
		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/days/3/feedback", "u1", nil).Code)
	})

	t.Run("attempt by id", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/attempts/"+second.ID, "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, second.ID, decode[store.Attempt](t, rec).ID)

		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/attempts/"+second.ID, "someone-else", nil).Code)
	})
}

func TestStartChallengeHandler(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodGet, "/api/days/1", "newcomer", nil).Code)

	rec := s.do(t, http.MethodPost, "/api/challenge/start", "newcomer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "challenge_start_date")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/days/1", "newcomer", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/days/2", "newcomer", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/health", "", nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
