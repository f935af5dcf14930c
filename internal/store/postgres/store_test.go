package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speakup.dev/speaking-sprint/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, policy store.ResultPolicy) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := New(mock, policy)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func attemptRow(id string, day int, created time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(attemptColumns).AddRow(
		id, "u1", day, "hello team", 8, 7, 6, 9, 7, 3, 37,
		[]byte(`{"what_you_did_well":["clear"],"improvement_areas":["pace"],"missed_objective_check":{"addressed_situation":true,"offered_solution":false,"followed_constraint":true},"suggested_rewrite":"Hi"}`),
		(*string)(nil), created,
	)
}

func TestStore_GetUser(t *testing.T) {
	start := fixedNow.Add(-48 * time.Hour)

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name: "found",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, challenge_start_date, created_at FROM users`).
					WithArgs("u1").
					WillReturnRows(pgxmock.NewRows([]string{"id", "challenge_start_date", "created_at"}).
						AddRow("u1", &start, fixedNow))
			},
		},
		{
			name: "missing",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, challenge_start_date, created_at FROM users`).
					WithArgs("u1").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t, store.PolicyAppend)
			tt.setup(mock)

			u, err := s.GetUser(context.Background(), "u1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "u1", u.ID)
				require.NotNil(t, u.ChallengeStartDate)
				assert.True(t, start.Equal(*u.ChallengeStartDate))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_GetOrCreateUser(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("u1", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id, challenge_start_date, created_at FROM users`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "challenge_start_date", "created_at"}).
			AddRow("u1", (*time.Time)(nil), fixedNow))

	u, err := s.GetOrCreateUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, u.ChallengeStartDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetChallengeStart(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)
	start := fixedNow.Add(-time.Hour)

	mock.ExpectExec(`INSERT INTO users .* ON CONFLICT \(id\) DO UPDATE SET challenge_start_date`).
		WithArgs("u1", start, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SetChallengeStart(context.Background(), "u1", start))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetScenarioByDay(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)
	constraint := "No filler words."

	mock.ExpectQuery(`SELECT day_number, title, role, situation, objective, constraint_text, time_limit FROM scenarios`).
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows(scenarioColumns).
			AddRow(1, "Weekly Sync", "Project Manager", "Status update", "Give progress", &constraint, 90))
	mock.ExpectQuery(`FROM scenarios`).
		WithArgs(2).
		WillReturnError(pgx.ErrNoRows)

	sc, err := s.GetScenarioByDay(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Weekly Sync", sc.Title)
	require.NotNil(t, sc.ConstraintText)
	assert.Equal(t, constraint, *sc.ConstraintText)

	_, err = s.GetScenarioByDay(context.Background(), 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveAttempt(t *testing.T) {
	tests := []struct {
		name       string
		policy     store.ResultPolicy
		query      string
		wantSameID bool
	}{
		{name: "append inserts a fresh row", policy: store.PolicyAppend, query: `INSERT INTO attempts`},
		{name: "overwrite upserts on the day id", policy: store.PolicyOverwrite, query: `INSERT INTO attempts .* ON CONFLICT \(id\) DO UPDATE`, wantSameID: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t, tt.policy)
			for i := 0; i < 2; i++ {
				args := make([]any, len(attemptColumns))
				for j := range args {
					args[j] = pgxmock.AnyArg()
				}
				mock.ExpectExec(tt.query).WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			first := &store.Attempt{UserID: "u1", DayNumber: 2, OverallScore: 37}
			id1, err := s.SaveAttempt(context.Background(), first)
			require.NoError(t, err)
			assert.Equal(t, fixedNow, first.CreatedAt)

			id2, err := s.SaveAttempt(context.Background(), &store.Attempt{UserID: "u1", DayNumber: 2})
			require.NoError(t, err)

			if tt.wantSameID {
				assert.Equal(t, id1, id2)
			} else {
				assert.NotEqual(t, id1, id2)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_SaveAttemptFailure(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)
	args := make([]any, len(attemptColumns))
	for j := range args {
		args[j] = pgxmock.AnyArg()
	}
	mock.ExpectExec(`INSERT INTO attempts`).WithArgs(args...).WillReturnError(errors.New("connection reset"))

	_, err := s.SaveAttempt(context.Background(), &store.Attempt{UserID: "u1", DayNumber: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetAttempt(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)

	mock.ExpectQuery(`FROM attempts WHERE id = \$1 AND user_id = \$2`).
		WithArgs("a1", "u1").
		WillReturnRows(attemptRow("a1", 4, fixedNow))

	a, err := s.GetAttempt(context.Background(), "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 37, a.OverallScore)
	assert.Equal(t, []string{"clear"}, a.FeedbackSummary.WhatYouDidWell)
	assert.True(t, a.FeedbackSummary.MissedObjectiveCheck.FollowedConstraint)
	assert.False(t, a.FeedbackSummary.MissedObjectiveCheck.OfferedSolution)
	assert.Nil(t, a.AudioPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestAttempt(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)

	mock.ExpectQuery(`FROM attempts .* ORDER BY created_at DESC, seq DESC LIMIT 1`).
		WithArgs(4, "u1").
		WillReturnRows(attemptRow("a2", 4, fixedNow))
	mock.ExpectQuery(`FROM attempts`).
		WithArgs(5, "u1").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.LatestAttempt(context.Background(), "u1", 4)
	require.NoError(t, err)
	assert.Equal(t, "a2", a.ID)

	_, err = s.LatestAttempt(context.Background(), "u1", 5)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListAttempts(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)

	rows := pgxmock.NewRows(attemptColumns)
	for _, id := range []string{"a3", "a2"} {
		rows.AddRow(id, "u1", 4, "t", 8, 7, 6, 9, 7, 0, 37, []byte(`{}`), (*string)(nil), fixedNow)
	}
	mock.ExpectQuery(`FROM attempts WHERE user_id = \$1 AND day_number = \$2 ORDER BY`).
		WithArgs("u1", 4).
		WillReturnRows(rows)
	mock.ExpectQuery(`FROM attempts WHERE user_id = \$1 ORDER BY`).
		WithArgs("u2").
		WillReturnRows(pgxmock.NewRows(attemptColumns))

	list, err := s.ListAttempts(context.Background(), "u1", 4)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a3", list[0].ID)

	empty, err := s.ListAttempts(context.Background(), "u2", 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AttemptDays(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)

	mock.ExpectQuery(`SELECT DISTINCT day_number FROM attempts`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"day_number"}).AddRow(5).AddRow(3).AddRow(2))

	days, err := s.AttemptDays(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3, 2}, days)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetAttemptMalformedID(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)

	mock.ExpectQuery(`FROM attempts`).
		WithArgs("not-a-uuid", "u1").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})

	_, err := s.GetAttempt(context.Background(), "u1", "not-a-uuid")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListScenarios(t *testing.T) {
	s, mock := newMockStore(t, store.PolicyAppend)

	mock.ExpectQuery(`FROM scenarios ORDER BY day_number ASC`).
		WillReturnRows(pgxmock.NewRows(scenarioColumns).
			AddRow(1, "Weekly Sync", "Project Manager", "S", "O", (*string)(nil), 90).
			AddRow(2, "Elevator Pitch", "Founder", "S", "O", (*string)(nil), 60))

	list, err := s.ListScenarios(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[1].DayNumber)
	assert.Nil(t, list[0].ConstraintText)
	assert.NoError(t, mock.ExpectationsWereMet())
}
