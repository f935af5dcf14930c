// Package postgres implements the user, scenario and attempt stores on
// PostgreSQL. Queries are built with squirrel and executed through pgx.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"speakup.dev/speaking-sprint/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var attemptColumns = []string{
	"id", "user_id", "day_number", "transcript", "clarity_score", "structure_score", "confidence_score",
	"tone_score", "conciseness_score", "filler_count", "overall_score", "feedback", "audio_path", "created_at",
}

var scenarioColumns = []string{
	"day_number", "title", "role", "situation", "objective", "constraint_text", "time_limit",
}

const overwriteSuffix = `ON CONFLICT (id) DO UPDATE SET
    transcript = EXCLUDED.transcript, clarity_score = EXCLUDED.clarity_score,
    structure_score = EXCLUDED.structure_score, confidence_score = EXCLUDED.confidence_score,
    tone_score = EXCLUDED.tone_score, conciseness_score = EXCLUDED.conciseness_score,
    filler_count = EXCLUDED.filler_count, overall_score = EXCLUDED.overall_score,
    feedback = EXCLUDED.feedback, audio_path = EXCLUDED.audio_path, created_at = EXCLUDED.created_at`

type Store struct {
	db     Querier
	policy store.ResultPolicy
	now    func() time.Time
}

func New(db Querier, policy store.ResultPolicy) *Store {
	return &Store{db: db, policy: policy, now: time.Now}
}

// NewPool parses the DSN, applies the connection limit and pings the
// database before returning the pool.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Policy() store.ResultPolicy {
	return s.policy
}

func mapError(err error, entity string, key any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", entity, key, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02": // malformed uuid can never match a row
			return fmt.Errorf("%s %v: %w", entity, key, store.ErrNotFound)
		case "23514":
			return fmt.Errorf("%s %v: check violation: %w", entity, key, err)
		}
	}
	return fmt.Errorf("%s %v: %w", entity, key, err)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (s *Store) GetOrCreateUser(ctx context.Context, userID string) (*store.User, error) {
	q, args, err := psql.Insert("users").
		Columns("id", "created_at").
		Values(userID, s.now().UTC()).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		return nil, mapError(err, "user", userID)
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) GetUser(ctx context.Context, userID string) (*store.User, error) {
	q, args, err := psql.Select("id", "challenge_start_date", "created_at").
		From("users").
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user select: %w", err)
	}

	var u store.User
	if err := s.db.QueryRow(ctx, q, args...).Scan(&u.ID, &u.ChallengeStartDate, &u.CreatedAt); err != nil {
		return nil, mapError(err, "user", userID)
	}
	return &u, nil
}

func (s *Store) SetChallengeStart(ctx context.Context, userID string, start time.Time) error {
	q, args, err := psql.Insert("users").
		Columns("id", "challenge_start_date", "created_at").
		Values(userID, start.UTC(), s.now().UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET challenge_start_date = EXCLUDED.challenge_start_date").
		ToSql()
	if err != nil {
		return fmt.Errorf("build challenge start upsert: %w", err)
	}
	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		return mapError(err, "user", userID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scanScenario(row pgx.Row) (*store.Scenario, error) {
	var sc store.Scenario
	if err := row.Scan(&sc.DayNumber, &sc.Title, &sc.Role, &sc.Situation, &sc.Objective, &sc.ConstraintText, &sc.TimeLimit); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Store) GetScenarioByDay(ctx context.Context, day int) (*store.Scenario, error) {
	q, args, err := psql.Select(scenarioColumns...).
		From("scenarios").
		Where(squirrel.Eq{"day_number": day}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scenario select: %w", err)
	}
	sc, err := scanScenario(s.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, mapError(err, "scenario for day", day)
	}
	return sc, nil
}

func (s *Store) ListScenarios(ctx context.Context) ([]store.Scenario, error) {
	q, args, err := psql.Select(scenarioColumns...).From("scenarios").OrderBy("day_number ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scenario list: %w", err)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query scenarios: %w", err)
	}
	defer rows.Close()

	var out []store.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *Store) UpsertScenario(ctx context.Context, sc store.Scenario) error {
	q, args, err := psql.Insert("scenarios").
		Columns(scenarioColumns...).
		Values(sc.DayNumber, sc.Title, sc.Role, sc.Situation, sc.Objective, sc.ConstraintText, sc.TimeLimit).
		Suffix(`ON CONFLICT (day_number) DO UPDATE SET
    title = EXCLUDED.title, role = EXCLUDED.role, situation = EXCLUDED.situation,
    objective = EXCLUDED.objective, constraint_text = EXCLUDED.constraint_text, time_limit = EXCLUDED.time_limit`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build scenario upsert: %w", err)
	}
	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		return mapError(err, "scenario for day", sc.DayNumber)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Attempts
// ---------------------------------------------------------------------------

func (s *Store) SaveAttempt(ctx context.Context, a *store.Attempt) (string, error) {
	if a.ID == "" {
		a.ID = s.policy.NewAttemptID(a.UserID, a.DayNumber)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()

	feedback, err := json.Marshal(a.FeedbackSummary)
	if err != nil {
		return "", fmt.Errorf("marshal feedback: %w", err)
	}

	ins := psql.Insert("attempts").
		Columns(attemptColumns...).
		Values(a.ID, a.UserID, a.DayNumber, a.Transcript, a.ClarityScore, a.StructureScore, a.ConfidenceScore,
			a.ToneScore, a.ConcisenessScore, a.FillerCount, a.OverallScore, feedback, a.AudioPath, a.CreatedAt)
	if s.policy == store.PolicyOverwrite {
		ins = ins.Suffix(overwriteSuffix)
	}

	q, args, err := ins.ToSql()
	if err != nil {
		return "", fmt.Errorf("build attempt insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		return "", mapError(err, "attempt", a.ID)
	}
	return a.ID, nil
}

func scanAttempt(row pgx.Row) (*store.Attempt, error) {
	var a store.Attempt
	var feedback []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.DayNumber, &a.Transcript, &a.ClarityScore, &a.StructureScore,
		&a.ConfidenceScore, &a.ToneScore, &a.ConcisenessScore, &a.FillerCount, &a.OverallScore,
		&feedback, &a.AudioPath, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(feedback, &a.FeedbackSummary); err != nil {
		return nil, fmt.Errorf("unmarshal feedback for attempt %s: %w", a.ID, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *Store) GetAttempt(ctx context.Context, userID, attemptID string) (*store.Attempt, error) {
	q, args, err := psql.Select(attemptColumns...).
		From("attempts").
		Where(squirrel.Eq{"id": attemptID, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build attempt select: %w", err)
	}
	a, err := scanAttempt(s.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, mapError(err, "attempt", attemptID)
	}
	return a, nil
}

func (s *Store) LatestAttempt(ctx context.Context, userID string, day int) (*store.Attempt, error) {
	q, args, err := psql.Select(attemptColumns...).
		From("attempts").
		Where(squirrel.Eq{"user_id": userID, "day_number": day}).
		OrderBy("created_at DESC", "seq DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest attempt select: %w", err)
	}
	a, err := scanAttempt(s.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, mapError(err, "attempt for day", day)
	}
	return a, nil
}

// ListAttempts returns the user's attempts newest first. day 0 lists every day.
func (s *Store) ListAttempts(ctx context.Context, userID string, day int) ([]store.Attempt, error) {
	sel := psql.Select(attemptColumns...).
		From("attempts").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "seq DESC")
	if day != 0 {
		sel = sel.Where(squirrel.Eq{"day_number": day})
	}

	q, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build attempt list: %w", err)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []store.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

func (s *Store) AttemptDays(ctx context.Context, userID string) ([]int, error) {
	q, args, err := psql.Select("DISTINCT day_number").
		From("attempts").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("day_number DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build attempt days: %w", err)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempt days: %w", err)
	}
	defer rows.Close()

	var days []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan attempt day: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
