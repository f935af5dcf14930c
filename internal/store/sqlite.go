package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db     *sql.DB
	policy ResultPolicy
	now    func() time.Time
}

func NewSQLiteStore(dataSourceName string, policy ResultPolicy) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, policy: policy, now: time.Now}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Policy() ResultPolicy {
	return s.policy
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        challenge_start_date DATETIME,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS scenarios (
        day_number INTEGER PRIMARY KEY CHECK (day_number BETWEEN 1 AND 30),
        title TEXT NOT NULL,
        role TEXT NOT NULL,
        situation TEXT NOT NULL,
        objective TEXT NOT NULL,
        constraint_text TEXT,
        time_limit INTEGER NOT NULL DEFAULT 90
    );

    CREATE TABLE IF NOT EXISTS attempts (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        day_number INTEGER NOT NULL CHECK (day_number BETWEEN 1 AND 30),
        transcript TEXT NOT NULL,
        clarity_score INTEGER NOT NULL,
        structure_score INTEGER NOT NULL,
        confidence_score INTEGER NOT NULL,
        tone_score INTEGER NOT NULL,
        conciseness_score INTEGER NOT NULL,
        filler_count INTEGER NOT NULL CHECK (filler_count >= 0),
        overall_score INTEGER NOT NULL,
        feedback_json TEXT NOT NULL,
        audio_path TEXT,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_attempts_user_day ON attempts (user_id, day_number, created_at DESC);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, userID string) (*User, error) {
	_, err := s.db.ExecContext(ctx, "INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING", userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return s.GetUser(ctx, userID)
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	var start sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT id, challenge_start_date, created_at FROM users WHERE id = ?", userID).Scan(&user.ID, &start, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if start.Valid {
		t := start.Time.UTC()
		user.ChallengeStartDate = &t
	}
	return &user, nil
}

// SetChallengeStart records when the user's challenge began. Calling it again
// restarts the challenge.
func (s *SQLiteStore) SetChallengeStart(ctx context.Context, userID string, start time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (id, challenge_start_date, created_at) VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET challenge_start_date = excluded.challenge_start_date`,
		userID, start.UTC(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set challenge start: %w", err)
	}
	return nil
}

// Scenario methods
func (s *SQLiteStore) GetScenarioByDay(ctx context.Context, day int) (*Scenario, error) {
	var sc Scenario
	var constraint sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT day_number, title, role, situation, objective, constraint_text, time_limit FROM scenarios WHERE day_number = ?", day).
		Scan(&sc.DayNumber, &sc.Title, &sc.Role, &sc.Situation, &sc.Objective, &constraint, &sc.TimeLimit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scenario for day %d: %w", day, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query scenario: %w", err)
	}
	if constraint.Valid {
		sc.ConstraintText = &constraint.String
	}
	return &sc, nil
}

func (s *SQLiteStore) ListScenarios(ctx context.Context) ([]Scenario, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT day_number, title, role, situation, objective, constraint_text, time_limit FROM scenarios ORDER BY day_number ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var scenarios []Scenario
	for rows.Next() {
		var sc Scenario
		var constraint sql.NullString
		if err := rows.Scan(&sc.DayNumber, &sc.Title, &sc.Role, &sc.Situation, &sc.Objective, &constraint, &sc.TimeLimit); err != nil {
			return nil, fmt.Errorf("failed to scan scenario row: %w", err)
		}
		if constraint.Valid {
			sc.ConstraintText = &constraint.String
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

func (s *SQLiteStore) UpsertScenario(ctx context.Context, sc Scenario) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO scenarios (day_number, title, role, situation, objective, constraint_text, time_limit)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(day_number) DO UPDATE SET
            title = excluded.title, role = excluded.role, situation = excluded.situation,
            objective = excluded.objective, constraint_text = excluded.constraint_text, time_limit = excluded.time_limit`,
		sc.DayNumber, sc.Title, sc.Role, sc.Situation, sc.Objective, sc.ConstraintText, sc.TimeLimit)
	if err != nil {
		return fmt.Errorf("failed to upsert scenario %d: %w", sc.DayNumber, err)
	}
	return nil
}

// Attempt methods

// SaveAttempt writes the attempt in a single statement. Under the overwrite
// policy the id is derived from (user, day) and the row is replaced.
func (s *SQLiteStore) SaveAttempt(ctx context.Context, a *Attempt) (string, error) {
	if a.ID == "" {
		a.ID = s.policy.NewAttemptID(a.UserID, a.DayNumber)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()

	feedback, err := json.Marshal(a.FeedbackSummary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal feedback: %w", err)
	}

	query := `
        INSERT INTO attempts (id, user_id, day_number, transcript, clarity_score, structure_score, confidence_score,
            tone_score, conciseness_score, filler_count, overall_score, feedback_json, audio_path, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.policy == PolicyOverwrite {
		query += `
        ON CONFLICT(id) DO UPDATE SET
            transcript = excluded.transcript, clarity_score = excluded.clarity_score,
            structure_score = excluded.structure_score, confidence_score = excluded.confidence_score,
            tone_score = excluded.tone_score, conciseness_score = excluded.conciseness_score,
            filler_count = excluded.filler_count, overall_score = excluded.overall_score,
            feedback_json = excluded.feedback_json, audio_path = excluded.audio_path, created_at = excluded.created_at`
	}

	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.DayNumber, a.Transcript, a.ClarityScore, a.StructureScore, a.ConfidenceScore,
		a.ToneScore, a.ConcisenessScore, a.FillerCount, a.OverallScore, string(feedback), a.AudioPath, a.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to execute attempt insert: %w", err)
	}
	return a.ID, nil
}

const attemptColumns = `id, user_id, day_number, transcript, clarity_score, structure_score, confidence_score,
    tone_score, conciseness_score, filler_count, overall_score, feedback_json, audio_path, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var feedback string
	var audioPath sql.NullString
	if err := row.Scan(&a.ID, &a.UserID, &a.DayNumber, &a.Transcript, &a.ClarityScore, &a.StructureScore,
		&a.ConfidenceScore, &a.ToneScore, &a.ConcisenessScore, &a.FillerCount, &a.OverallScore,
		&feedback, &audioPath, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(feedback), &a.FeedbackSummary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feedback for attempt %s: %w", a.ID, err)
	}
	if audioPath.Valid {
		a.AudioPath = &audioPath.String
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *SQLiteStore) GetAttempt(ctx context.Context, userID, attemptID string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+attemptColumns+" FROM attempts WHERE id = ? AND user_id = ?", attemptID, userID)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) LatestAttempt(ctx context.Context, userID string, day int) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+attemptColumns+` FROM attempts
        WHERE user_id = ? AND day_number = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, userID, day)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attempt for day %d: %w", day, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns the user's attempts newest first. day 0 lists every day.
func (s *SQLiteStore) ListAttempts(ctx context.Context, userID string, day int) ([]Attempt, error) {
	query := "SELECT " + attemptColumns + " FROM attempts WHERE user_id = ?"
	args := []any{userID}
	if day != 0 {
		query += " AND day_number = ?"
		args = append(args, day)
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// AttemptDays returns the distinct day numbers with at least one attempt.
func (s *SQLiteStore) AttemptDays(ctx context.Context, userID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT day_number FROM attempts WHERE user_id = ? ORDER BY day_number DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt days: %w", err)
	}
	defer rows.Close()

	var days []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan attempt day: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
