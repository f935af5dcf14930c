package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

const (
	FirstDay = 1
	LastDay  = 30
)

type User struct {
	ID                 string     `json:"id"`
	ChallengeStartDate *time.Time `json:"challenge_start_date"` // Nil until the challenge is started
	CreatedAt          time.Time  `json:"created_at"`
}

type Scenario struct {
	DayNumber      int     `json:"day_number" yaml:"day_number"`
	Title          string  `json:"title" yaml:"title"`
	Role           string  `json:"role" yaml:"role"`
	Situation      string  `json:"situation" yaml:"situation"`
	Objective      string  `json:"objective" yaml:"objective"`
	ConstraintText *string `json:"constraint_text" yaml:"constraint_text"`
	TimeLimit      int     `json:"time_limit" yaml:"time_limit"` // Seconds
}

type ObjectiveCheck struct {
	AddressedSituation bool `json:"addressed_situation"`
	OfferedSolution    bool `json:"offered_solution"`
	FollowedConstraint bool `json:"followed_constraint"`
}

type FeedbackSummary struct {
	WhatYouDidWell       []string       `json:"what_you_did_well"`
	ImprovementAreas     []string       `json:"improvement_areas"`
	MissedObjectiveCheck ObjectiveCheck `json:"missed_objective_check"`
	SuggestedRewrite     string         `json:"suggested_rewrite"`
}

// Attempt is one stored evaluation. Under the append policy a record is never
// edited after it is written.
type Attempt struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	DayNumber        int             `json:"day_number"`
	Transcript       string          `json:"transcript"`
	ClarityScore     int             `json:"clarity_score"`
	StructureScore   int             `json:"structure_score"`
	ConfidenceScore  int             `json:"confidence_score"`
	ToneScore        int             `json:"tone_score"`
	ConcisenessScore int             `json:"conciseness_score"`
	FillerCount      int             `json:"filler_count"`
	OverallScore     int             `json:"overall_score"`
	FeedbackSummary  FeedbackSummary `json:"feedback_summary"`
	AudioPath        *string         `json:"audio_path,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func ValidDay(day int) bool {
	return day >= FirstDay && day <= LastDay
}
