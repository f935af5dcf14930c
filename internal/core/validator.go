package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"speakup.dev/speaking-sprint/internal/store"
)

// JudgeVerdict is a judge response that passed validation.
type JudgeVerdict struct {
	Transcript  string
	Scores      Scores
	FillerCount int
	Feedback    store.FeedbackSummary
}

// Wire shapes use pointers so absent fields can be told apart from zero values.
type wireObjectiveCheck struct {
	AddressedSituation *bool `json:"addressed_situation"`
	OfferedSolution    *bool `json:"offered_solution"`
	FollowedConstraint *bool `json:"followed_constraint"`
}

type wireFeedback struct {
	WhatYouDidWell       *[]string           `json:"what_you_did_well"`
	ImprovementAreas     *[]string           `json:"improvement_areas"`
	MissedObjectiveCheck *wireObjectiveCheck `json:"missed_objective_check"`
	SuggestedRewrite     *string             `json:"suggested_rewrite"`
}

type wireVerdict struct {
	Transcript       *string       `json:"transcript"`
	ClarityScore     *wireNumber   `json:"clarity_score"`
	StructureScore   *wireNumber   `json:"structure_score"`
	ConfidenceScore  *wireNumber   `json:"confidence_score"`
	ToneScore        *wireNumber   `json:"tone_score"`
	ConcisenessScore *wireNumber   `json:"conciseness_score"`
	FillerCount      *wireNumber   `json:"filler_count"`
	FeedbackSummary  *wireFeedback `json:"feedback_summary"`
}

// wireNumber is a JSON number literal. Unlike json.Number it refuses a
// quoted "8".
type wireNumber json.Number

func (n *wireNumber) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return fmt.Errorf("number expected, got string %s", b)
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = wireNumber(num)
	return nil
}

// StripCodeFences removes markdown fence markers the model sometimes wraps
// its answer in.
func StripCodeFences(raw string) string {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

// ParseJudgeOutput decodes and checks a raw judge response. Every required
// field must be present; nothing is defaulted.
func ParseJudgeOutput(raw string) (*JudgeVerdict, error) {
	cleaned := StripCodeFences(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedJudgeOutput)
	}

	var w wireVerdict
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJudgeOutput, err)
	}

	var missing, invalid []string
	integer := func(name string, n *wireNumber, dst *int) {
		if n == nil {
			missing = append(missing, name)
			return
		}
		v, err := integralValue(json.Number(*n))
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%s %v", name, err))
			return
		}
		*dst = v
	}

	var v JudgeVerdict
	if w.Transcript == nil {
		missing = append(missing, "transcript")
	} else {
		v.Transcript = *w.Transcript
	}
	integer("clarity_score", w.ClarityScore, &v.Scores.Clarity)
	integer("structure_score", w.StructureScore, &v.Scores.Structure)
	integer("confidence_score", w.ConfidenceScore, &v.Scores.Confidence)
	integer("tone_score", w.ToneScore, &v.Scores.Tone)
	integer("conciseness_score", w.ConcisenessScore, &v.Scores.Conciseness)
	integer("filler_count", w.FillerCount, &v.FillerCount)
	if w.FillerCount != nil && v.FillerCount < 0 {
		invalid = append(invalid, "filler_count is negative")
	}

	if fb := w.FeedbackSummary; fb == nil {
		missing = append(missing, "feedback_summary")
	} else {
		if fb.WhatYouDidWell == nil {
			missing = append(missing, "feedback_summary.what_you_did_well")
		} else {
			v.Feedback.WhatYouDidWell = *fb.WhatYouDidWell
		}
		if fb.ImprovementAreas == nil {
			missing = append(missing, "feedback_summary.improvement_areas")
		} else {
			v.Feedback.ImprovementAreas = *fb.ImprovementAreas
		}
		if fb.SuggestedRewrite == nil {
			missing = append(missing, "feedback_summary.suggested_rewrite")
		} else {
			v.Feedback.SuggestedRewrite = *fb.SuggestedRewrite
		}

		if oc := fb.MissedObjectiveCheck; oc == nil {
			missing = append(missing, "feedback_summary.missed_objective_check")
		} else {
			flag := func(name string, b *bool, dst *bool) {
				if b == nil {
					missing = append(missing, "feedback_summary.missed_objective_check."+name)
					return
				}
				*dst = *b
			}
			flag("addressed_situation", oc.AddressedSituation, &v.Feedback.MissedObjectiveCheck.AddressedSituation)
			flag("offered_solution", oc.OfferedSolution, &v.Feedback.MissedObjectiveCheck.OfferedSolution)
			flag("followed_constraint", oc.FollowedConstraint, &v.Feedback.MissedObjectiveCheck.FollowedConstraint)
		}
	}

	if len(missing) > 0 {
		invalid = append([]string{"missing " + strings.Join(missing, ", ")}, invalid...)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformedJudgeOutput, strings.Join(invalid, "; "))
	}
	return &v, nil
}

func integralValue(n json.Number) (int, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, errors.New("is not a number")
	}
	if math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, errors.New("is not an integer")
	}
	if math.Abs(f) > math.MaxInt32 {
		return 0, errors.New("is out of range")
	}
	return int(f), nil
}
