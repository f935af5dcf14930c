package core

const (
	MinSubScore = 0
	MaxSubScore = 10
)

type Scores struct {
	Clarity     int `json:"clarity_score"`
	Structure   int `json:"structure_score"`
	Confidence  int `json:"confidence_score"`
	Tone        int `json:"tone_score"`
	Conciseness int `json:"conciseness_score"`
}

// OverallScore is the plain sum of the five sub-scores.
func OverallScore(s Scores) int {
	return s.Clarity + s.Structure + s.Confidence + s.Tone + s.Conciseness
}

// ClampScores bounds every sub-score to the rubric range and reports whether
// anything changed.
func ClampScores(s Scores) (Scores, bool) {
	out := Scores{
		Clarity:     clamp(s.Clarity),
		Structure:   clamp(s.Structure),
		Confidence:  clamp(s.Confidence),
		Tone:        clamp(s.Tone),
		Conciseness: clamp(s.Conciseness),
	}
	return out, out != s
}

func clamp(v int) int {
	return min(max(v, MinSubScore), MaxSubScore)
}
