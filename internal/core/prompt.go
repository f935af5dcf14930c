package core

import (
	"fmt"
	"strings"

	"speakup.dev/speaking-sprint/internal/store"
)

// SilenceTranscript is what the judge writes when nothing intelligible was said.
const SilenceTranscript = "[Unintelligible / Silence]"

const judgeResponseShape = `{
  "transcript": "string",
  "clarity_score": number,
  "structure_score": number,
  "confidence_score": number,
  "tone_score": number,
  "conciseness_score": number,
  "filler_count": number,
  "feedback_summary": {
    "what_you_did_well": ["string"],
    "improvement_areas": ["string"],
    "missed_objective_check": {
      "addressed_situation": boolean,
      "offered_solution": boolean,
      "followed_constraint": boolean
    },
    "suggested_rewrite": "string"
  }
}`

// BuildJudgePrompt renders the evaluation instructions for one scenario.
// The output depends only on the scenario.
func BuildJudgePrompt(sc store.Scenario) string {
	constraint := "None"
	if sc.ConstraintText != nil && strings.TrimSpace(*sc.ConstraintText) != "" {
		constraint = strings.TrimSpace(*sc.ConstraintText)
	}

	var b strings.Builder
	b.WriteString("You are an expert executive communication coach.\n")
	b.WriteString("A user has recorded a spoken response to the role-play scenario below.\n")
	b.WriteString("Listen to the audio and return a structured JSON evaluation.\n\n")

	b.WriteString("### Scenario\n")
	fmt.Fprintf(&b, "- Title: %s\n", sc.Title)
	fmt.Fprintf(&b, "- Your role: %s\n", sc.Role)
	fmt.Fprintf(&b, "- Situation: %s\n", sc.Situation)
	fmt.Fprintf(&b, "- Objective: %s\n", sc.Objective)
	fmt.Fprintf(&b, "- Constraint: %s\n", constraint)
	fmt.Fprintf(&b, "- Time limit: %d seconds\n\n", sc.TimeLimit)

	b.WriteString("### Evaluation Criteria\n")
	b.WriteString("Score each as an integer from 0 to 10:\n")
	b.WriteString("- clarity_score: How clearly was the message delivered?\n")
	b.WriteString("- structure_score: Did it have a logical flow?\n")
	b.WriteString("- confidence_score: Did the speaker sound authoritative?\n")
	b.WriteString("- tone_score: Was the tone appropriately professional?\n")
	b.WriteString("- conciseness_score: Did they get to the point fast?\n\n")

	b.WriteString("Also:\n")
	b.WriteString("- filler_count: Estimate the number of filler words (um, uh, like, you know).\n")
	fmt.Fprintf(&b, "- transcript: A faithful transcript. If the audio is silent or unintelligible, use exactly %q.\n\n", SilenceTranscript)

	b.WriteString("Feedback arrays (2-3 items each):\n")
	b.WriteString("- what_you_did_well\n")
	b.WriteString("- improvement_areas\n\n")

	b.WriteString("Objective check:\n")
	b.WriteString("- addressed_situation (boolean): Did they respond to the situation described?\n")
	b.WriteString("- offered_solution (boolean): Did they propose a concrete way forward?\n")
	b.WriteString("- followed_constraint (boolean): Did they respect the constraint? True when the constraint is None.\n\n")

	b.WriteString("Finally:\n")
	b.WriteString("- suggested_rewrite: A \"perfect\" 30-second version of what they should have said.\n\n")

	b.WriteString("Return ONLY raw JSON matching this shape. No prose, no markdown, no code fences.\n")
	b.WriteString(judgeResponseShape)
	return b.String()
}
