package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverallScore(t *testing.T) {
	assert.Equal(t, 37, OverallScore(Scores{8, 7, 6, 9, 7}))
	assert.Equal(t, 0, OverallScore(Scores{}))
	assert.Equal(t, 50, OverallScore(Scores{10, 10, 10, 10, 10}))
}

func TestOverallScore_SumWithinRange(t *testing.T) {
	for a := 0; a <= 10; a += 5 {
		for b := 0; b <= 10; b += 2 {
			for c := 0; c <= 10; c += 3 {
				s := Scores{a, b, c, 10 - a, 10 - b}
				got := OverallScore(s)
				assert.Equal(t, a+b+c+(10-a)+(10-b), got)
				assert.GreaterOrEqual(t, got, 0)
				assert.LessOrEqual(t, got, 50)
			}
		}
	}
}

func TestClampScores(t *testing.T) {
	in := Scores{Clarity: 12, Structure: -3, Confidence: 5, Tone: 10, Conciseness: 0}
	out, changed := ClampScores(in)
	assert.True(t, changed)
	assert.Equal(t, Scores{Clarity: 10, Structure: 0, Confidence: 5, Tone: 10, Conciseness: 0}, out)
	assert.Equal(t, 25, OverallScore(out))

	same, changed := ClampScores(Scores{8, 7, 6, 9, 7})
	assert.False(t, changed)
	assert.Equal(t, Scores{8, 7, 6, 9, 7}, same)
}
