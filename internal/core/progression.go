package core

import (
	"slices"
	"time"

	"speakup.dev/speaking-sprint/internal/store"
)

const dayLength = 24 * time.Hour

// MilestoneDays get a celebration screen once completed.
var MilestoneDays = []int{7, 14, 21, 30}

// CurrentDay maps a challenge start and "now" to the 1-based unlocked day,
// clamped to the challenge length.
func CurrentDay(start *time.Time, now time.Time) (int, error) {
	if start == nil {
		return 0, ErrChallengeNotStarted
	}
	elapsed := now.Sub(*start)
	if elapsed < 0 {
		elapsed = -elapsed
	}
	day := int(elapsed/dayLength) + 1
	return min(day, store.LastDay), nil
}

func IsUnlocked(day, currentDay int) bool {
	return day >= store.FirstDay && day <= currentDay
}

// Streak counts the run of consecutive days ending at the most recent day
// with an attempt.
func Streak(days []int) int {
	if len(days) == 0 {
		return 0
	}
	sorted := slices.Clone(days)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	slices.Reverse(sorted)

	streak := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1]-sorted[i] != 1 {
			break
		}
		streak++
	}
	return streak
}

func IsMilestone(day int) bool {
	return slices.Contains(MilestoneDays, day)
}

type DayStatus struct {
	DayNumber int  `json:"day_number"`
	Unlocked  bool `json:"unlocked"`
	Today     bool `json:"today"`
	Completed bool `json:"completed"`
	Milestone bool `json:"milestone"`
}

// DayStatuses builds the 30 day grid for the dashboard.
func DayStatuses(currentDay int, attemptDays []int) []DayStatus {
	done := make(map[int]bool, len(attemptDays))
	for _, d := range attemptDays {
		done[d] = true
	}

	out := make([]DayStatus, 0, store.LastDay)
	for d := store.FirstDay; d <= store.LastDay; d++ {
		out = append(out, DayStatus{
			DayNumber: d,
			Unlocked:  IsUnlocked(d, currentDay),
			Today:     d == currentDay,
			Completed: done[d],
			Milestone: IsMilestone(d),
		})
	}
	return out
}
