package store

import (
	"fmt"

	"github.com/google/uuid"
)

// ResultPolicy decides whether a new attempt accumulates next to earlier ones
// for the same day or replaces them.
type ResultPolicy string

const (
	PolicyAppend    ResultPolicy = "append"
	PolicyOverwrite ResultPolicy = "overwrite"
)

var attemptNamespace = uuid.MustParse("6f2b0c7e-3d4a-5b8e-9c1f-0a7d2e4b6c81")

// NewAttemptID returns a fresh id under the append policy and a stable
// (user, day) id under the overwrite policy, so that an upsert on the primary
// key resolves concurrent writes last-write-wins.
func (p ResultPolicy) NewAttemptID(userID string, day int) string {
	if p == PolicyOverwrite {
		return uuid.NewSHA1(attemptNamespace, []byte(fmt.Sprintf("%s/%d", userID, day))).String()
	}
	return uuid.NewString()
}

func ParsePolicy(s string) (ResultPolicy, error) {
	switch ResultPolicy(s) {
	case PolicyAppend, PolicyOverwrite:
		return ResultPolicy(s), nil
	}
	return "", fmt.Errorf("unknown result policy %q", s)
}
