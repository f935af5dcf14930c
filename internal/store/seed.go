package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultTimeLimit = 90

type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// ScenarioWriter is implemented by every store that can hold scenarios.
type ScenarioWriter interface {
	UpsertScenario(ctx context.Context, sc Scenario) error
}

// LoadScenarios reads and validates a YAML scenario catalogue.
func LoadScenarios(filePath string) ([]Scenario, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", filePath, err)
	}
	return ParseScenarios(content)
}

func ParseScenarios(content []byte) ([]Scenario, error) {
	var file scenarioFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}

	seen := make(map[int]bool, len(file.Scenarios))
	var errs []error
	for i := range file.Scenarios {
		sc := &file.Scenarios[i]
		if !ValidDay(sc.DayNumber) {
			errs = append(errs, fmt.Errorf("scenario #%d: day_number %d outside %d-%d", i+1, sc.DayNumber, FirstDay, LastDay))
			continue
		}
		if seen[sc.DayNumber] {
			errs = append(errs, fmt.Errorf("scenario #%d: duplicate day_number %d", i+1, sc.DayNumber))
		}
		seen[sc.DayNumber] = true

		if strings.TrimSpace(sc.Title) == "" || strings.TrimSpace(sc.Role) == "" ||
			strings.TrimSpace(sc.Situation) == "" || strings.TrimSpace(sc.Objective) == "" {
			errs = append(errs, fmt.Errorf("day %d: title, role, situation and objective are required", sc.DayNumber))
		}
		if sc.ConstraintText != nil && strings.TrimSpace(*sc.ConstraintText) == "" {
			sc.ConstraintText = nil
		}
		if sc.TimeLimit == 0 {
			sc.TimeLimit = defaultTimeLimit
		}
		if sc.TimeLimit < 0 {
			errs = append(errs, fmt.Errorf("day %d: time_limit must be positive", sc.DayNumber))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return file.Scenarios, nil
}

// SeedScenarios loads the catalogue at filePath into w and returns how many
// scenarios were written.
func SeedScenarios(ctx context.Context, w ScenarioWriter, filePath string) (int, error) {
	scenarios, err := LoadScenarios(filePath)
	if err != nil {
		return 0, err
	}
	for _, sc := range scenarios {
		if err := w.UpsertScenario(ctx, sc); err != nil {
			return 0, err
		}
	}
	return len(scenarios), nil
}
