package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/flowplan/internal/plan"
)

// PlanSnapshot captures the deterministic outcome of a scenario: the kept
// plan, the failure classification and every recorded run.
type PlanSnapshot struct {
	ScenarioName string        `json:"scenario_name"`
	Winner       string        `json:"winner,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	FailedPhase  string        `json:"failed_phase,omitempty"`
	Summary      *plan.Summary `json:"summary,omitempty"`
	Runs         []RunOutcome  `json:"runs"`
}

// NewPlanSnapshot builds the snapshot of result. Error messages and
// assertion failures are left out.
func NewPlanSnapshot(name string, result *Result) PlanSnapshot {
	runs := result.Runs
	if runs == nil {
		runs = []RunOutcome{}
	}
	return PlanSnapshot{
		ScenarioName: name,
		Winner:       result.Winner,
		ErrorCode:    result.ErrorCode,
		FailedPhase:  result.FailedPhase,
		Summary:      result.Summary,
		Runs:         runs,
	}
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
// HTML escaping is off so element ids are written as declared.
func (s PlanSnapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the plan against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the plan doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewPlanSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
