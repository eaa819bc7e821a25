package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowplan/internal/plan"
)

// Scenario defines a planner scenario: which flow to plan, with which
// registry or race, and what the plan must look like.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists the CUE files declaring the flow, registries and races.
	// Paths are relative to the scenario file location.
	Specs []string `yaml:"specs"`

	// Flow names the flow to plan.
	Flow string `yaml:"flow"`

	// Registry names a registry to plan with. Exactly one of Registry and
	// Race is set.
	Registry string `yaml:"registry,omitempty"`

	// Race names a race to run instead of a single registry.
	Race string `yaml:"race,omitempty"`

	// Assertions validate the plan.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates the plan or the planning failure.
type Assertion struct {
	// Type specifies the assertion type:
	// - "step_count", "node_count", "pipeline_count": subgraphs per level
	// - "elements": exact elements of a named subgraph
	// - "winner": race winner
	// - "error_code": planning error code
	// - "failed_phase": phase the planning error occurred in
	// - "recorded_run": a run stored for a registry with a status
	Type string `yaml:"type"`

	// Count is the expected number of subgraphs (used by *_count).
	Count int `yaml:"count,omitempty"`

	// Level is step, node or pipeline (used by elements).
	Level string `yaml:"level,omitempty"`

	// Name is the subgraph name (used by elements).
	Name string `yaml:"name,omitempty"`

	// Elements is the expected element order (used by elements).
	Elements []string `yaml:"elements,omitempty"`

	// Registry is the expected registry (used by winner, recorded_run).
	Registry string `yaml:"registry,omitempty"`

	// Status is the expected run status (used by recorded_run).
	Status string `yaml:"status,omitempty"`

	// Code is the expected error code (used by error_code).
	Code string `yaml:"code,omitempty"`

	// Phase is the expected phase name (used by failed_phase).
	Phase string `yaml:"phase,omitempty"`
}

// Assertion type constants.
const (
	AssertStepCount     = "step_count"
	AssertNodeCount     = "node_count"
	AssertPipelineCount = "pipeline_count"
	AssertElements      = "elements"
	AssertWinner        = "winner"
	AssertErrorCode     = "error_code"
	AssertFailedPhase   = "failed_phase"
	AssertRecordedRun   = "recorded_run"
)

// LoadScenario reads and parses a scenario YAML file, resolving spec paths
// relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving spec paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve spec paths relative to base path BEFORE validation
	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}

	if s.Flow == "" {
		return fmt.Errorf("flow is required")
	}

	if (s.Registry == "") == (s.Race == "") {
		return fmt.Errorf("exactly one of registry and race is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStepCount, AssertNodeCount, AssertPipelineCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertElements:
		if _, err := parseLevel(a.Level); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for elements", index)
		}
		if len(a.Elements) == 0 {
			return fmt.Errorf("assertions[%d]: elements list is required for elements", index)
		}
	case AssertWinner:
		if a.Registry == "" {
			return fmt.Errorf("assertions[%d]: registry is required for winner", index)
		}
	case AssertErrorCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_code", index)
		}
	case AssertFailedPhase:
		if _, err := plan.ParsePhase(a.Phase); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertRecordedRun:
		if a.Registry == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: registry and status are required for recorded_run", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func parseLevel(name string) (plan.Level, error) {
	for _, l := range plan.Levels() {
		if l == plan.LevelAssembly {
			continue
		}
		if strings.EqualFold(name, l.String()) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q, want step, node or pipeline", name)
}
