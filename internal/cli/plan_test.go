package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowplan/internal/trace"
)

var specsDir = filepath.Join("testdata", "specs")

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestPlanCluster(t *testing.T) {
	stdout, _, err := execute(t, "plan", specsDir, "--flow", "wc")
	require.NoError(t, err)

	assert.Contains(t, stdout, "✓ Planned flow wc with cluster: 1 step(s), 2 node(s), 2 pipeline(s)")
	assert.Contains(t, stdout, "wc-01 [src parse group count sink]\n")
	assert.Contains(t, stdout, "  wc-01-01 [src parse group]\n")
	assert.Contains(t, stdout, "    wc-01-02-01 [group count sink]\n")
	assert.NotContains(t, stdout, "Runs:")
}

func TestPlanLocalJSON(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "plan", specsDir, "--flow", "wc", "--registry", "local")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   PlanOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "local", resp.Data.Winner)
	require.NotNil(t, resp.Data.Summary)
	assert.Equal(t, 1, resp.Data.Summary.StepCount)
	assert.Equal(t, 1, resp.Data.Summary.NodeCount)
	assert.Equal(t, 1, resp.Data.Summary.PipeCount)
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, RunSummary{Registry: "local", Status: "success", Steps: 1, Nodes: 1, Pipelines: 1}, resp.Data.Runs[0])
}

func TestPlanRace(t *testing.T) {
	stdout, _, err := execute(t, "plan", specsDir, "--flow", "wc", "--race", "compare")
	require.NoError(t, err)

	assert.Contains(t, stdout, "✓ Planned flow wc with local")
	assert.Contains(t, stdout, "Runs:\n")
	assert.Contains(t, stdout, "  cluster: success (1/2/2)\n")
	assert.Contains(t, stdout, "  local: success (1/1/1)\n")
}

func TestPlanUnsupported(t *testing.T) {
	stdout, _, err := execute(t, "plan", specsDir, "--flow", "fan", "--registry", "strict")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, stdout, "✗ Planning failed [UNSUPPORTED_PLAN]")
	assert.Contains(t, stdout, "  strict: UNSUPPORTED_PLAN (0/0/0)")
}

func TestPlanUnsupportedJSON(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "plan", specsDir, "--flow", "fan", "--registry", "strict")
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   PlanOutput `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "UNSUPPORTED_PLAN", resp.Error.Code)
	assert.Empty(t, resp.Data.Winner)
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, "UNSUPPORTED_PLAN", resp.Data.Runs[0].Status)
}

func TestPlanRaceFailed(t *testing.T) {
	stdout, _, err := execute(t, "plan", specsDir, "--flow", "fan", "--race", "doomed")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ Planning failed [RACE_FAILED]")
	assert.Contains(t, stdout, "  strict: UNSUPPORTED_PLAN")
}

func TestPlanCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flow", []string{"--flow", "nope"}, `unknown flow "nope" (declared: wc, fan)`},
		{"unknown registry", []string{"--flow", "wc", "--registry", "nope"}, `unknown registry "nope"`},
		{"unknown race", []string{"--flow", "wc", "--race", "nope"}, `unknown race "nope"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"plan", specsDir}, tt.args...)
			stdout, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, stdout, "Error ["+ErrCodeUnknownName+"]")
			assert.Contains(t, stdout, tt.want)
		})
	}
}

func TestPlanMissingSpecs(t *testing.T) {
	stdout, _, err := execute(t, "plan", "/nonexistent/specs", "--flow", "wc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error ["+ErrCodeNotFound+"]")
}

func TestPlanRequiresFlow(t *testing.T) {
	_, _, err := execute(t, "plan", specsDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "flow" not set`)
}

func TestPlanTraceDir(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "plan", specsDir, "--flow", "wc", "--trace-dir", dir)
	require.NoError(t, err)

	stats, err := os.ReadFile(filepath.Join(dir, "cluster", trace.StatsFile))
	require.NoError(t, err)
	assert.Contains(t, string(stats), "registry: cluster\nstatus: success\n")
	assert.Contains(t, string(stats), "steps: 1\nnodes: 2\npipelines: 2\n")

	dots, err := filepath.Glob(filepath.Join(dir, "cluster", "*.dot"))
	require.NoError(t, err)
	assert.NotEmpty(t, dots)
}

func TestPlanMetrics(t *testing.T) {
	stdout, stderr, err := execute(t, "--format", "json", "plan", specsDir, "--flow", "wc", "--metrics")
	require.NoError(t, err)

	assert.Contains(t, stderr, "# TYPE flowplan_planner_runs_total counter")
	assert.Contains(t, stderr, "flowplan_planner_phase_duration_seconds")
	// Metrics never corrupt the JSON document on stdout.
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
}

func TestPlanRecordsRuns(t *testing.T) {
	db := filepath.Join(t.TempDir(), "flowplan.db")

	_, _, err := execute(t, "plan", specsDir, "--flow", "wc", "--race", "compare", "--db", db)
	require.NoError(t, err)
	_, _, err = execute(t, "plan", specsDir, "--flow", "fan", "--registry", "strict", "--db", db)
	require.Error(t, err)

	stdout, _, err := execute(t, "--format", "json", "runs", "--db", db)
	require.NoError(t, err)

	var resp struct {
		Data RunsOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data.Runs, 3)

	last := resp.Data.Runs[2]
	assert.Equal(t, "fan", last.Flow)
	assert.Equal(t, "strict", last.Registry)
	assert.Equal(t, "UNSUPPORTED_PLAN", last.Status)
	assert.NotEmpty(t, last.Error)
}
