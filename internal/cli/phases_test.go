package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePhases(t *testing.T, stdout string) PhasesOutput {
	t.Helper()
	var resp struct {
		Status string       `json:"status"`
		Data   PhasesOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestPhasesList(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "phases")
	require.NoError(t, err)

	out := decodePhases(t, stdout)
	assert.Empty(t, out.Registry)
	require.Len(t, out.Phases, 12)

	first := out.Phases[0]
	assert.Equal(t, PhaseInfo{Ordinal: 0, Name: "PreBalanceAssembly", Level: "Assembly", Mode: "Mutate", Action: "Rule"}, first)
	assert.Equal(t, "Resolve", out.Phases[4].Action)
	assert.Equal(t, "PartitionSteps", out.Phases[6].Name)
	assert.Equal(t, "Partition", out.Phases[6].Mode)
	assert.Equal(t, "PostPipelines", out.Phases[11].Name)

	assert.Equal(t, []string{"cluster", "local"}, out.Presets)
	assert.Contains(t, out.Catalog, "SplitAt")
	assert.Contains(t, out.Catalog, "ForbidKind")
}

func TestPhasesPreset(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "phases", "--registry", "local")
	require.NoError(t, err)

	out := decodePhases(t, stdout)
	assert.Equal(t, "local", out.Registry)
	assert.Equal(t, []string{"Collapse"}, out.Phases[0].Rules)
	assert.Equal(t, []string{"Components"}, out.Phases[6].Rules)
	assert.Empty(t, out.Phases[7].Rules)
}

func TestPhasesDeclaredRegistry(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "phases", "--registry", "strict", "--specs", specsDir)
	require.NoError(t, err)

	out := decodePhases(t, stdout)
	assert.Equal(t, "strict", out.Registry)
	assert.Contains(t, out.Phases[0].Rules, "NoMerge")
}

func TestPhasesText(t *testing.T) {
	stdout, _, err := execute(t, "phases", "--registry", "cluster")
	require.NoError(t, err)

	assert.Regexp(t, `(?m)^#\s+PHASE\s+LEVEL\s+MODE\s+ACTION\s+RULES`, stdout)
	assert.Regexp(t, `(?m)^00\s+PreBalanceAssembly\s+Assembly\s+Mutate\s+Rule\s+Collapse`, stdout)
	assert.Regexp(t, `(?m)^04\s+ResolveAssembly\s+Assembly\s+\S+\s+Resolve\s*$`, stdout)
	assert.Contains(t, stdout, "Presets: cluster, local\n")
	assert.Contains(t, stdout, "Rules: ")
}

func TestPhasesUnknownRegistry(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"preset", []string{"phases", "--registry", "strict"}},
		{"declared", []string{"phases", "--registry", "nope", "--specs", specsDir}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, stdout, "Error ["+ErrCodeUnknownName+"]")
		})
	}
}
