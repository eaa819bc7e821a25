package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run with minimal required fields.
func createTestRun(id, flow, registry, status string) RunRecord {
	return RunRecord{
		ID:         id,
		Flow:       flow,
		Registry:   registry,
		GraphKey:   "key-" + flow,
		Status:     status,
		Steps:      2,
		Nodes:      3,
		Pipelines:  4,
		Duration:   3 * time.Millisecond,
		Summary:    plan.Summary{Registry: registry, Steps: []plan.GraphSummary{}, StepCount: 2},
		RecordedAt: testutil.Epoch,
	}
}
