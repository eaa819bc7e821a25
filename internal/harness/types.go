package harness

import (
	"github.com/roach88/flowplan/internal/plan"
)

// RunOutcome is one registry run the scenario recorded.
type RunOutcome struct {
	Registry  string `json:"registry"`
	Status    string `json:"status"`
	Steps     int    `json:"steps"`
	Nodes     int    `json:"nodes"`
	Pipelines int    `json:"pipelines"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Winner is the registry whose plan was kept: the only registry, or the
	// race winner. Empty when planning failed.
	Winner string `json:"winner,omitempty"`

	// Summary is the kept plan. On failure it holds whatever the failing
	// registry committed before the error, when there is one.
	Summary *plan.Summary `json:"summary,omitempty"`

	// ErrorCode and FailedPhase describe a planning failure.
	ErrorCode   string `json:"error_code,omitempty"`
	FailedPhase string `json:"failed_phase,omitempty"`
	Error       string `json:"error,omitempty"`

	// Runs lists every recorded run, ordered by registry name.
	Runs []RunOutcome `json:"runs"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunOutcome{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// setFailure records a planning error.
func (r *Result) setFailure(err error) {
	r.Error = err.Error()
	r.ErrorCode = string(plan.CodeOf(err))
	if pe, ok := asPlanError(err); ok && pe.Phase.Valid() {
		r.FailedPhase = pe.Phase.String()
	}
}
