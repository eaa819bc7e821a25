package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowplan/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
	Flow     string
	Registry string
	Limit    int
	ID       string
}

// RunEntry is one recorded run in the timeline.
type RunEntry struct {
	ID         string        `json:"id"`
	Seq        int64         `json:"seq"`
	Flow       string        `json:"flow"`
	Registry   string        `json:"registry"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Steps      int           `json:"steps"`
	Nodes      int           `json:"nodes"`
	Pipelines  int           `json:"pipelines"`
	DurationMS float64       `json:"duration_ms"`
	RecordedAt time.Time     `json:"recorded_at"`
	Phases     []PhaseTiming `json:"phases,omitempty"`
}

// PhaseTiming is the time one phase of a run took.
type PhaseTiming struct {
	Phase      string       `json:"phase"`
	DurationMS float64      `json:"duration_ms"`
	Rules      []RuleTiming `json:"rules,omitempty"`
}

// RuleTiming is the time one rule took within its phase.
type RuleTiming struct {
	Rule       string  `json:"rule"`
	DurationMS float64 `json:"duration_ms"`
}

// RunsOutput is the result of the runs command.
type RunsOutput struct {
	Runs []RunEntry `json:"runs"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, or show one run's phase timings",
		Long: `List the planner runs recorded by 'flowplan plan --db', oldest first.

With --id a single run is shown with the time every phase and every rule
took.

Examples:
  flowplan runs --db ./flowplan.db
  flowplan runs --db ./flowplan.db --flow wc --registry cluster --limit 10
  flowplan runs --db ./flowplan.db --id 0190d3c4-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Flow, "flow", "", "only runs of this flow")
	cmd.Flags().StringVar(&opts.Registry, "registry", "", "only runs of this registry")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "only the most recent runs (0 = all)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "show a single run with its timings")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := context.Background()

	st, err := openExisting(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var out RunsOutput
	if opts.ID != "" {
		rec, err := st.ReadRun(ctx, opts.ID)
		if errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("run %q not found", opts.ID)
			_ = formatter.Error(ErrCodeNotFound, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		out.Runs = []RunEntry{toRunEntry(rec)}
	} else {
		recs, err := st.ListRuns(ctx, store.RunFilter{Flow: opts.Flow, Registry: opts.Registry, Limit: opts.Limit})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		out.Runs = make([]RunEntry, 0, len(recs))
		for _, rec := range recs {
			out.Runs = append(out.Runs, toRunEntry(rec))
		}
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	return outputRunsText(formatter, out, opts.ID != "")
}

func toRunEntry(rec store.RunRecord) RunEntry {
	e := RunEntry{
		ID:         rec.ID,
		Seq:        rec.Seq,
		Flow:       rec.Flow,
		Registry:   rec.Registry,
		Status:     rec.Status,
		Error:      rec.Error,
		Steps:      rec.Steps,
		Nodes:      rec.Nodes,
		Pipelines:  rec.Pipelines,
		DurationMS: millis(rec.Duration),
		RecordedAt: rec.RecordedAt,
	}
	for _, pt := range rec.Phases {
		p := PhaseTiming{Phase: pt.Phase, DurationMS: millis(pt.Duration)}
		for _, rt := range pt.Rules {
			p.Rules = append(p.Rules, RuleTiming{Rule: rt.Rule, DurationMS: millis(rt.Duration)})
		}
		e.Phases = append(e.Phases, p)
	}
	return e
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func outputRunsText(formatter *OutputFormatter, out RunsOutput, detailed bool) error {
	w := formatter.Writer
	if len(out.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	for _, r := range out.Runs {
		fmt.Fprintf(w, "[%d] %s %s/%s %s (%d/%d/%d) %.3fms\n",
			r.Seq, r.ID, r.Flow, r.Registry, r.Status, r.Steps, r.Nodes, r.Pipelines, r.DurationMS)
		if !detailed {
			continue
		}
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		}
		for _, p := range r.Phases {
			fmt.Fprintf(w, "  %-20s %.3fms\n", p.Phase, p.DurationMS)
			for _, rt := range p.Rules {
				fmt.Fprintf(w, "    %-18s %.3fms\n", rt.Rule, rt.DurationMS)
			}
		}
	}
	return nil
}

func statFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	return info, err
}
