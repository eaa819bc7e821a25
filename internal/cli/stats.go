package cli

import (
	"context"
	"fmt"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/roach88/flowplan/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Database string
	Flow     string
}

// RegistryStats is the aggregate of one registry's recorded runs.
type RegistryStats struct {
	Registry       string  `json:"registry"`
	Runs           int     `json:"runs"`
	Successes      int     `json:"successes"`
	Failures       int     `json:"failures"`
	Wins           int     `json:"wins"`
	MeanDurationMS float64 `json:"mean_duration_ms"`
	LastStatus     string  `json:"last_status"`
}

// StatsOutput is the result of the stats command.
type StatsOutput struct {
	Flow       string          `json:"flow,omitempty"`
	Registries []RegistryStats `json:"registries"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded runs per registry",
		Long: `Summarize the planner runs recorded by 'flowplan plan --db'.

For every registry: runs, successes, failures, races won, mean planning
time and the status of the latest run.

Examples:
  flowplan stats --db ./flowplan.db
  flowplan stats --db ./flowplan.db --flow wc --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Flow, "flow", "", "only count runs of this flow")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := context.Background()

	st, err := openExisting(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	stats, err := st.RegistryStats(ctx, opts.Flow)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}

	out := StatsOutput{Flow: opts.Flow, Registries: make([]RegistryStats, 0, len(stats))}
	for _, s := range stats {
		out.Registries = append(out.Registries, RegistryStats{
			Registry:       s.Registry,
			Runs:           s.Runs,
			Successes:      s.Successes,
			Failures:       s.Failures,
			Wins:           s.Wins,
			MeanDurationMS: float64(s.MeanDuration.Microseconds()) / 1000,
			LastStatus:     s.LastStatus,
		})
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}

	if len(out.Registries) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}

	tbl := table.New("REGISTRY", "RUNS", "OK", "FAILED", "WINS", "MEAN", "LAST").WithWriter(formatter.Writer)
	for _, s := range out.Registries {
		tbl.AddRow(s.Registry, s.Runs, s.Successes, s.Failures, s.Wins,
			fmt.Sprintf("%.3fms", s.MeanDurationMS), s.LastStatus)
	}
	tbl.Print()
	return nil
}

// openExisting opens a store that must already exist; store.Open would
// silently create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := statFile(path); err != nil {
		return nil, err
	}
	return store.Open(path)
}
