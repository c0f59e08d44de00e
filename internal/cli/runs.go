package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cairn/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Experiment string // optional - defaults to the configured experiment
	All        bool
}

// RunsResult holds the runs command output.
type RunsResult struct {
	Runs  []store.Run `json:"runs"`
	Total int         `json:"total"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List recorded runs ordered by experiment and run number.

Without --experiment, runs of the configured experiment are listed
("experiment" in cairn.cue). --all lists runs of every experiment.

Examples:
  cairn runs
  cairn runs --experiment iris
  cairn runs --all
  cairn runs --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Experiment, "experiment", "e", "", "list runs of this experiment (default from config)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "list runs of every experiment")
	cmd.MarkFlagsMutuallyExclusive("experiment", "all")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	experiment := opts.Experiment
	switch {
	case opts.All:
		experiment = ""
	case experiment == "":
		experiment = opts.Config.Experiment
	}

	runs, err := st.ListRuns(cmd.Context(), experiment)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}

	result := RunsResult{Runs: runs, Total: len(runs)}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		outputRunsText(w, result, opts.Verbose)
	})
}

func outputRunsText(w io.Writer, result RunsResult, verbose bool) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}

	fmt.Fprintf(w, "%d run(s)\n\n", result.Total)
	for _, r := range result.Runs {
		fmt.Fprintf(w, "%s %-40s %s\n", statusMark(r.Status), r.Reference, r.Status)
		if !verbose {
			continue
		}
		fmt.Fprintf(w, "  ID: %s\n", r.ID)
		fmt.Fprintf(w, "  Started: %s\n", r.Timestamp.Format(time.RFC3339))
		if r.EndTime != nil {
			fmt.Fprintf(w, "  Ended: %s\n", r.EndTime.Format(time.RFC3339))
		}
		if r.Commit != "" {
			dirty := ""
			if r.WorkdirDirty {
				dirty = " (dirty)"
			}
			fmt.Fprintf(w, "  Commit: %s%s\n", r.Commit, dirty)
		}
		if r.Exception != nil {
			fmt.Fprintf(w, "  Exception: %s\n", *r.Exception)
		}
	}
}

func statusMark(s store.Status) string {
	switch s {
	case store.StatusSuccess:
		return "✓"
	case store.StatusError:
		return "✗"
	case store.StatusIncomplete:
		return "!"
	default:
		return "…"
	}
}
