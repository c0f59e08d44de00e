package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cairn/store"
)

// StatusResult holds the status command output.
type StatusResult struct {
	Database string `json:"database"`
	store.SchemaStatus
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema version of the metadata database",
		Long: `Show the current, applied and pending schema versions without
migrating the database.

Examples:
  cairn status
  cairn status --db ./.cairn/metadata.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	st, err := store.Inspect(cmd.Context(), opts.Config.StorePath)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeStore, "failed to inspect database", err)
	}

	result := StatusResult{Database: opts.Config.StorePath, SchemaStatus: st}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Database: %s\n", result.Database)
		fmt.Fprintf(w, "Schema version: %d (latest %d)\n", result.Current, result.Latest)
		fmt.Fprintf(w, "Applied: %s\n", joinVersions(result.Applied))
		fmt.Fprintf(w, "Pending: %s\n", joinVersions(result.Pending))
	})
}

func joinVersions(vs []int64) string {
	if len(vs) == 0 {
		return "none"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ", ")
}
