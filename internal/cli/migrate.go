package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// MigrateResult holds the migrate command output.
type MigrateResult struct {
	Database string  `json:"database"`
	Applied  []int64 `json:"applied"`
	Version  int64   `json:"version"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Bring the metadata database to the latest schema version.

Each migration runs in its own transaction. A failed migration leaves the
database at the last version that committed.

Examples:
  cairn migrate
  cairn migrate --db ./.cairn/metadata.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.SchemaVersion(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeStore, "failed to read schema version", err)
	}

	result := MigrateResult{
		Database: opts.Config.StorePath,
		Applied:  st.Migrated(),
		Version:  version,
	}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		if len(result.Applied) == 0 {
			fmt.Fprintf(w, "Schema is up to date (version %d)\n", result.Version)
			return
		}
		fmt.Fprintf(w, "Applied %d migration(s):\n", len(result.Applied))
		for _, v := range result.Applied {
			fmt.Fprintf(w, "  ✓ %d\n", v)
		}
		fmt.Fprintf(w, "Schema version: %d\n", result.Version)
	})
}
