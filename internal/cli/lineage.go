package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cairn/fingerprint"
	"github.com/roach88/cairn/store"
)

// LineageResult holds the lineage command output.
type LineageResult struct {
	ArtifactID string              `json:"artifact_id"`
	Nodes      []store.LineageNode `json:"nodes"`
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <artifact-id>",
		Short: "Show the upstream stages and artifacts of an artifact",
		Long: `Walk upstream from an artifact through the stages that produced it
and the artifacts those stages consumed.

Examples:
  cairn lineage 0190f5a2-...
  cairn lineage 0190f5a2-... --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(rootOpts, cmd, args[0])
		},
	}
}

func runLineage(opts *RootOptions, cmd *cobra.Command, artifactID string) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	nodes, err := st.Lineage(cmd.Context(), artifactID)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitFailure, ErrCodeNotFound, fmt.Sprintf("artifact %s not found", artifactID), err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeStore, "failed to read lineage", err)
	}

	result := LineageResult{ArtifactID: artifactID, Nodes: nodes}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		outputLineageText(w, result, opts.Verbose)
	})
}

func outputLineageText(w io.Writer, result LineageResult, verbose bool) {
	fmt.Fprintf(w, "Lineage of %s: %d artifact(s)\n\n", result.ArtifactID, len(result.Nodes))

	for _, n := range result.Nodes {
		indent := strings.Repeat("  ", n.Depth)
		a := n.Artifact
		fmt.Fprintf(w, "%s%s [%s] %s\n", indent, a.Name, fingerprint.Hash(a.Hash).Short(), a.CacherType)
		if verbose {
			fmt.Fprintf(w, "%s  ID: %s\n", indent, a.ID)
		}
		if len(n.Items) > 0 {
			fmt.Fprintf(w, "%s  list of %d\n", indent, len(n.Items))
			if verbose {
				for _, it := range n.Items {
					fmt.Fprintf(w, "%s    [%d] = %s\n", indent, it.Position, it.ItemID)
				}
			}
		}
		if n.Stage == nil {
			continue
		}
		fmt.Fprintf(w, "%s  ← %s\n", indent, stageLabel(n.Stage))
		if verbose {
			for _, in := range n.Inputs {
				fmt.Fprintf(w, "%s    %s = %s\n", indent, in.ArgName, in.ArtifactID)
			}
		}
	}
}

func stageLabel(s *store.Stage) string {
	if s.FuncModule == "" {
		return s.FuncName
	}
	return s.FuncModule + "." + s.FuncName
}
