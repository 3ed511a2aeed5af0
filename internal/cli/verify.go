package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cairnstore/cairn/internal/storage"
)

// VerifyResult holds integrity findings for one store.
type VerifyResult struct {
	Clean    bool              `json:"clean"`
	Problems []storage.Problem `json:"problems,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <store.db>",
		Short: "Check a store for integrity problems",
		Long: `Check a store for integrity problems.

Scans relationship index density, refcount consistency against actual
referencing rows, dangling references, duplicate relationship members,
and type-less nodes. Findings are reported, not healed; a load pass
self-heals the recoverable categories.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runVerify(opts *RootOptions, storePath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := openStore(storePath)
	if err != nil {
		return err
	}
	defer s.Close()

	problems, err := storage.Verify(s)
	if err != nil {
		return WrapExitError(ExitCommandError, "verify failed", err)
	}
	holes, err := s.CheckIndexes()
	if err != nil {
		return WrapExitError(ExitCommandError, "index check failed", err)
	}
	problems = append(problems, holes...)

	if len(problems) == 0 {
		if opts.Format == "json" {
			return formatter.Success(VerifyResult{Clean: true})
		}
		fmt.Fprintln(formatter.Writer, "✓ Store is consistent")
		return nil
	}

	if opts.Format == "json" {
		_ = formatter.Success(VerifyResult{Clean: false, Problems: problems})
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %d problem(s) found\n\n", len(problems))
		for _, p := range problems {
			fmt.Fprintf(formatter.Writer, "  %s\n", p)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d integrity problem(s)", len(problems)))
}
