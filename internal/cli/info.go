package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// InfoResult summarizes one store.
type InfoResult struct {
	Path          string `json:"path"`
	SchemaVersion int    `json:"schema_version"`
	Nodes         int    `json:"nodes"`
	Root          string `json:"root,omitempty"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "info <store.db>",
		Short:         "Summarize a store",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runInfo(opts *RootOptions, storePath string, cmd *cobra.Command) error {
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

	version, err := s.SchemaVersion()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}
	uids, err := s.UUIDs()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list nodes", err)
	}

	result := InfoResult{
		Path:          storePath,
		SchemaVersion: version,
		Nodes:         len(uids),
	}
	if root, ok, err := s.Root(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read root", err)
	} else if ok {
		result.Root = root.String()
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "Store:          %s\n", result.Path)
	fmt.Fprintf(formatter.Writer, "Schema version: %d\n", result.SchemaVersion)
	fmt.Fprintf(formatter.Writer, "Nodes:          %d\n", result.Nodes)
	if result.Root != "" {
		fmt.Fprintf(formatter.Writer, "Root:           %s\n", result.Root)
	} else {
		fmt.Fprintf(formatter.Writer, "Root:           (none)\n")
	}
	return nil
}
