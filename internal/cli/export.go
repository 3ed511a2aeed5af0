package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cairnstore/cairn/internal/storage"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	var encoding string

	cmd := &cobra.Command{
		Use:   "export <store.db>",
		Short: "Export a whole store to a document",
		Long: `Export a whole store to a portable document.

The document round-trips through import to an observably identical graph:
same nodes, same refcounts, same relationship order. JSON output is
canonical - two exports of identical graphs are byte-identical.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, args[0], output, encoding, cmd)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&encoding, "encoding", "", "document encoding: json or yaml (default from output extension, else json)")

	return cmd
}

func runExport(opts *RootOptions, storePath, output, encoding string, cmd *cobra.Command) error {
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

	doc, err := storage.Export(s)
	if err != nil {
		return WrapExitError(ExitCommandError, "export failed", err)
	}
	formatter.VerboseLog("Exported %d node(s)", len(doc.Nodes))

	data, err := encodeDocument(doc, resolveEncoding(encoding, output))
	if err != nil {
		return WrapExitError(ExitCommandError, "encode failed", err)
	}

	if output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to write %q", output), err)
	}
	formatter.VerboseLog("Wrote %s", output)
	return nil
}

// resolveEncoding picks the document encoding: an explicit flag wins, then
// the output file extension, then json.
func resolveEncoding(encoding, output string) string {
	if encoding != "" {
		return encoding
	}
	switch strings.ToLower(filepath.Ext(output)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func encodeDocument(doc *storage.Document, encoding string) ([]byte, error) {
	switch encoding {
	case "json":
		return doc.MarshalCanonical()
	case "yaml":
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unknown encoding %q: must be json or yaml", encoding)
	}
}
