package cli

import (
	"fmt"
	"os"

	"github.com/cairnstore/cairn/internal/storage"
)

// openStore opens an existing graph database, mapping a missing file to a
// command error rather than silently creating an empty store.
func openStore(path string) (*storage.SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("store %q not found", path), err)
	}
	s, err := storage.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open store %q", path), err)
	}
	return s, nil
}
