package harness

import (
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/cairnstore/cairn/internal/storage"
)

// RunGolden executes a scenario file against both backends. Every
// expectation must hold on each backend, the two canonical exports must be
// byte-identical, and the export must match the scenario's golden file
// (testdata/<name>.golden, refreshed with -update).
func RunGolden(t *testing.T, scenarioPath string) {
	t.Helper()

	sc, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	mem := storage.NewMemory()
	defer mem.Close()
	memResult, err := Run(sc, mem)
	require.NoError(t, err)
	require.True(t, memResult.Pass, "memory backend: %v", memResult.Errors)

	sq, err := storage.Open(filepath.Join(t.TempDir(), "scenario.db"))
	require.NoError(t, err)
	defer sq.Close()
	sqResult, err := Run(sc, sq)
	require.NoError(t, err)
	require.True(t, sqResult.Pass, "sqlite backend: %v", sqResult.Errors)

	holes, err := sq.CheckIndexes()
	require.NoError(t, err)
	require.Empty(t, holes)

	memJSON, err := memResult.Document.MarshalCanonical()
	require.NoError(t, err)
	sqJSON, err := sqResult.Document.MarshalCanonical()
	require.NoError(t, err)
	require.Equal(t, string(memJSON), string(sqJSON), "backends diverged")

	g := goldie.New(t)
	g.Assert(t, sc.Name, memJSON)
}
