package harness_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnstore/cairn/internal/harness"
	"github.com/cairnstore/cairn/internal/storage"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			harness.RunGolden(t, path)
		})
	}
}

func TestLoadScenarioRejectsUnknownOp(t *testing.T) {
	path := writeScenario(t, `
name: bad-op
steps:
  - op: explode
`)
	_, err := harness.LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown op "explode"`)
}

func TestLoadScenarioRejectsEmpty(t *testing.T) {
	path := writeScenario(t, `
name: empty
steps: []
`)
	_, err := harness.LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestRunReportsExpectationFailures(t *testing.T) {
	path := writeScenario(t, `
name: wrong-count
steps:
  - op: set-root
    node:
      uuid: 00000000-0000-0000-0000-000000000001
      type: library
expect:
  nodes: 5
  root: 00000000-0000-0000-0000-000000000099
`)
	sc, err := harness.LoadScenario(path)
	require.NoError(t, err)

	result, err := harness.Run(sc, storage.NewMemory())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
}

func TestRunAbortsOnStepError(t *testing.T) {
	path := writeScenario(t, `
name: bad-index
steps:
  - op: set-root
    node:
      uuid: 00000000-0000-0000-0000-000000000001
      type: library
  - op: insert-item
    parent: 00000000-0000-0000-0000-000000000001
    key: entries
    index: 7
    node:
      uuid: 00000000-0000-0000-0000-000000000002
      type: leaf
`)
	sc, err := harness.LoadScenario(path)
	require.NoError(t, err)

	_, err = harness.Run(sc, storage.NewMemory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
