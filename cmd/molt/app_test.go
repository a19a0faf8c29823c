// # cmd/molt/app_test.go
package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molt/internal/config"
	"molt/internal/pipeline"
)

const legacyUnit = `import unittest


class TestMath(unittest.TestCase):
    def test_answer(self):
        self.assertEqual(1 + 41, 42)
`

const modernUnit = `import pytest


def test_answer():
    assert 1 + 41 == 42
`

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func TestDiscoverFiles(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"tests/test_math.py":      legacyUnit,
		"tests/util_test.py":      legacyUnit,
		"tests/helpers.py":        "def build():\n    pass\n",
		"tests/test_old.py.orig":  legacyUnit,
		".venv/test_ignored.py":   legacyUnit,
		"__pycache__/test_gen.py": legacyUnit,
		"src/readme.md":           "notes\n",
		"src/nested/test_deep.py": legacyUnit,
	})

	cfg := config.Default()
	cfg.Paths = []string{tmpDir}

	app, err := NewApp(cfg, false)
	require.NoError(t, err)
	defer app.Close()

	files, err := app.DiscoverFiles(cfg.Paths)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(tmpDir, f)
		require.NoError(t, err)
		rel = append(rel, r)
	}
	assert.Equal(t, []string{
		filepath.Join("src", "nested", "test_deep.py"),
		filepath.Join("tests", "test_math.py"),
		filepath.Join("tests", "util_test.py"),
	}, rel)
}

func TestDiscoverFilesDirectPath(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"checks.py": legacyUnit})

	cfg := config.Default()
	app, err := NewApp(cfg, false)
	require.NoError(t, err)
	defer app.Close()

	// A file named directly bypasses the include patterns.
	direct := filepath.Join(tmpDir, "checks.py")
	files, err := app.DiscoverFiles([]string{direct})
	require.NoError(t, err)
	assert.Equal(t, []string{direct}, files)
}

func TestRunOncePreviewDoesNotWrite(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"test_math.py": legacyUnit})

	cfg := config.Default()
	cfg.Paths = []string{tmpDir}

	app, err := NewApp(cfg, false)
	require.NoError(t, err)
	defer app.Close()

	files, err := app.DiscoverFiles(cfg.Paths)
	require.NoError(t, err)

	summary, err := app.RunOnce(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Files)
	assert.Equal(t, 1, summary.Complete)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Changed)

	// The source on disk is untouched and no backup appeared.
	data, err := os.ReadFile(filepath.Join(tmpDir, "test_math.py"))
	require.NoError(t, err)
	assert.Equal(t, legacyUnit, string(data))
	_, err = os.Stat(filepath.Join(tmpDir, "test_math.py.orig"))
	assert.True(t, os.IsNotExist(err))

	// No history store configured, no footer.
	assert.Empty(t, app.historyFooter())
}

func TestRunOnceWriteModeWithBackup(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"test_math.py": legacyUnit})

	cfg := config.Default()
	cfg.Paths = []string{tmpDir}
	cfg.History.Path = filepath.Join(tmpDir, "state", "history.db")

	app, err := NewApp(cfg, true)
	require.NoError(t, err)
	defer app.Close()

	files, err := app.DiscoverFiles(cfg.Paths)
	require.NoError(t, err)

	summary, err := app.RunOnce(context.Background(), files)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Complete)

	written, err := os.ReadFile(filepath.Join(tmpDir, "test_math.py"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "class TestMath:")
	assert.Contains(t, string(written), "assert 1 + 41 == 42")
	assert.NotContains(t, string(written), "unittest")

	backup, err := os.ReadFile(filepath.Join(tmpDir, "test_math.py.orig"))
	require.NoError(t, err)
	assert.Equal(t, legacyUnit, string(backup))

	// The run landed in the history store and feeds the summary footer.
	runs, err := app.store.RecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Files)
	assert.Equal(t, 1, runs[0].Complete)

	footer := app.historyFooter()
	assert.Contains(t, footer, "Recent runs:")
	assert.Contains(t, footer, "advanced tier")
	assert.Contains(t, footer, "1 files: 1 complete")
}

func TestRunOnceModernFileUnchanged(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"test_modern.py": modernUnit})

	cfg := config.Default()
	cfg.Paths = []string{tmpDir}

	app, err := NewApp(cfg, true)
	require.NoError(t, err)
	defer app.Close()

	files, err := app.DiscoverFiles(cfg.Paths)
	require.NoError(t, err)

	summary, err := app.RunOnce(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.False(t, summary.Results[0].Changed)

	// No backup is produced for an unchanged unit.
	_, err = os.Stat(filepath.Join(tmpDir, "test_modern.py.orig"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunOnceMalformedUnitFailsWithoutOutput(t *testing.T) {
	tmpDir := t.TempDir()
	broken := "def broken(:\n    pass\n"
	writeTree(t, tmpDir, map[string]string{"test_broken.py": broken})

	cfg := config.Default()
	cfg.Paths = []string{tmpDir}

	app, err := NewApp(cfg, true)
	require.NoError(t, err)
	defer app.Close()

	files, err := app.DiscoverFiles(cfg.Paths)
	require.NoError(t, err)

	summary, err := app.RunOnce(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, pipeline.StatusFailed, summary.Results[0].Result.Status)

	// Failed units are never written over.
	data, err := os.ReadFile(filepath.Join(tmpDir, "test_broken.py"))
	require.NoError(t, err)
	assert.Equal(t, broken, string(data))
}

func TestNewAppRejectsUnknownTier(t *testing.T) {
	cfg := config.Default()
	cfg.Tier = "aggressive"
	_, err := NewApp(cfg, false)
	require.Error(t, err)
}
