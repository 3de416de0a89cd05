// Package testutil provides shared test helpers for input trees and output dirs.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/assetforge/internal/storage"
)

// Logger returns a logger that only reports errors, to keep test output quiet.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Tree creates a temporary input directory populated with files (relative
// path → content) and returns its absolute path. A key ending in "/" creates
// an empty directory.
func Tree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "in")
	require.NoError(t, os.MkdirAll(root, 0o755))
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
	return root
}

// WriteFile writes content at root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if rel[len(rel)-1] == '/' {
		require.NoError(t, os.MkdirAll(p, 0o755))
		return p
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// Output creates a temporary output directory with a storage provider.
func Output(t *testing.T) *storage.FS {
	t.Helper()
	store, err := storage.NewFS(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	return store
}
