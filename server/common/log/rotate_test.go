package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileRotatesPastLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "halo.log")
	r := &rotatingFile{filePath: path, maxSizeBytes: 16}

	_, err := r.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	_, err = r.Write([]byte("abcdefghij\n"))
	require.NoError(t, err)
	require.NoError(t, r.Sync())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij\n", string(current))
}

func TestNextRotatedPathSkipsTakenNames(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	path := filepath.Join(dir, "halo.log")

	first, err := nextRotatedPath(path, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "halo_20260102_030405_1.log"), first)

	require.NoError(t, os.WriteFile(first, nil, 0o644))
	second, err := nextRotatedPath(path, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "halo_20260102_030405_2.log"), second)
}
