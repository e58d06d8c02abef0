package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeedFromFiles_MissingFilesAreNotAnError(t *testing.T) {
	dir := t.TempDir()
	seed, err := LoadSeedFromFiles(filepath.Join(dir, "world.md"), filepath.Join(dir, "entries.csv"))
	require.NoError(t, err)
	assert.Empty(t, seed.WorldContext)
	assert.Empty(t, seed.Entries)
}

func TestLoadSeedFromFiles_ParsesWorldAndCSVWithDataHeader(t *testing.T) {
	dir := t.TempDir()
	worldPath := filepath.Join(dir, "world.md")
	require.NoError(t, os.WriteFile(worldPath, []byte("the crawler rolls on"), 0o644))

	entriesPath := filepath.Join(dir, "entries.csv")
	require.NoError(t, os.WriteFile(entriesPath, []byte("subject,data\ncaptain,the player's commanding officer\n"), 0o644))

	seed, err := LoadSeedFromFiles(worldPath, entriesPath)
	require.NoError(t, err)
	assert.Equal(t, "the crawler rolls on", seed.WorldContext)
	require.Len(t, seed.Entries, 1)
	assert.Equal(t, "captain", seed.Entries[0].Subject)
	assert.Equal(t, "the player's commanding officer", seed.Entries[0].Data)
}

func TestLoadSeedFromFiles_AcceptsDescriptionOrEntryHeader(t *testing.T) {
	dir := t.TempDir()
	entriesPath := filepath.Join(dir, "entries.csv")
	require.NoError(t, os.WriteFile(entriesPath, []byte("subject,description\nanchor.dune,a tall dune visible for miles\n"), 0o644))

	seed, err := LoadSeedFromFiles(filepath.Join(dir, "world.md"), entriesPath)
	require.NoError(t, err)
	require.Len(t, seed.Entries, 1)
	assert.Equal(t, "a tall dune visible for miles", seed.Entries[0].Data)
}

func TestLoadSeedFromFiles_MissingColumnsIsAnError(t *testing.T) {
	dir := t.TempDir()
	entriesPath := filepath.Join(dir, "entries.csv")
	require.NoError(t, os.WriteFile(entriesPath, []byte("foo,bar\n1,2\n"), 0o644))

	_, err := LoadSeedFromFiles(filepath.Join(dir, "world.md"), entriesPath)
	assert.Error(t, err)
}
