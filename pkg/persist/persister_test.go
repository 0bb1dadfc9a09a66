package persist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmd-tools/pacsflow/pkg/persist"
)

type cursor struct {
	RunID string `json:"run_id"`
	Done  int    `json:"done"`
}

func TestPersister_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := persist.NewPersister[cursor]("cursor", persist.NewJSONCodec())

	err := p.Save(dir, &cursor{RunID: "r1", Done: 7})
	require.NoError(t, err)

	got, err := p.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, &cursor{RunID: "r1", Done: 7}, got)
}

func TestPersister_SaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := persist.NewPersister[cursor]("cursor", persist.NewJSONCodec())

	require.NoError(t, p.Save(dir, &cursor{RunID: "r1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cursor.json", entries[0].Name())
}

func TestPersister_LoadMissingFileFails(t *testing.T) {
	t.Parallel()

	p := persist.NewPersister[cursor]("cursor", persist.NewJSONCodec())

	_, err := p.Load(t.TempDir())
	require.Error(t, err)
}

func TestPersister_Remove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := persist.NewPersister[cursor]("cursor", persist.NewJSONCodec())

	require.NoError(t, p.Save(dir, &cursor{}))
	require.NoError(t, p.Remove(dir))
	assert.NoFileExists(t, filepath.Join(dir, "cursor.json"))

	// Removing again is a no-op.
	require.NoError(t, p.Remove(dir))
}

func TestJSONCodec_PrettyPrints(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, persist.SaveState(dir, "cursor", persist.NewJSONCodec(), &cursor{RunID: "r1"}))

	data, err := os.ReadFile(filepath.Join(dir, "cursor.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"run_id\": \"r1\"")
}
