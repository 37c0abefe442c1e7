package execlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "exec.jsonl")

	w, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, w.Write(Event{Kind: EventRunStarted, RunID: "run-1"}))
	require.NoError(t, w.Write(Event{Kind: EventPhaseStarted, RunID: "run-1", Phase: "01-setup"}))
	require.NoError(t, w.Close())

	events, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventRunStarted, events[0].Kind)
	assert.Equal(t, "01-setup", events[1].Phase)
	assert.False(t, events[0].Time.IsZero())
}

func TestReadAllMissingFile(t *testing.T) {
	_, err := ReadAll(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
