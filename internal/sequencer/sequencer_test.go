package sequencer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTask(t *testing.T, dir string, id int, title string) {
	t.Helper()
	content := "---\nid: " + itoa(id) + "\ntitle: " + title + "\n---\n\nTask " + itoa(id) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, itoa(id)+"-"+title+".md"), []byte(content), 0o644))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// setupPhase creates a phase directory with one task per statusDir entry.
func setupPhase(t *testing.T, projectRoot, phase string, statusDirs []string) {
	t.Helper()
	for i, statusDir := range statusDirs {
		dir := filepath.Join(projectRoot, ".batty", "board", phase, statusDir)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		writeTask(t, dir, i+1, "task")
	}
}

func TestParsePhaseOrderAcceptsNumericFormats(t *testing.T) {
	key, ok := ParsePhaseOrder("phase-1")
	require.True(t, ok)
	assert.Equal(t, []int{1}, key)

	key, ok = ParsePhaseOrder("phase-2.5")
	require.True(t, ok)
	assert.Equal(t, []int{2, 5}, key)

	key, ok = ParsePhaseOrder("phase-10.2.3")
	require.True(t, ok)
	assert.Equal(t, []int{10, 2, 3}, key)
}

func TestParsePhaseOrderRejectsNonNumericFormats(t *testing.T) {
	for _, phase := range []string{"phase-", "phase-3b", "phase-a", "docs-update"} {
		_, ok := ParsePhaseOrder(phase)
		assert.False(t, ok, phase)
	}
}

func TestDiscoverPhasesSortsAndSkipsCompleted(t *testing.T) {
	root := t.TempDir()
	setupPhase(t, root, "phase-2.10", []string{"backlog"})
	setupPhase(t, root, "phase-1", []string{"completed"})
	setupPhase(t, root, "phase-2", []string{"backlog"})
	setupPhase(t, root, "phase-2.4", []string{"in_progress"})
	setupPhase(t, root, "phase-3", []string{"todo"})
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".batty", "board", "phase-3b"), 0o755))

	disc, err := DiscoverPhases(root)
	require.NoError(t, err)

	var names []string
	for _, c := range disc.Selected {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"phase-2", "phase-2.4", "phase-2.10", "phase-3"}, names)

	for _, d := range disc.Decisions {
		if d.Phase == "phase-1" {
			assert.False(t, d.Selected)
			assert.Contains(t, d.Reason, "already complete")
		}
	}
}

func TestShouldContinueAfterPhaseStopPolicyIsFailFast(t *testing.T) {
	assert.True(t, ShouldContinueAfterPhase(PhaseMerged, StopOnFailure))
	assert.False(t, ShouldContinueAfterPhase(PhaseFailed, StopOnFailure))
	assert.False(t, ShouldContinueAfterPhase(PhaseEscalated, StopOnFailure))
}

func TestShouldContinueAfterPhaseContinuePolicyAllowsProgress(t *testing.T) {
	assert.True(t, ShouldContinueAfterPhase(PhaseMerged, ContinueOnFailure))
	assert.True(t, ShouldContinueAfterPhase(PhaseFailed, ContinueOnFailure))
	assert.True(t, ShouldContinueAfterPhase(PhaseEscalated, ContinueOnFailure))
}
