package coordinator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/battysh/batty/internal/adapter"
	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/logging"
	"github.com/battysh/batty/internal/policy"
	"github.com/battysh/batty/internal/tier2"
	"github.com/battysh/batty/internal/tmux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id, title string, status dag.Status, deps []string) *board.Task {
	return &board.Task{
		Frontmatter: board.Frontmatter{ID: id, Title: title, DependsOn: deps},
		Status:      status,
	}
}

func TestRenderBoardSnapshotCountsAndDeps(t *testing.T) {
	tasks := []*board.Task{
		task("1", "scaffolding", dag.StatusCompleted, nil),
		task("2", "CI setup", dag.StatusCompleted, []string{"1"}),
		task("3", "task reader", dag.StatusBacklog, []string{"1"}),
		task("4", "prompt detection", dag.StatusInProgress, nil),
	}

	s := renderBoardSnapshot(tasks)

	assert.Contains(t, s, "1 backlog")
	assert.Contains(t, s, "1 in-progress")
	assert.Contains(t, s, "2 done")
	assert.Contains(t, s, "4 total")
	assert.Contains(t, s, "#3 [backlog]: task reader (depends on: #1)")
}

func newFixtureProject(t *testing.T) (projectRoot, phaseDir string) {
	t.Helper()
	projectRoot = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "CLAUDE.md"), []byte("be careful"), 0o644))
	phaseDir = filepath.Join(projectRoot, ".batty", "board", "phase-1")
	require.NoError(t, os.MkdirAll(phaseDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(phaseDir, "PHASE.md"), []byte("phase goal"), 0o644))
	return projectRoot, phaseDir
}

func TestComposeLaunchContextIncludesAllSections(t *testing.T) {
	projectRoot, phaseDir := newFixtureProject(t)
	cfg := Config{
		Phase:         "phase-1",
		PhaseDir:      phaseDir,
		ProjectRoot:   projectRoot,
		Adapter:       adapter.ClaudeAdapter{},
		Policy:        policy.New(policy.TierAct, map[string]string{"Continue? [y/n]": "y"}),
		ClaimIdentity: "agent-1",
		ClaimSource:   "single-agent",
	}
	tasks := []*board.Task{task("1", "first task", dag.StatusBacklog, nil)}

	lc, err := composeLaunchContext(cfg, tasks)
	require.NoError(t, err)

	assert.Contains(t, lc.Text, "be careful")
	assert.Contains(t, lc.Text, "phase goal")
	assert.Contains(t, lc.Text, "Active tier: act")
	assert.Contains(t, lc.Text, "Continue? [y/n]")
	assert.Contains(t, lc.Text, `"agent-1" (source: single-agent)`)
	assert.NotContains(t, lc.Text, "## Rework")
	assert.Len(t, lc.Sources, 2)
	assert.Len(t, lc.Hashes, 2)
}

func TestComposeLaunchContextIncludesReworkOnRetry(t *testing.T) {
	projectRoot, phaseDir := newFixtureProject(t)
	cfg := Config{
		Phase:          "phase-1",
		PhaseDir:       phaseDir,
		ProjectRoot:    projectRoot,
		Adapter:        adapter.ClaudeAdapter{},
		Attempt:        2,
		ReworkFeedback: "tests were missing",
	}

	lc, err := composeLaunchContext(cfg, nil)
	require.NoError(t, err)

	assert.Contains(t, lc.Text, "## Rework")
	assert.Contains(t, lc.Text, "tests were missing")
}

func TestComposeLaunchContextFailsWithoutInstructionFile(t *testing.T) {
	projectRoot := t.TempDir()
	phaseDir := filepath.Join(projectRoot, ".batty", "board", "phase-1")
	require.NoError(t, os.MkdirAll(phaseDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(phaseDir, "PHASE.md"), []byte("goal"), 0o644))

	cfg := Config{Phase: "phase-1", PhaseDir: phaseDir, ProjectRoot: projectRoot, Adapter: adapter.ClaudeAdapter{}}
	_, err := composeLaunchContext(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLAUDE.md")
}

func TestComposeLaunchContextFailsWithoutPhaseDocument(t *testing.T) {
	projectRoot, phaseDir := newFixtureProject(t)
	require.NoError(t, os.Remove(filepath.Join(phaseDir, "PHASE.md")))

	cfg := Config{Phase: "phase-1", PhaseDir: phaseDir, ProjectRoot: projectRoot, Adapter: adapter.ClaudeAdapter{}}
	_, err := composeLaunchContext(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PHASE.md")
}

func TestApplyHotkeyActionPauseThenResume(t *testing.T) {
	c := &Coordinator{cfg: Config{Phase: "phase-1", Session: "batty-test", Log: logging.NopLogger()}}
	status := tmux.NewStatusWriter("", "batty-test", 5)

	paused := c.applyHotkeyAction(status, hotkeyActionPause, false)
	assert.True(t, paused)

	// Repeated pause while already paused is a no-op: still paused.
	paused = c.applyHotkeyAction(status, hotkeyActionPause, paused)
	assert.True(t, paused)

	paused = c.applyHotkeyAction(status, hotkeyActionResume, paused)
	assert.False(t, paused)

	// Repeated resume while already working is a no-op: still working.
	paused = c.applyHotkeyAction(status, hotkeyActionResume, paused)
	assert.False(t, paused)
}

func TestTier2AnswerTooLongDefaultCap(t *testing.T) {
	c := &Coordinator{cfg: Config{}}
	assert.False(t, c.tier2AnswerTooLong(strings.Repeat("a", 120)))
	assert.True(t, c.tier2AnswerTooLong(strings.Repeat("a", 121)))
}

func TestTier2AnswerTooLongConfiguredCap(t *testing.T) {
	c := &Coordinator{cfg: Config{Tier2MaxAnswerLength: 5}}
	assert.False(t, c.tier2AnswerTooLong("abcde"))
	assert.True(t, c.tier2AnswerTooLong("abcdef"))
}

func TestTier2InjectableOutsideFullyAutoIgnoresConfidence(t *testing.T) {
	c := &Coordinator{cfg: Config{Policy: policy.New(policy.TierAct, nil)}}
	assert.True(t, c.tier2Injectable(tier2.Result{Confidence: nil}))
}

func TestReadAndClearSentinelDrainsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotkey.sentinel")
	require.NoError(t, os.WriteFile(path, []byte("pause\n"), 0o644))

	read := readAndClearSentinel(path)
	content, err := read()
	require.NoError(t, err)
	assert.Equal(t, "pause\n", content)

	content, err = read()
	require.NoError(t, err)
	assert.Empty(t, content)
}
