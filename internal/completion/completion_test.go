package completion

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/dag"
)

func milestoneTask(done bool) *board.Task {
	status := dag.StatusInProgress
	if done {
		status = dag.StatusCompleted
	}
	return &board.Task{
		Frontmatter: board.Frontmatter{ID: "1", Title: "ship it", Tags: []string{board.MilestoneTag}},
		Status:      status,
	}
}

func setupPhase(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(PhaseSummaryCandidates(root)[0], []byte("summary"), 0o644))
	return root
}

func TestEvaluateAllGatesPass(t *testing.T) {
	root := setupPhase(t)
	report, err := Evaluate(Inputs{
		PhaseRoot:              root,
		Tasks:                  []*board.Task{milestoneTask(true)},
		PhaseSummaryCandidates: PhaseSummaryCandidates(root),
		AllTasksComplete:       true,
	})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.True(t, report.Results[GateDoD])
}

func TestEvaluateFailsWithoutMilestone(t *testing.T) {
	root := t.TempDir()
	report, err := Evaluate(Inputs{
		PhaseRoot:              root,
		PhaseSummaryCandidates: PhaseSummaryCandidates(root),
		AllTasksComplete:       true,
	})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Contains(t, report.Reason, ErrNoMilestoneTask)
}

func TestEvaluateSkipsDoDWhenOtherGatesFail(t *testing.T) {
	root := t.TempDir()
	called := false
	report, err := Evaluate(Inputs{
		PhaseRoot:              root,
		PhaseSummaryCandidates: PhaseSummaryCandidates(root),
		AllTasksComplete:       false,
		DoDCommand:             "make test",
		RunDoD: func() error {
			called = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.False(t, called, "DoD must not run when other gates fail")
	assert.False(t, report.DoDExecuted)
	assert.Equal(t, "make test", report.DoDCommand)
}

func TestEvaluateDoDFailure(t *testing.T) {
	root := setupPhase(t)
	report, err := Evaluate(Inputs{
		PhaseRoot:              root,
		Tasks:                  []*board.Task{milestoneTask(true)},
		PhaseSummaryCandidates: PhaseSummaryCandidates(root),
		AllTasksComplete:       true,
		DoDCommand:             "make test",
		RunDoD: func() error {
			return errors.New("tests failed")
		},
	})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Contains(t, report.Reason, "definition of done failed")
	assert.True(t, report.DoDExecuted)
	assert.Equal(t, "make test", report.DoDCommand)
}

func TestEvaluateDoDPasses(t *testing.T) {
	root := setupPhase(t)
	report, err := Evaluate(Inputs{
		PhaseRoot:              root,
		Tasks:                  []*board.Task{milestoneTask(true)},
		PhaseSummaryCandidates: PhaseSummaryCandidates(root),
		AllTasksComplete:       true,
		DoDCommand:             "make test",
		RunDoD: func() error {
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.True(t, report.DoDExecuted)
	assert.Equal(t, "make test", report.DoDCommand)
}

func TestEvaluateNoDoDConfigured(t *testing.T) {
	root := setupPhase(t)
	report, err := Evaluate(Inputs{
		PhaseRoot:              root,
		Tasks:                  []*board.Task{milestoneTask(true)},
		PhaseSummaryCandidates: PhaseSummaryCandidates(root),
		AllTasksComplete:       true,
	})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.False(t, report.DoDExecuted)
	assert.Equal(t, NoDoDCommand, report.DoDCommand)
}

func TestEvaluateExecutorStabilityError(t *testing.T) {
	root := setupPhase(t)
	_, err := Evaluate(Inputs{
		PhaseRoot:              root,
		Tasks:                  []*board.Task{milestoneTask(true)},
		PhaseSummaryCandidates: PhaseSummaryCandidates(root),
		AllTasksComplete:       true,
		ExecutorStableFunc: func() (bool, error) {
			return false, errors.New("probe failed")
		},
	})
	assert.Error(t, err)
}
