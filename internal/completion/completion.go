// Package completion implements the Completion Contract: the deterministic
// set of gates a phase must pass before it is considered done — milestone
// existence, a phase summary, executor stability, all tasks complete, and
// (gated on the other four) the Definition of Done test command.
package completion

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/errors"
)

// ErrNoMilestoneTask is the Completion Contract's fixed failure message for
// gate 2 (spec §4.10 item 2): the board has no task tagged "milestone" that
// is done.
const ErrNoMilestoneTask = "no milestone task found (expected a task tagged 'milestone')"

// Gate identifies one of the five boolean checks in the Completion
// Contract.
type Gate string

const (
	GateMilestoneExists  Gate = "milestone_exists"
	GatePhaseSummary     Gate = "phase_summary"
	GateExecutorStable   Gate = "executor_stable"
	GateAllTasksComplete Gate = "all_tasks_complete"
	GateDoD              Gate = "definition_of_done"
)

// NoDoDCommand is the Completion Record's sentinel for "no DoD command was
// configured for this phase" (spec §3's scenario 6: `dod_command="(none)"`,
// `dod_executed=false`).
const NoDoDCommand = "(none)"

// Report is the Completion Contract's evaluation result: which gates
// passed, and whether the phase as a whole is complete.
type Report struct {
	Results map[Gate]bool
	Passed  bool
	Reason  string

	// DoDCommand is the Definition of Done command this report ran, or the
	// NoDoDCommand sentinel if none was configured.
	DoDCommand string
	// DoDExecuted reports whether DoDCommand was actually run. It is false
	// when no command was configured, and also false when the other gates
	// failed first and the DoD gate was short-circuited.
	DoDExecuted bool
}

// Inputs collects everything the Completion Contract needs to evaluate a
// phase, gathered by the Run Coordinator.
type Inputs struct {
	PhaseRoot              string
	Tasks                  []*board.Task // the phase's current board snapshot
	PhaseSummaryCandidates []string      // two candidate paths, checked in order
	AllTasksComplete       bool
	ExecutorStableFunc     func() (bool, error) // nil means "assume stable"

	// DoDCommand is the configured Definition of Done command, recorded on
	// the resulting Report regardless of whether it ends up running.
	DoDCommand string
	// RunDoD executes DoDCommand, nil means the DoD gate is skipped
	// (treated as passing) because no command was configured.
	RunDoD func() error
}

// Evaluate runs every gate in order, short-circuiting the DoD check if any
// of the other four gates failed, mirroring the reference implementation's
// "DoD only runs once everything else is green" sequencing.
func Evaluate(in Inputs) (*Report, error) {
	results := make(map[Gate]bool, 5)

	dodCommand := in.DoDCommand
	if dodCommand == "" {
		dodCommand = NoDoDCommand
	}

	results[GateMilestoneExists] = milestoneDone(in.Tasks)

	summaryPath := firstExisting(in.PhaseSummaryCandidates)
	results[GatePhaseSummary] = summaryPath != ""

	stable := true
	if in.ExecutorStableFunc != nil {
		var err error
		stable, err = in.ExecutorStableFunc()
		if err != nil {
			return nil, errors.NewCompletionError("Evaluate", "executor stability check failed", err)
		}
	}
	results[GateExecutorStable] = stable

	results[GateAllTasksComplete] = in.AllTasksComplete

	otherGatesPassed := results[GateMilestoneExists] && results[GatePhaseSummary] &&
		results[GateExecutorStable] && results[GateAllTasksComplete]

	if !otherGatesPassed {
		results[GateDoD] = false
		return &Report{
			Results:    results,
			Passed:     false,
			Reason:     firstFailureReason(results),
			DoDCommand: dodCommand,
		}, nil
	}

	if in.RunDoD == nil {
		results[GateDoD] = true
		return &Report{Results: results, Passed: true, DoDCommand: dodCommand}, nil
	}

	if err := in.RunDoD(); err != nil {
		results[GateDoD] = false
		return &Report{
			Results:     results,
			Passed:      false,
			Reason:      fmt.Sprintf("definition of done failed: %v", err),
			DoDCommand:  dodCommand,
			DoDExecuted: true,
		}, nil
	}

	results[GateDoD] = true
	return &Report{Results: results, Passed: true, DoDCommand: dodCommand, DoDExecuted: true}, nil
}

// milestoneDone reports whether at least one task tagged "milestone"
// exists on the board and is done (spec §4.10 item 2). This is a
// board/task-tag query, not a sentinel-file check.
func milestoneDone(tasks []*board.Task) bool {
	for _, t := range tasks {
		if t.HasTag(board.MilestoneTag) && t.Status == dag.StatusCompleted {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func firstExisting(candidates []string) string {
	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
	}
	return ""
}

func firstFailureReason(results map[Gate]bool) string {
	if !results[GateMilestoneExists] {
		return ErrNoMilestoneTask
	}
	order := []Gate{GatePhaseSummary, GateExecutorStable, GateAllTasksComplete}
	for _, g := range order {
		if !results[g] {
			return fmt.Sprintf("gate %q failed", g)
		}
	}
	return ""
}

// PhaseSummaryCandidates returns the two conventional locations for a
// phase's summary, checked in order (new layout, then legacy).
func PhaseSummaryCandidates(phaseRoot string) []string {
	return []string{
		filepath.Join(phaseRoot, "SUMMARY.md"),
		filepath.Join(phaseRoot, "summary.md"),
	}
}
