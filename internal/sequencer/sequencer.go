// Package sequencer discovers runnable phase boards for "batty work all",
// orders them deterministically by numeric phase key, skips phases that
// are already complete, and decides whether a multi-phase run continues
// after a phase outcome.
package sequencer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/logging"
)

// Candidate is one phase selected for execution, in run order.
type Candidate struct {
	Name      string
	Directory string
	OrderKey  []int
}

// SelectionDecision records why a discovered phase was or wasn't selected,
// for audit logging.
type SelectionDecision struct {
	Phase    string
	OrderKey []int
	Selected bool
	Reason   string
}

// Discovery is the outcome of scanning a kanban root for runnable phases.
type Discovery struct {
	Selected  []Candidate
	Decisions []SelectionDecision
}

// FailurePolicy governs whether a multi-phase run continues after a phase
// fails or escalates.
type FailurePolicy int

const (
	StopOnFailure FailurePolicy = iota
	ContinueOnFailure
)

// RunOutcome is the terminal state of one phase's execution.
type RunOutcome int

const (
	PhaseMerged RunOutcome = iota
	PhaseFailed
	PhaseEscalated
)

type parsedEntry struct {
	name      string
	directory string
	orderKey  []int
}

// DiscoverPhases scans projectRoot's kanban root for phase-<numeric>[.<numeric>...]
// directories, sorts them by numeric phase order (name as tie-breaker), and
// skips any phase that has tasks and whose every task is done. The board has
// no archived status, so every task file counts; a phase with no tasks is
// not skipped.
func DiscoverPhases(projectRoot string) (*Discovery, error) {
	kanbanRoot := board.ResolveKanbanRoot(projectRoot)

	entries, err := os.ReadDir(kanbanRoot)
	if err != nil {
		return nil, fmt.Errorf("sequencer: read kanban root %s: %w", kanbanRoot, err)
	}

	var parsed []parsedEntry
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		orderKey, ok := ParsePhaseOrder(entry.Name())
		if !ok {
			continue
		}
		parsed = append(parsed, parsedEntry{
			name:      entry.Name(),
			directory: filepath.Join(kanbanRoot, entry.Name()),
			orderKey:  orderKey,
		})
	}

	sort.Slice(parsed, func(i, j int) bool {
		cmp := compareOrderKeys(parsed[i].orderKey, parsed[j].orderKey)
		if cmp != 0 {
			return cmp < 0
		}
		return parsed[i].name < parsed[j].name
	})

	disc := &Discovery{}
	for _, phase := range parsed {
		complete, err := phaseIsComplete(phase.directory)
		if err != nil {
			return nil, fmt.Errorf("sequencer: determine completion for phase %s: %w", phase.name, err)
		}

		if complete {
			disc.Decisions = append(disc.Decisions, SelectionDecision{
				Phase:    phase.name,
				OrderKey: phase.orderKey,
				Selected: false,
				Reason:   "phase already complete (all active tasks are done)",
			})
			continue
		}

		disc.Decisions = append(disc.Decisions, SelectionDecision{
			Phase:    phase.name,
			OrderKey: phase.orderKey,
			Selected: true,
			Reason:   "phase selected for execution",
		})
		disc.Selected = append(disc.Selected, Candidate{
			Name:      phase.name,
			Directory: phase.directory,
			OrderKey:  phase.orderKey,
		})
	}

	return disc, nil
}

// ParsePhaseOrder parses a phase directory name into sortable numeric
// segments, e.g. "phase-2.5" -> [2, 5]. It returns ok=false for names that
// don't match "phase-<numeric>[.<numeric>...]".
func ParsePhaseOrder(phase string) (key []int, ok bool) {
	suffix, found := strings.CutPrefix(phase, "phase-")
	if !found || suffix == "" {
		return nil, false
	}

	var segments []int
	for _, piece := range strings.Split(suffix, ".") {
		if piece == "" {
			return nil, false
		}
		for _, c := range piece {
			if c < '0' || c > '9' {
				return nil, false
			}
		}
		value, err := strconv.Atoi(piece)
		if err != nil {
			return nil, false
		}
		segments = append(segments, value)
	}

	return segments, true
}

func compareOrderKeys(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] - b[i]
		}
	}
	return len(a) - len(b)
}

func phaseIsComplete(phaseDir string) (bool, error) {
	tasks, _, err := board.LoadTasksFromDir(phaseDir)
	if err != nil {
		return false, fmt.Errorf("sequencer: load tasks from %s: %w", phaseDir, err)
	}

	if len(tasks) == 0 {
		return false, nil
	}
	for _, t := range tasks {
		if t.Status != dag.StatusCompleted {
			return false, nil
		}
	}

	return true, nil
}

// ShouldContinueAfterPhase decides whether a multi-phase run continues
// after outcome, given policy. Default behavior is fail-fast: a merged
// phase always continues, a failed or escalated phase only continues
// under ContinueOnFailure.
func ShouldContinueAfterPhase(outcome RunOutcome, policy FailurePolicy) bool {
	switch outcome {
	case PhaseMerged:
		return true
	case PhaseFailed, PhaseEscalated:
		return policy == ContinueOnFailure
	default:
		return false
	}
}

// LogSelectionDecisions writes every phase-selection decision to logger for
// audit purposes.
func LogSelectionDecisions(logger *logging.Logger, decisions []SelectionDecision) {
	for _, d := range decisions {
		logger.Info("phase_selection_decision",
			"phase", d.Phase,
			"order_key", formatOrderKey(d.OrderKey),
			"selected", d.Selected,
			"reason", d.Reason,
		)
	}
}

func formatOrderKey(key []int) string {
	parts := make([]string, len(key))
	for i, v := range key {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}
