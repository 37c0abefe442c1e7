// Package namer derives deterministic, collision-resistant names for the
// tmux sessions, git branches, and worktree directories a run creates. Names
// are pure functions of run ID, phase, and (in parallel mode) agent slot, so
// two processes computing a name for the same inputs always agree without
// needing to coordinate.
package namer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// sessionPrefix namespaces every tmux session and branch batty creates, so
// `tmux list-sessions` and `git branch` output is easy to spot and to clean
// up in bulk.
const sessionPrefix = "batty"

var invalidNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// Sanitize lowercases s and replaces every run of characters unsafe for a
// tmux session name or git branch component with a single hyphen, trimming
// leading/trailing hyphens. It is exported so callers building their own
// composite names (e.g. a board phase directory) stay consistent with the
// names this package generates.
func Sanitize(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	cleaned := invalidNameChars.ReplaceAllString(lower, "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return "phase"
	}
	return cleaned
}

// SessionName returns the tmux session name for a phase's coordinator in
// single-agent mode: "batty-<runID>-<phase>".
func SessionName(runID, phase string) string {
	return fmt.Sprintf("%s-%s-%s", sessionPrefix, Sanitize(runID), Sanitize(phase))
}

// SlotSessionName returns the tmux session name for one parallel agent slot
// within a phase: "batty-<runID>-<phase>-<slot>".
func SlotSessionName(runID, phase string, slot int) string {
	return fmt.Sprintf("%s-%s-%s-%d", sessionPrefix, Sanitize(runID), Sanitize(phase), slot)
}

// BranchName returns the run branch for a phase worked by a single agent:
// "batty/<phase>".
func BranchName(phase string) string {
	return fmt.Sprintf("%s/%s", sessionPrefix, Sanitize(phase))
}

// SlotBranchName returns the run branch for one parallel agent slot within a
// phase: "batty/<phase>/<agent>".
func SlotBranchName(phase, agent string) string {
	return fmt.Sprintf("%s/%s/%s", sessionPrefix, Sanitize(phase), Sanitize(agent))
}

// WorktreeDirName returns the directory name (relative to the run's
// worktree root) for a phase's isolated working tree. Attempt numbers above
// one get a "-retry-N" suffix so a rework attempt provisions a fresh
// worktree instead of reusing one that may hold a failed agent's half-done
// changes.
func WorktreeDirName(phase string, attempt int) string {
	base := Sanitize(phase)
	if attempt <= 1 {
		return base
	}
	return base + "-retry-" + strconv.Itoa(attempt)
}
