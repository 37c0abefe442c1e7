// Package install manages the small block of agent-instruction text batty
// adds to a project's CLAUDE.md/AGENTS.md so each adapter's CLI knows a
// supervised run is in charge of prompts. It's marker-delimited so install
// and remove are idempotent: installing twice leaves one block, and
// install -> remove -> install reproduces the state of a single install.
package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Target selects which adapter families' instruction files get the block.
type Target string

const (
	TargetBoth   Target = "both"
	TargetClaude Target = "claude"
	TargetCodex  Target = "codex"
)

const (
	markerBegin = "<!-- batty:begin -->"
	markerEnd   = "<!-- batty:end -->"
)

// fileFor returns the instruction file name this target's adapter reads
// first, matching adapter.ClaudeAdapter/CodexAdapter's InstructionCandidates.
func fileFor(t Target) []string {
	switch t {
	case TargetClaude:
		return []string{"CLAUDE.md"}
	case TargetCodex:
		return []string{"AGENTS.md"}
	default:
		return []string{"CLAUDE.md", "AGENTS.md"}
	}
}

const blockBody = `A supervisor process (batty) is watching this session's terminal output
and will auto-answer or escalate routine prompts per its configured
policy. Work normally; don't assume a human is reading your prompts.`

func block() string {
	return markerBegin + "\n" + blockBody + "\n" + markerEnd + "\n"
}

// Install appends the batty instruction block to each of target's
// instruction files under dir, creating the file if it doesn't exist. A
// file that already contains the block is left untouched.
func Install(dir string, target Target) error {
	for _, name := range fileFor(target) {
		path := filepath.Join(dir, name)
		if err := installOne(path); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
	}
	return nil
}

func installOne(path string) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		existing = nil
	}
	content := string(existing)
	if strings.Contains(content, markerBegin) {
		return nil
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if content != "" {
		content += "\n"
	}
	content += block()
	return os.WriteFile(path, []byte(content), 0o644)
}

// Remove deletes the batty instruction block from each of target's
// instruction files under dir. Files without a block, or that don't
// exist, are left alone.
func Remove(dir string, target Target) error {
	for _, name := range fileFor(target) {
		path := filepath.Join(dir, name)
		if err := removeOne(path); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func removeOne(path string) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	content := string(existing)
	start := strings.Index(content, markerBegin)
	if start < 0 {
		return nil
	}
	end := strings.Index(content, markerEnd)
	if end < 0 {
		return nil
	}
	end += len(markerEnd)
	if end < len(content) && content[end] == '\n' {
		end++
	}
	before := strings.TrimRight(content[:start], "\n")
	after := content[end:]
	next := before
	if before != "" && after != "" {
		next += "\n\n"
	}
	next += after
	if strings.TrimSpace(next) == "" {
		return os.Remove(path)
	}
	return os.WriteFile(path, []byte(next), 0o644)
}
