// Package adapter implements the Agent Adapter registry: one adapter per
// supported coding-agent CLI family (Claude Code, Codex, Aider), each
// knowing how to build a spawn command and which prompt patterns to watch
// for.
package adapter

import (
	"fmt"

	"github.com/battysh/batty/internal/prompt"
)

// Mode distinguishes an agent's print (non-interactive, one-shot) mode
// from its interactive REPL mode.
type Mode string

const (
	ModePrint       Mode = "print"
	ModeInteractive Mode = "interactive"
)

// SpawnConfig describes how to launch an agent CLI inside a tmux pane.
type SpawnConfig struct {
	// Command is the executable name.
	Command string
	// Args are the full argument list, including the dangerous-mode flag
	// if one was prepended.
	Args []string
	// Env holds extra environment variables to set for the spawned process.
	Env map[string]string
}

// Adapter is implemented by each supported agent family.
type Adapter interface {
	// Name returns the adapter's registry key ("claude", "codex", "aider").
	Name() string
	// SpawnConfig builds the command line to launch the agent against the
	// given task prompt, in the given mode, with dangerousMode controlling
	// whether the family's approval-skipping flag is included.
	SpawnConfig(taskPrompt string, mode Mode, dangerousMode bool) SpawnConfig
	// PromptPatterns returns the compiled patterns used to recognize this
	// agent's waiting-for-input prompts.
	PromptPatterns() prompt.PatternSet
	// FormatInput formats a policy decision's answer text the way this
	// agent's CLI expects it typed (e.g. appending Enter semantics is left
	// to the multiplexer driver; this only shapes the text itself).
	FormatInput(answer string) string
	// InstructionCandidates returns this family's project instruction-file
	// names, in priority order, relative to the project root. The Run
	// Coordinator includes the highest-priority candidate that exists and
	// hard-errors if none do.
	InstructionCandidates() []string
}

// dangerousFlag maps each adapter family to the CLI flag that skips
// interactive approval prompts.
var dangerousFlag = map[string]string{
	"claude": "--dangerously-skip-permissions",
	"codex":  "--full-auto",
	"aider":  "--yes-always",
}

// ClaudeAdapter drives the Claude Code CLI.
type ClaudeAdapter struct{}

func (ClaudeAdapter) Name() string { return "claude" }

func (ClaudeAdapter) SpawnConfig(taskPrompt string, mode Mode, dangerousMode bool) SpawnConfig {
	var args []string
	if dangerousMode {
		args = append(args, dangerousFlag["claude"])
	}
	switch mode {
	case ModePrint:
		args = append(args, "-p", "--output-format", "stream-json", taskPrompt)
	default:
		args = append(args, "--prompt", taskPrompt)
	}
	return SpawnConfig{Command: "claude", Args: args}
}

func (ClaudeAdapter) PromptPatterns() prompt.PatternSet { return prompt.ClaudeCode() }

func (ClaudeAdapter) FormatInput(answer string) string { return answer }

func (ClaudeAdapter) InstructionCandidates() []string { return []string{"CLAUDE.md", "AGENTS.md"} }

// CodexAdapter drives the Codex CLI.
type CodexAdapter struct{}

func (CodexAdapter) Name() string { return "codex" }

func (CodexAdapter) SpawnConfig(taskPrompt string, mode Mode, dangerousMode bool) SpawnConfig {
	var args []string
	if dangerousMode {
		args = append(args, dangerousFlag["codex"])
	}
	switch mode {
	case ModePrint:
		args = append(args, "exec", taskPrompt)
	default:
		args = append(args, taskPrompt)
	}
	return SpawnConfig{Command: "codex", Args: args}
}

func (CodexAdapter) PromptPatterns() prompt.PatternSet { return prompt.Codex() }

func (CodexAdapter) FormatInput(answer string) string { return answer }

func (CodexAdapter) InstructionCandidates() []string { return []string{"AGENTS.md", "CODEX.md"} }

// AiderAdapter drives the Aider CLI.
type AiderAdapter struct{}

func (AiderAdapter) Name() string { return "aider" }

func (AiderAdapter) SpawnConfig(taskPrompt string, mode Mode, dangerousMode bool) SpawnConfig {
	var args []string
	if dangerousMode {
		args = append(args, dangerousFlag["aider"])
	}
	args = append(args, "--message", taskPrompt)
	return SpawnConfig{Command: "aider", Args: args}
}

func (AiderAdapter) PromptPatterns() prompt.PatternSet { return prompt.Aider() }

func (AiderAdapter) FormatInput(answer string) string { return answer }

func (AiderAdapter) InstructionCandidates() []string { return []string{"AGENTS.md", "CONVENTIONS.md"} }

// FromName resolves an adapter by its registry key.
func FromName(name string) (Adapter, error) {
	switch name {
	case "claude":
		return ClaudeAdapter{}, nil
	case "codex":
		return CodexAdapter{}, nil
	case "aider":
		return AiderAdapter{}, nil
	default:
		return nil, fmt.Errorf("adapter: unknown agent family %q", name)
	}
}
