// Package prompt implements the Prompt Detector's pattern side: compiled
// regular expressions per agent family that recognize an agent CLI's
// waiting-for-input prompts, plus ANSI stripping so patterns match against
// clean text.
package prompt

import "regexp"

// Kind classifies what an agent is asking for, so the Policy Engine can
// choose an appropriate response shape.
type Kind string

const (
	// KindYesNo is a binary confirmation prompt ("Proceed? (y/n)").
	KindYesNo Kind = "yes_no"
	// KindChoice is a numbered/lettered menu selection.
	KindChoice Kind = "choice"
	// KindFreeText is an open-ended text request.
	KindFreeText Kind = "free_text"
	// KindPermission is a tool/file access approval prompt.
	KindPermission Kind = "permission"
	// KindEnterToContinue is a prompt that only needs an empty line (Enter)
	// to dismiss, not a word or character.
	KindEnterToContinue Kind = "enter_to_continue"
	// KindIdleUnknown is the Prompt Detector's own idle-input-cursor
	// fallback: the pane has gone silent on a line that looks like a bare
	// input cursor but matches no known pattern.
	KindIdleUnknown Kind = "idle_unknown"
	// KindUnknown means a line matched a "waiting" heuristic but no
	// specific pattern.
	KindUnknown Kind = "unknown"
)

// Pattern pairs a compiled regex with the Kind it identifies.
type Pattern struct {
	Kind  Kind
	Regex *regexp.Regexp
}

// PatternSet is the ordered list of prompt patterns for one agent family.
// Patterns are tried in order; the first match wins.
type PatternSet []Pattern

// ansiRegex strips ANSI escape sequences (CSI, OSC) before matching.
var ansiRegex = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-Z\\-_])`)

// enterToContinueRe matches the family of "press enter to continue"
// prompts that need nothing but an empty line (Enter) to dismiss.
var enterToContinueRe = regexp.MustCompile(`(?i)press (enter|return)( key)?( now)? to continue|\(enter to continue\)|press \[enter\]`)

// idleCursorRegex matches a bare shell/tool input cursor with nothing
// typed, the Prompt Detector's own idle-input fallback pattern (not tied
// to any agent family's pattern set).
var idleCursorRegex = regexp.MustCompile(`^[$#>%❯]\s*$`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// Match returns the first pattern in the set that matches the given
// (already ANSI-stripped) line, and ok=false if none match.
func (ps PatternSet) Match(line string) (Pattern, bool) {
	for _, p := range ps {
		if p.Regex.MatchString(line) {
			return p, true
		}
	}
	return Pattern{}, false
}

// ClaudeCode returns the prompt pattern set for Claude Code's interactive
// and print-mode CLI output.
func ClaudeCode() PatternSet {
	return PatternSet{
		{KindPermission, regexp.MustCompile(`(?i)do you want to (proceed|allow|make this edit)`)},
		{KindYesNo, regexp.MustCompile(`(?i)\(y/n\)\s*$`)},
		{KindChoice, regexp.MustCompile(`(?i)❯\s*\d+\.\s`)},
		{KindEnterToContinue, enterToContinueRe},
		{KindFreeText, regexp.MustCompile(`(?i)^\s*>\s*$`)},
	}
}

// Codex returns the prompt pattern set for the Codex CLI.
func Codex() PatternSet {
	return PatternSet{
		{KindPermission, regexp.MustCompile(`(?i)allow (this )?command`)},
		{KindYesNo, regexp.MustCompile(`(?i)\[y/n\]\s*$`)},
		{KindChoice, regexp.MustCompile(`(?i)^\s*\d+\)\s`)},
		{KindEnterToContinue, enterToContinueRe},
		{KindFreeText, regexp.MustCompile(`(?i)^\s*codex>\s*$`)},
	}
}

// Aider returns the prompt pattern set for Aider's prompt_toolkit-based
// line editor.
func Aider() PatternSet {
	return PatternSet{
		{KindYesNo, regexp.MustCompile(`(?i)\(y\)es/\(n\)o/\(a\)ll/\(s\)kip`)},
		{KindPermission, regexp.MustCompile(`(?i)apply edit to`)},
		{KindEnterToContinue, enterToContinueRe},
		{KindFreeText, regexp.MustCompile(`(?i)^\s*>\s*$`)},
	}
}

// ForAgent returns the pattern set registered for the given agent family
// name ("claude", "codex", "aider"). Returns nil, false if unknown.
func ForAgent(name string) (PatternSet, bool) {
	switch name {
	case "claude":
		return ClaudeCode(), true
	case "codex":
		return Codex(), true
	case "aider":
		return Aider(), true
	default:
		return nil, false
	}
}
