package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSI(t *testing.T) {
	in := "\x1b[31mhello\x1b[0m world"
	assert.Equal(t, "hello world", StripANSI(in))
}

func TestClaudeCodeMatchYesNo(t *testing.T) {
	ps := ClaudeCode()
	p, ok := ps.Match("Proceed? (y/n)")
	assert.True(t, ok)
	assert.Equal(t, KindYesNo, p.Kind)
}

func TestClaudeCodePermission(t *testing.T) {
	ps := ClaudeCode()
	p, ok := ps.Match("Do you want to proceed with this edit?")
	assert.True(t, ok)
	assert.Equal(t, KindPermission, p.Kind)
}

func TestCodexChoice(t *testing.T) {
	ps := Codex()
	p, ok := ps.Match("1) apply patch")
	assert.True(t, ok)
	assert.Equal(t, KindChoice, p.Kind)
}

func TestAiderYesNo(t *testing.T) {
	ps := Aider()
	p, ok := ps.Match("Apply edit? (y)es/(n)o/(a)ll/(s)kip")
	assert.True(t, ok)
	assert.Equal(t, KindYesNo, p.Kind)
}

func TestForAgentUnknown(t *testing.T) {
	_, ok := ForAgent("gpt5-cli")
	assert.False(t, ok)
}

func TestNoMatch(t *testing.T) {
	ps := ClaudeCode()
	_, ok := ps.Match("just some ordinary output line")
	assert.False(t, ok)
}

func TestClaudeCodeEnterToContinue(t *testing.T) {
	ps := ClaudeCode()
	p, ok := ps.Match("Press Enter to continue")
	assert.True(t, ok)
	assert.Equal(t, KindEnterToContinue, p.Kind)
}

func TestCodexEnterToContinue(t *testing.T) {
	ps := Codex()
	p, ok := ps.Match("press enter to continue")
	assert.True(t, ok)
	assert.Equal(t, KindEnterToContinue, p.Kind)
}
