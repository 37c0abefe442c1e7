package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNameKnownAdapters(t *testing.T) {
	for _, name := range []string{"claude", "codex", "aider"} {
		a, err := FromName(name)
		require.NoError(t, err)
		assert.Equal(t, name, a.Name())
	}
}

func TestFromNameUnknown(t *testing.T) {
	_, err := FromName("gpt5-cli")
	assert.Error(t, err)
}

func TestClaudeSpawnConfigDangerousMode(t *testing.T) {
	a := ClaudeAdapter{}
	cfg := a.SpawnConfig("implement auth", ModePrint, true)
	assert.Equal(t, "claude", cfg.Command)
	assert.Contains(t, cfg.Args, "--dangerously-skip-permissions")
	assert.Contains(t, cfg.Args, "implement auth")
}

func TestCodexSpawnConfigInteractive(t *testing.T) {
	a := CodexAdapter{}
	cfg := a.SpawnConfig("fix bug", ModeInteractive, false)
	assert.NotContains(t, cfg.Args, "--full-auto")
	assert.Contains(t, cfg.Args, "fix bug")
}

func TestAiderSpawnConfig(t *testing.T) {
	a := AiderAdapter{}
	cfg := a.SpawnConfig("add test", ModeInteractive, true)
	assert.Contains(t, cfg.Args, "--yes-always")
	assert.Contains(t, cfg.Args, "--message")
}

func TestPromptPatternsNonEmpty(t *testing.T) {
	for _, a := range []Adapter{ClaudeAdapter{}, CodexAdapter{}, AiderAdapter{}} {
		assert.NotEmpty(t, a.PromptPatterns())
	}
}
