package tier2

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveNoCommandConfigured(t *testing.T) {
	d := New(Config{})
	r := d.Resolve(context.Background(), "proceed?", "yes_no", "", "")
	assert.Equal(t, OutcomeFailed, r.Outcome)
	assert.Error(t, r.Err)
}

func TestResolveAnswer(t *testing.T) {
	d := New(Config{Command: "echo yes", Timeout: 2 * time.Second})
	r := d.Resolve(context.Background(), "proceed?", "yes_no", "", "")
	assert.Equal(t, OutcomeAnswer, r.Outcome)
	assert.Equal(t, "yes", r.Answer)
}

func TestResolveEscalatePrefix(t *testing.T) {
	d := New(Config{Command: "echo 'ESCALATE: ambiguous migration target'", Timeout: 2 * time.Second})
	r := d.Resolve(context.Background(), "proceed?", "yes_no", "", "")
	assert.Equal(t, OutcomeEscalate, r.Outcome)
	assert.Equal(t, "ambiguous migration target", r.Reason)
}

func TestResolveFailingCommand(t *testing.T) {
	d := New(Config{Command: "exit 1", Timeout: 2 * time.Second, MaxRetries: 0})
	r := d.Resolve(context.Background(), "proceed?", "yes_no", "", "")
	assert.Equal(t, OutcomeFailed, r.Outcome)
}

func TestResolveParsesConfidenceLine(t *testing.T) {
	d := New(Config{Command: "printf 'yes\\nCONFIDENCE: 0.9\\n'", Timeout: 2 * time.Second})
	r := d.Resolve(context.Background(), "proceed?", "yes_no", "", "")
	assert.Equal(t, OutcomeAnswer, r.Outcome)
	assert.Equal(t, "yes", r.Answer)
	if assert.NotNil(t, r.Confidence) {
		assert.Equal(t, 0.9, *r.Confidence)
	}
}

func TestParseAnswerWithoutConfidence(t *testing.T) {
	text, confidence, multiline := parseAnswer("yes")
	assert.Equal(t, "yes", text)
	assert.Nil(t, confidence)
	assert.False(t, multiline)
}

func TestParseAnswerMultilineRejected(t *testing.T) {
	text, _, multiline := parseAnswer("first line\nsecond line")
	assert.True(t, multiline)
	assert.Equal(t, "", text)
}

func TestResolveEscalatesMultilineAnswer(t *testing.T) {
	d := New(Config{Command: "printf 'first line\\nsecond line\\n'", Timeout: 2 * time.Second})
	r := d.Resolve(context.Background(), "proceed?", "yes_no", "", "")
	assert.Equal(t, OutcomeEscalate, r.Outcome)
	assert.Contains(t, r.Reason, "multiple lines")
}

func TestComposeContextIncludesAllSections(t *testing.T) {
	d := New(Config{ProjectDocs: []string{"/nonexistent/doc.md"}})
	ctx := d.ComposeContext("prompt text", "yes_no", "task-started: build", "pane output")
	assert.Contains(t, ctx, "prompt text")
	assert.Contains(t, ctx, "pane output")
	assert.Contains(t, ctx, "task-started: build")
	assert.Contains(t, ctx, "kind: yes_no")
	assert.Contains(t, ctx, "ESCALATE:")
}

func TestComposeContextDefaultsEmptyEventsSummary(t *testing.T) {
	d := New(Config{})
	ctx := d.ComposeContext("prompt text", "yes_no", "", "")
	assert.Contains(t, ctx, "(no events yet)")
}

func TestSnapshotRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	ctx := "kind: yes_no\nAuthorization: Bearer abc123\nordinary line\n"
	path, err := Snapshot(ctx, 1, dir)
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tier2-context-1.md"), path)

	content, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Contains(t, string(content), "[redacted]")
	assert.Contains(t, string(content), "ordinary line")
	assert.NotContains(t, string(content), "abc123")
}

func TestSnapshotEmptyLogDirIsNoop(t *testing.T) {
	path, err := Snapshot("Authorization: secret", 1, "")
	assert.NoError(t, err)
	assert.Equal(t, "", path)
}
