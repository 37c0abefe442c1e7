package eventbuf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func TestPollDetectsTaskStarted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "picked task #3: wire the event buffer\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindTaskStarted, events[0].Kind)
	assert.Equal(t, "3", events[0].TaskID)
}

func TestPollDetectsTaskCompleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "moved task #3 to done\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindTaskCompleted, events[0].Kind)
}

func TestPollDetectsCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "[main 1a2b3c4] wire pipe-pane into Run\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindCommitMade, events[0].Kind)
	assert.Equal(t, "1a2b3c4", events[0].SHA)
}

func TestPollDetectsTestRanPassed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "test result: ok. 4 passed\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindTestRan, events[0].Kind)
	assert.True(t, events[0].Passed)
}

func TestPollDetectsFileCreatedAndModified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "Created file internal/eventbuf/eventbuf.go\nEditing internal/tier2/tier2.go\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindFileCreated, events[0].Kind)
	assert.Equal(t, KindFileModified, events[1].Kind)
}

func TestPollDetectsCommandRan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "$ go test ./...\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindCommandRan, events[0].Kind)
	assert.Equal(t, "go test ./...", events[0].Command)
}

func TestPollFallsBackToRawLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "just some ordinary output\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindRawLine, events[0].Kind)
}

func TestPollSkipsEmptyLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "\n\n   \nactual output\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPollHandlesMissingFile(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "missing.log"))
	events, err := b.Poll()
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestPollIncrementalReadsOnlyNewContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "line one\n")

	b := New(path)
	first, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, first, 1)

	appendFile(t, path, "line two\n")
	second, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "line two", second[0].Text)
}

func TestPollAssignsMonotonicSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "first\nsecond\nthird\n")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(2), events[1].Seq)
	assert.Equal(t, int64(3), events[2].Seq)
}

func TestPollBuffersPartialLineUntilNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "partial without newline yet")

	b := New(path)
	events, err := b.Poll()
	require.NoError(t, err)
	assert.Empty(t, events)

	appendFile(t, path, " now complete\n")
	events, err = b.Poll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "partial without newline yet now complete", events[0].Text)
}

func TestCheckpointRewindsToLastCompleteLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "complete line\npartial tail")

	b := New(path)
	_, err := b.Poll()
	require.NoError(t, err)

	checkpoint := b.Checkpoint()
	assert.Less(t, checkpoint, int64(len("complete line\npartial tail")))
	assert.Equal(t, int64(len("complete line\n")), checkpoint)
}

func TestResumeFromCheckpointNeverReemitsSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	writeFile(t, path, "first\nsecond\n")

	a := New(path)
	first, err := a.Poll()
	require.NoError(t, err)
	require.Len(t, first, 2)

	checkpoint := a.Checkpoint()
	appendFile(t, path, "third\n")

	b := NewFrom(path, checkpoint)
	second, err := b.Poll()
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "third", second[0].Text)
}

func TestSummaryCapacityIsBoundedBySetSummarySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pty.log")
	b := New(path)
	b.SetSummarySize(3)

	for i := 0; i < 5; i++ {
		b.pushSummary(string(rune('a' + i)))
	}
	assert.Len(t, b.summary, 3)
	assert.Equal(t, []string{"c", "d", "e"}, b.summary)
}

func TestSummaryEmptyReportsPlaceholder(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "pty.log"))
	assert.Equal(t, "(no events yet)", b.Summary(0))
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "Proceed? (y/n)", LastLine("line1\nline2\nProceed? (y/n)\n\n"))
	assert.Equal(t, "", LastLine(""))
}

func TestIsProgressKind(t *testing.T) {
	assert.True(t, KindTaskStarted.IsProgress())
	assert.True(t, KindCommitMade.IsProgress())
	assert.False(t, KindRawLine.IsProgress())
	assert.False(t, KindPromptCandidate.IsProgress())
}
