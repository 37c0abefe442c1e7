package mergequeue

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepo initializes a throwaway git repository and returns its root and
// default branch name. Tests skip (rather than fail) when git isn't on PATH,
// matching the reference suite's tolerance for sandboxed CI.
func testRepo(t *testing.T) (string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := t.TempDir()
	run(t, root, "init", "-q")
	run(t, root, "config", "user.email", "batty-merge-queue@example.com")
	run(t, root, "config", "user.name", "Batty Merge Queue")
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("base\n"), 0o644))
	run(t, root, "add", "README.md")
	run(t, root, "commit", "-q", "-m", "init")

	out := run(t, root, "branch", "--show-current")
	return root, out
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return trim(string(out))
}

func trim(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func writeAndCommit(t *testing.T, dir, file, content, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
	run(t, dir, "add", file)
	run(t, dir, "commit", "-q", "-m", message)
}

func TestProcessNextFIFOOrder(t *testing.T) {
	root, base := testRepo(t)

	run(t, root, "switch", "-c", "agent-a")
	writeAndCommit(t, root, "a.txt", "a\n", "a")

	run(t, root, "switch", base)
	run(t, root, "switch", "-c", "agent-b")
	writeAndCommit(t, root, "b.txt", "b\n", "b")
	run(t, root, "switch", base)

	q := New(root, base, "true", 1)
	q.Enqueue(Request{TaskID: 1, Agent: "agent-a", Branch: "agent-a"})
	q.Enqueue(Request{TaskID: 2, Agent: "agent-b", Branch: "agent-b"})

	first, err := q.ProcessNext()
	require.NoError(t, err)
	second, err := q.ProcessNext()
	require.NoError(t, err)

	assert.Equal(t, "agent-a", first.Agent)
	assert.Equal(t, "agent-b", second.Agent)
	assert.True(t, q.IsEmpty())
}

func TestProcessNextEmptyQueue(t *testing.T) {
	q := New(t.TempDir(), "main", "true", 0)
	result, err := q.ProcessNext()
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestProcessNextTestGateFailureBlocksMerge(t *testing.T) {
	root, base := testRepo(t)

	run(t, root, "switch", "-c", "agent-a")
	writeAndCommit(t, root, "a.txt", "a\n", "a")
	run(t, root, "switch", base)

	q := New(root, base, "false", 1)
	q.Enqueue(Request{TaskID: 1, Agent: "agent-a", Branch: "agent-a"})

	_, err := q.ProcessNext()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test gate failed")
	assert.Contains(t, err.Error(), "merge reverted")

	head := run(t, root, "rev-parse", "HEAD")
	baseHead := run(t, root, "rev-parse", base)
	assert.Equal(t, baseHead, head, "failed test gate must revert the merge")
}

func TestProcessNextMergesWithNoFFOnCleanBranch(t *testing.T) {
	root, base := testRepo(t)

	run(t, root, "switch", "-c", "agent-a")
	writeAndCommit(t, root, "a.txt", "a\n", "a")
	run(t, root, "switch", base)

	q := New(root, base, "true", 1)
	q.Enqueue(Request{TaskID: 1, Agent: "agent-a", Branch: "agent-a"})

	_, err := q.ProcessNext()
	require.NoError(t, err)

	log := run(t, root, "log", "--merges", "-1", "--format=%s")
	assert.Contains(t, log, "agent-a")
}

func TestProcessNextUnresolvedConflictFailsAfterRetry(t *testing.T) {
	root, base := testRepo(t)

	writeAndCommit(t, root, "conflict.txt", "base\n", "base conflict")

	run(t, root, "switch", "-c", "agent-a")
	writeAndCommit(t, root, "conflict.txt", "agent\n", "agent edit")

	run(t, root, "switch", base)
	writeAndCommit(t, root, "conflict.txt", "target\n", "target edit")

	q := New(root, base, "true", 1)
	q.Enqueue(Request{TaskID: 9, Agent: "agent-a", Branch: "agent-a"})

	_, err := q.ProcessNext()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge conflict")

	head := run(t, root, "rev-parse", "HEAD")
	baseHead := run(t, root, "rev-parse", base)
	assert.Equal(t, baseHead, head, "an unresolved conflict must leave the target branch untouched")
}
