package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepo initializes a throwaway git repository and returns its root and
// default branch name. Tests skip (rather than fail) when git isn't on
// PATH, matching the merge queue suite's tolerance for sandboxed CI.
func testRepo(t *testing.T) (string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := t.TempDir()
	run(t, root, "init", "-q")
	run(t, root, "config", "user.email", "batty-worktree@example.com")
	run(t, root, "config", "user.name", "Batty Worktree")
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("base\n"), 0o644))
	run(t, root, "add", "README.md")
	run(t, root, "commit", "-q", "-m", "init")

	base := run(t, root, "branch", "--show-current")
	return root, base
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

func TestFindGitRootFromSubdirectory(t *testing.T) {
	root, _ := testRepo(t)
	sub := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	got, err := FindGitRoot(sub)
	require.NoError(t, err)

	wantAbs, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotAbs, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, wantAbs, gotAbs)
}

func TestFindGitRootNotARepo(t *testing.T) {
	_, err := FindGitRoot(t.TempDir())
	assert.Error(t, err)
}

func TestProvisionCreatesWorktreeOnce(t *testing.T) {
	root, base := testRepo(t)
	mgr, err := New(root)
	require.NoError(t, err)

	wtPath := filepath.Join(t.TempDir(), "phase-1")
	created, err := mgr.Provision(wtPath, "batty/phase-1", base)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = os.Stat(filepath.Join(wtPath, "README.md"))
	require.NoError(t, err)

	createdAgain, err := mgr.Provision(wtPath, "batty/phase-1", base)
	require.NoError(t, err)
	assert.False(t, createdAgain)
}

func TestCommitAllThenGetChangedFiles(t *testing.T) {
	root, base := testRepo(t)
	mgr, err := New(root)
	require.NoError(t, err)

	wtPath := filepath.Join(t.TempDir(), "phase-1")
	_, err = mgr.Provision(wtPath, "batty/phase-1", base)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "new.txt"), []byte("hi"), 0o644))

	dirty, err := mgr.HasUncommittedChanges(wtPath)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, mgr.CommitAll(wtPath, "add new.txt"))

	dirty, err = mgr.HasUncommittedChanges(wtPath)
	require.NoError(t, err)
	assert.False(t, dirty)

	files, err := mgr.GetChangedFiles(wtPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, files)
}

func TestCommitAllNothingToCommitIsNotAnError(t *testing.T) {
	root, base := testRepo(t)
	mgr, err := New(root)
	require.NoError(t, err)

	wtPath := filepath.Join(t.TempDir(), "phase-1")
	_, err = mgr.Provision(wtPath, "batty/phase-1", base)
	require.NoError(t, err)

	assert.NoError(t, mgr.CommitAll(wtPath, "nothing to do"))
}

func TestRemoveWorktree(t *testing.T) {
	root, base := testRepo(t)
	mgr, err := New(root)
	require.NoError(t, err)

	wtPath := filepath.Join(t.TempDir(), "phase-1")
	_, err = mgr.Provision(wtPath, "batty/phase-1", base)
	require.NoError(t, err)

	require.NoError(t, mgr.Remove(wtPath))

	list, err := mgr.List()
	require.NoError(t, err)
	for _, wt := range list {
		assert.NotEqual(t, wtPath, wt)
	}
}

func TestFindMainBranch(t *testing.T) {
	root, base := testRepo(t)
	mgr, err := New(root)
	require.NoError(t, err)

	assert.Equal(t, base, mgr.FindMainBranch())
}
