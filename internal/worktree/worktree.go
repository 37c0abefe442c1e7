// Package worktree provisions isolated git working trees for phase runs.
// The Run Coordinator spawns each phase's agent inside its own worktree so
// concurrent phases (and rework attempts on the same phase) never clobber
// each other's uncommitted changes, and so a phase's branch can be merged
// or discarded independently of the project's primary checkout.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Manager handles git worktree operations against a single repository.
type Manager struct {
	repoDir string
}

// FindGitRoot finds the root of the git repository by traversing up from
// startDir. It returns the directory containing .git (either a directory
// for a normal repo or a file for a worktree). Returns an error if no git
// repository is found.
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to mount point)")
		}
		dir = parent
	}
}

// New creates a new worktree Manager rooted at the git repository
// containing repoDir.
func New(repoDir string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s", repoDir)
	}
	return &Manager{repoDir: gitRoot}, nil
}

// Provision ensures a worktree exists at path on branch, creating it from
// baseBranch if absent. It is idempotent: if path is already a registered
// worktree, Provision reports created=false and does nothing further,
// so a coordinator retrying a phase after a stall can call this
// unconditionally.
func (m *Manager) Provision(path, branch, baseBranch string) (created bool, err error) {
	existing, err := m.List()
	if err != nil {
		return false, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve worktree path: %w", err)
	}
	for _, wt := range existing {
		if wt == abs {
			return false, nil
		}
	}
	if err := m.CreateFromBranch(path, branch, baseBranch); err != nil {
		return false, err
	}
	return true, nil
}

// CreateFromBranch creates a new worktree at path with a new branch based
// off baseBranch rather than the repository's current HEAD.
func (m *Manager) CreateFromBranch(path, newBranch, baseBranch string) error {
	cmd := exec.Command("git", "worktree", "add", "-b", newBranch, path, baseBranch)
	cmd.Dir = m.repoDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to create worktree from branch %s: %w\n%s", baseBranch, err, string(output))
	}
	return nil
}

// Remove removes a worktree, falling back to a manual directory removal
// and prune if git itself refuses.
func (m *Manager) Remove(path string) error {
	cmd := exec.Command("git", "worktree", "remove", "--force", path)
	cmd.Dir = m.repoDir

	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.RemoveAll(path)

		pruneCmd := exec.Command("git", "worktree", "prune")
		pruneCmd.Dir = m.repoDir
		_ = pruneCmd.Run()

		return fmt.Errorf("failed to remove worktree cleanly: %w\n%s", err, string(output))
	}
	return nil
}

// List returns the absolute paths of all registered worktrees.
func (m *Manager) List() ([]string, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = m.repoDir

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			worktrees = append(worktrees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return worktrees, nil
}

// GetBranch returns the checked-out branch for a worktree.
func (m *Manager) GetBranch(path string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// DeleteBranch deletes a branch from the repository.
func (m *Manager) DeleteBranch(branch string) error {
	cmd := exec.Command("git", "branch", "-D", branch)
	cmd.Dir = m.repoDir

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to delete branch: %w\n%s", err, string(output))
	}
	return nil
}

// HasUncommittedChanges reports whether a worktree has a dirty working tree.
func (m *Manager) HasUncommittedChanges(path string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// CommitAll stages and commits every change in a worktree. A "nothing to
// commit" result is not an error, since completion verification may run
// against a phase that produced no file changes.
func (m *Manager) CommitAll(path, message string) error {
	addCmd := exec.Command("git", "add", "-A")
	addCmd.Dir = path
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to add changes: %w\n%s", err, string(output))
	}

	commitCmd := exec.Command("git", "commit", "-m", message)
	commitCmd.Dir = path
	if output, err := commitCmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return nil
		}
		return fmt.Errorf("failed to commit: %w\n%s", err, string(output))
	}
	return nil
}

// GetDiffAgainstMain returns the diff of a worktree's branch against the
// repository's main/master branch.
func (m *Manager) GetDiffAgainstMain(path string) (string, error) {
	mainBranch := m.findMainBranch()

	cmd := exec.Command("git", "diff", mainBranch+"...HEAD")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get diff: %w", err)
	}
	return string(output), nil
}

// GetChangedFiles returns the files a worktree's branch changed relative
// to main/master.
func (m *Manager) GetChangedFiles(path string) ([]string, error) {
	mainBranch := m.findMainBranch()

	cmd := exec.Command("git", "diff", "--name-only", mainBranch+"...HEAD")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get changed files: %w", err)
	}

	files := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(files) == 1 && files[0] == "" {
		return []string{}, nil
	}
	return files, nil
}

// Push pushes a worktree's current branch to origin.
func (m *Manager) Push(path string, force bool) error {
	args := []string{"push", "-u", "origin", "HEAD"}
	if force {
		args = append(args, "--force-with-lease")
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = path

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to push: %w\n%s", err, string(output))
	}
	return nil
}

func (m *Manager) findMainBranch() string {
	cmd := exec.Command("git", "rev-parse", "--verify", "main")
	cmd.Dir = m.repoDir
	if err := cmd.Run(); err == nil {
		return "main"
	}
	return "master"
}

// FindMainBranch is the exported form of the main/master detection used
// internally by the diff and push helpers.
func (m *Manager) FindMainBranch() string {
	return m.findMainBranch()
}
