// Package mergequeue implements the serialized Merge Queue: completed
// phase branches enqueue merge requests, and the queue processes one at a
// time so concurrent agent branches never race on the target branch. Each
// request is merged with --no-ff first; only a conflict falls back to
// rebasing the run branch onto the target and retrying a fast-forward
// merge. The test gate runs after a successful merge, and a failing gate
// reverts it rather than leaving a broken target branch.
package mergequeue

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/battysh/batty/internal/errors"
)

// Request is a pending merge of an agent's branch into the target branch.
type Request struct {
	TaskID int
	Agent  string
	Branch string
}

// Result is what a successfully processed Request produced.
type Result struct {
	TaskID int
	Agent  string
	Branch string
}

// Queue is a FIFO of merge Requests processed one at a time against a
// single repository.
type Queue struct {
	repoRoot      string
	targetBranch  string
	verifyCommand string
	rebaseRetries int
	items         []Request
}

// New constructs an empty Queue rooted at repoRoot, merging onto
// targetBranch. verifyCommand is run (via sh -c) as the test gate after a
// successful merge; rebaseRetries is how many times a conflicting merge is
// retried via rebase-and-retry before the request is failed.
func New(repoRoot, targetBranch, verifyCommand string, rebaseRetries int) *Queue {
	return &Queue{
		repoRoot:      repoRoot,
		targetBranch:  targetBranch,
		verifyCommand: verifyCommand,
		rebaseRetries: rebaseRetries,
	}
}

// Enqueue appends a merge request to the back of the queue.
func (q *Queue) Enqueue(req Request) {
	q.items = append(q.items, req)
}

// Len reports how many requests remain queued.
func (q *Queue) Len() int { return len(q.items) }

// IsEmpty reports whether the queue has no pending requests.
func (q *Queue) IsEmpty() bool { return len(q.items) == 0 }

// ProcessNext pops the front request and merges it into the target branch:
// switch to the target, attempt a --no-ff merge, recover a conflict via
// rebase-and-retry, run the test gate, and revert the merge if the gate
// fails. It returns (nil, nil) when the queue is empty.
func (q *Queue) ProcessNext() (*Result, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	req := q.items[0]
	q.items = q.items[1:]

	if err := q.switchBranch(q.targetBranch); err != nil {
		return nil, errors.NewMergeError("ProcessNext", "switch to target branch "+q.targetBranch, err)
	}

	preMergeHead, err := q.headSHA()
	if err != nil {
		return nil, errors.NewMergeError("ProcessNext", "resolve pre-merge head", err)
	}

	if err := q.mergeWithConflictRecovery(req.Branch); err != nil {
		return nil, errors.NewMergeError("ProcessNext", fmt.Sprintf("merge conflict on branch %q", req.Branch), err)
	}

	if err := q.runVerifyGate(); err != nil {
		if revertErr := q.revertMerge(preMergeHead); revertErr != nil {
			return nil, errors.NewMergeError("ProcessNext", fmt.Sprintf("test gate failed for branch %q, and revert also failed", req.Branch), revertErr)
		}
		return nil, errors.NewMergeError("ProcessNext", fmt.Sprintf("test gate failed for branch %q, merge reverted", req.Branch), err)
	}

	return &Result{TaskID: req.TaskID, Agent: req.Agent, Branch: req.Branch}, nil
}

// mergeWithConflictRecovery attempts a --no-ff merge of branch into the
// currently checked-out target branch. A conflicting merge is aborted, the
// run branch is rebased onto the target, and a fast-forward merge is
// retried; this rebase-then-merge cycle runs up to rebaseRetries times
// before the request is given up on. A merge failure that isn't a content
// conflict (e.g. the branch doesn't exist) fails immediately.
func (q *Queue) mergeWithConflictRecovery(branch string) error {
	out, err := q.git("merge", "--no-ff", "--no-edit", branch)
	if err == nil {
		return nil
	}
	if !looksLikeConflict(string(out)) {
		return fmt.Errorf("merge failed: %w\n%s", err, out)
	}
	if _, abortErr := q.git("merge", "--abort"); abortErr != nil {
		return fmt.Errorf("merge conflict, and abort also failed: %w", abortErr)
	}

	for attempt := 0; attempt < q.rebaseRetries; attempt++ {
		if err := q.rebaseBranchOntoTarget(branch); err != nil {
			if attempt == q.rebaseRetries-1 {
				return err
			}
			continue
		}

		out, err := q.git("merge", "--ff-only", branch)
		if err == nil {
			return nil
		}
		if !looksLikeConflict(string(out)) {
			return fmt.Errorf("ff-only merge failed after rebase: %w\n%s", err, out)
		}
		if attempt == q.rebaseRetries-1 {
			return fmt.Errorf("ff-only merge still conflicts after rebase: %w\n%s", err, out)
		}
	}
	return fmt.Errorf("merge conflict retry loop exhausted")
}

// rebaseBranchOntoTarget rebases branch onto the target branch, leaving the
// target checked out on return whether the rebase succeeded or not.
func (q *Queue) rebaseBranchOntoTarget(branch string) error {
	if err := q.switchBranch(branch); err != nil {
		return err
	}
	out, err := q.git("rebase", q.targetBranch)
	if err != nil {
		_, _ = q.git("rebase", "--abort")
		_ = q.switchBranch(q.targetBranch)
		return fmt.Errorf("rebase %s onto %s failed: %w\n%s", branch, q.targetBranch, err, out)
	}
	return q.switchBranch(q.targetBranch)
}

// revertMerge resets the target branch back to preMergeHead, undoing a
// merge whose test gate failed.
func (q *Queue) revertMerge(preMergeHead string) error {
	if err := q.switchBranch(q.targetBranch); err != nil {
		return err
	}
	out, err := q.git("reset", "--hard", preMergeHead)
	if err != nil {
		return fmt.Errorf("reset --hard %s failed: %w\n%s", preMergeHead, err, out)
	}
	return nil
}

func (q *Queue) headSHA() (string, error) {
	out, err := q.git("rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w\n%s", err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

func (q *Queue) runVerifyGate() error {
	cmd := exec.Command("sh", "-c", q.verifyCommand)
	cmd.Dir = q.repoRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w\n%s", err, output)
	}
	return nil
}

func (q *Queue) switchBranch(branch string) error {
	out, err := q.git("switch", branch)
	if err != nil {
		return fmt.Errorf("failed to switch to branch %q: %w\n%s", branch, err, out)
	}
	return nil
}

func (q *Queue) git(args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = q.repoRoot
	return cmd.CombinedOutput()
}

// looksLikeConflict reports whether git's merge output indicates an
// unresolved content conflict rather than some other failure (a missing
// branch, a dirty working tree, etc).
func looksLikeConflict(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "conflict") || strings.Contains(lower, "automatic merge failed")
}
