// Package orchestrator implements "batty work all": the multi-phase
// supervision loop that discovers runnable phase boards, supervises each
// phase's agent session, evaluates the Completion Contract, captures a
// Review Gate decision, and serializes accepted phases through the Merge
// Queue before moving on to the next phase.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/battysh/batty/internal/adapter"
	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/completion"
	"github.com/battysh/batty/internal/coordinator"
	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/errors"
	"github.com/battysh/batty/internal/execlog"
	"github.com/battysh/batty/internal/logging"
	"github.com/battysh/batty/internal/mergequeue"
	"github.com/battysh/batty/internal/namer"
	"github.com/battysh/batty/internal/policy"
	"github.com/battysh/batty/internal/reviewgate"
	"github.com/battysh/batty/internal/sequencer"
	"github.com/battysh/batty/internal/tier2"
	"github.com/battysh/batty/internal/worktree"
)

// Config wires together every component a multi-phase run needs.
type Config struct {
	RunID       string
	ProjectRoot string
	Socket      string

	Agent         adapter.Adapter
	DangerousMode bool

	Policy *policy.Engine
	Tier2  *tier2.Delegator // nil disables Tier-2 escalation

	IdleWindow   time.Duration
	PollInterval time.Duration
	StallTimeout time.Duration

	TargetBranch  string
	VerifyCommand string
	RebaseRetries int

	FailurePolicy sequencer.FailurePolicy

	// DoDCommand is the configured Definition of Done command
	// (defaults.dod_command), surfaced to the agent as a required
	// completion artifact.
	DoDCommand string

	// LogDir is the run's log directory; each phase's composed launch
	// context is persisted under here before its agent is spawned. Empty
	// disables persistence.
	LogDir string

	// DryRun composes and prints each phase's launch context instead of
	// spawning an agent.
	DryRun bool

	// RequireWorktree turns a skipped worktree provisioning (project root
	// isn't a git repository) into a hard failure instead of falling back
	// to the phase board directory, for `work --worktree`.
	RequireWorktree bool

	// FreshWorktree removes any pre-existing phase worktree and its branch
	// before provisioning a new one, for `work --new`.
	FreshWorktree bool

	Log     *logging.Logger
	ExecLog *execlog.Writer
}

// PhaseResult is one phase's full outcome: supervision, completion, review,
// and (if reviewed as mergeable) merge.
type PhaseResult struct {
	Phase      string
	Outcome    sequencer.RunOutcome
	Supervised *coordinator.Result
	Completion *completion.Report
	Review     reviewgate.Decision
	Rationale  string
	Merge      *mergequeue.Result
}

// Summary is the terminal report of a "batty work all" run.
type Summary struct {
	Phases       []PhaseResult
	StoppedEarly bool
}

// Orchestrator runs the full discover -> supervise -> complete -> review ->
// merge pipeline across every runnable phase in a project.
type Orchestrator struct {
	cfg   Config
	queue *mergequeue.Queue
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		queue: mergequeue.New(cfg.ProjectRoot, cfg.TargetBranch, cfg.VerifyCommand, cfg.RebaseRetries),
	}
}

// RunAll discovers every runnable phase in dependency/order and drives each
// one through the full pipeline, stopping early if the failure policy says
// to.
func (o *Orchestrator) RunAll(ctx context.Context) (*Summary, error) {
	disc, err := sequencer.DiscoverPhases(o.cfg.ProjectRoot)
	if err != nil {
		return nil, errors.NewOrchestratorError("RunAll", "discover phases", err)
	}
	sequencer.LogSelectionDecisions(o.cfg.Log, disc.Decisions)

	o.logExec(execlog.EventRunStarted, map[string]any{"phase_count": len(disc.Selected)})

	summary := &Summary{}
	for i, candidate := range disc.Selected {
		if err := ctx.Err(); err != nil {
			summary.StoppedEarly = true
			return summary, err
		}

		result, outcome, err := o.runPhase(ctx, i, candidate)
		if err != nil {
			return summary, err
		}
		summary.Phases = append(summary.Phases, *result)

		if !sequencer.ShouldContinueAfterPhase(outcome, o.cfg.FailurePolicy) {
			summary.StoppedEarly = true
			break
		}
	}

	o.logExec(execlog.EventRunFinished, map[string]any{
		"phases_run":    len(summary.Phases),
		"stopped_early": summary.StoppedEarly,
	})
	return summary, nil
}

// RunPhase drives a single named phase through the full pipeline (used by
// `batty work <phase>`, as opposed to RunAll's full-project sweep). It
// reports a BoardError (user error, exit code 2) when no discovered phase
// matches name.
func (o *Orchestrator) RunPhase(ctx context.Context, name string) (*PhaseResult, error) {
	disc, err := sequencer.DiscoverPhases(o.cfg.ProjectRoot)
	if err != nil {
		return nil, errors.NewOrchestratorError("RunPhase", "discover phases", err)
	}

	var candidate *sequencer.Candidate
	for i := range disc.Selected {
		if disc.Selected[i].Name == name {
			candidate = &disc.Selected[i]
			break
		}
	}
	if candidate == nil {
		return nil, errors.NewBoardError("RunPhase", "no runnable phase named "+name, nil)
	}

	o.logExec(execlog.EventRunStarted, map[string]any{"phase_count": 1})
	result, _, err := o.runPhase(ctx, 0, *candidate)
	if err != nil {
		return nil, err
	}
	o.logExec(execlog.EventRunFinished, map[string]any{"phases_run": 1})
	return result, nil
}

func (o *Orchestrator) runPhase(ctx context.Context, index int, candidate sequencer.Candidate) (*PhaseResult, sequencer.RunOutcome, error) {
	o.cfg.Log.Info("phase starting", "phase", candidate.Name, "dir", candidate.Directory)

	workDir, err := o.provisionWorktree(candidate)
	if err != nil {
		return nil, sequencer.PhaseFailed, err
	}

	coordCfg := coordinator.Config{
		RunID:       o.cfg.RunID,
		Phase:       candidate.Name,
		PhaseDir:    candidate.Directory,
		ProjectRoot: o.cfg.ProjectRoot,
		Socket:      o.cfg.Socket,
		Session:     namer.SessionName(o.cfg.RunID, candidate.Name),
		WorkDir:     workDir,

		Adapter:       o.cfg.Agent,
		DangerousMode: o.cfg.DangerousMode,

		Policy: o.cfg.Policy,
		Tier2:  o.cfg.Tier2,

		IdleWindow:   o.cfg.IdleWindow,
		PollInterval: o.cfg.PollInterval,
		StallTimeout: o.cfg.StallTimeout,

		ClaimIdentity: namer.SessionName(o.cfg.RunID, candidate.Name),
		ClaimSource:   "single-agent",

		DoDCommand: o.cfg.DoDCommand,
		LogDir:     o.cfg.LogDir,
		DryRun:     o.cfg.DryRun,

		Log:     o.cfg.Log.WithPhase(candidate.Name),
		ExecLog: o.cfg.ExecLog,
	}

	supervised, err := coordinator.New(coordCfg).Run(ctx)
	if err != nil {
		return nil, sequencer.PhaseFailed, errors.NewOrchestratorError("runPhase", "supervise phase "+candidate.Name, err)
	}

	result := &PhaseResult{Phase: candidate.Name, Supervised: supervised}

	if supervised.Outcome != coordinator.OutcomeExited {
		result.Outcome = sequencer.PhaseEscalated
		o.cfg.Log.Warn("phase did not exit cleanly", "phase", candidate.Name, "outcome", string(supervised.Outcome))
		return result, result.Outcome, nil
	}

	if workDir != "" {
		if err := o.commitWorktree(workDir, candidate.Name); err != nil {
			return nil, sequencer.PhaseFailed, err
		}
	}

	report, err := o.evaluateCompletion(candidate, workDir)
	if err != nil {
		return nil, sequencer.PhaseFailed, err
	}
	result.Completion = report
	o.logExec(execlog.EventCompletionChecked, map[string]any{"phase": candidate.Name, "passed": report.Passed, "reason": report.Reason})

	if !report.Passed {
		result.Outcome = sequencer.PhaseFailed
		return result, result.Outcome, nil
	}

	decision, rationale, err := o.reviewPhase(candidate, report)
	if err != nil {
		return nil, sequencer.PhaseFailed, err
	}
	result.Review = decision
	result.Rationale = rationale

	switch decision {
	case reviewgate.DecisionMerge:
		merged, err := o.mergePhase(index, candidate)
		if err != nil {
			result.Outcome = sequencer.PhaseFailed
			return result, result.Outcome, nil
		}
		result.Merge = merged
		result.Outcome = sequencer.PhaseMerged
	case reviewgate.DecisionRework:
		result.Outcome = sequencer.PhaseFailed
	case reviewgate.DecisionEscalate:
		result.Outcome = sequencer.PhaseEscalated
	default:
		result.Outcome = sequencer.PhaseEscalated
	}

	return result, result.Outcome, nil
}

func (o *Orchestrator) evaluateCompletion(candidate sequencer.Candidate, workDir string) (*completion.Report, error) {
	tasks, _, err := board.LoadTasksFromDir(candidate.Directory)
	if err != nil {
		return nil, errors.NewOrchestratorError("evaluateCompletion", "load tasks from "+candidate.Directory, err)
	}

	allComplete := len(tasks) > 0
	for _, t := range tasks {
		if t.Status != dag.StatusCompleted {
			allComplete = false
			break
		}
	}

	dir := workDir
	if dir == "" {
		dir = candidate.Directory
	}

	var runDoD func() error
	if o.cfg.DoDCommand != "" {
		runDoD = func() error { return o.runDoDCommand(candidate.Name, dir) }
	}

	report, err := completion.Evaluate(completion.Inputs{
		PhaseRoot:              candidate.Directory,
		Tasks:                  tasks,
		PhaseSummaryCandidates: completion.PhaseSummaryCandidates(candidate.Directory),
		AllTasksComplete:       allComplete,
		DoDCommand:             o.cfg.DoDCommand,
		RunDoD:                 runDoD,
	})
	if err != nil {
		return nil, errors.NewOrchestratorError("evaluateCompletion", "evaluate completion contract for "+candidate.Name, err)
	}
	return report, nil
}

// runDoDCommand runs the configured Definition of Done command in dir via
// sh -c, logging dod_started/dod_passed/dod_failed to the execution log
// (spec §4.10 item 4's DoD gate).
func (o *Orchestrator) runDoDCommand(phase, dir string) error {
	o.logExec(execlog.EventDodStarted, map[string]any{"phase": phase, "command": o.cfg.DoDCommand})

	cmd := exec.Command("sh", "-c", o.cfg.DoDCommand)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		o.logExec(execlog.EventDodFailed, map[string]any{"phase": phase, "command": o.cfg.DoDCommand, "err": err.Error(), "output": string(output)})
		return fmt.Errorf("%w\n%s", err, output)
	}

	o.logExec(execlog.EventDodPassed, map[string]any{"phase": phase, "command": o.cfg.DoDCommand})
	return nil
}

func (o *Orchestrator) reviewPhase(candidate sequencer.Candidate, report *completion.Report) (reviewgate.Decision, string, error) {
	var failed []string
	for gate, passed := range report.Results {
		if !passed {
			failed = append(failed, string(gate))
		}
	}

	packet := reviewgate.GeneratePacket(
		candidate.Name,
		namer.BranchName(candidate.Name),
		fmt.Sprintf("phase %s passed the completion contract", candidate.Name),
		"",
		failed,
	)

	o.logExec(execlog.EventReviewRequested, map[string]any{"phase": candidate.Name})
	decision, rationale, err := reviewgate.CaptureDecision(packet)
	if err != nil {
		return "", "", errors.NewOrchestratorError("reviewPhase", "capture review decision for "+candidate.Name, err)
	}
	o.logExec(execlog.EventReviewDecided, map[string]any{"phase": candidate.Name, "decision": string(decision)})
	return decision, rationale, nil
}

func (o *Orchestrator) mergePhase(index int, candidate sequencer.Candidate) (*mergequeue.Result, error) {
	o.queue.Enqueue(mergequeue.Request{
		TaskID: index,
		Agent:  o.cfg.Agent.Name(),
		Branch: namer.BranchName(candidate.Name),
	})
	o.logExec(execlog.EventMergeQueued, map[string]any{"phase": candidate.Name})

	result, err := o.queue.ProcessNext()
	if err != nil {
		o.logExec(execlog.EventMergeFailed, map[string]any{"phase": candidate.Name, "error": err.Error()})
		return nil, errors.NewOrchestratorError("mergePhase", "process merge queue for "+candidate.Name, err)
	}
	o.logExec(execlog.EventMergeSucceeded, map[string]any{"phase": candidate.Name, "branch": namer.BranchName(candidate.Name)})
	return result, nil
}

// provisionWorktree ensures a dedicated git worktree exists for a phase, on
// the phase's run branch, so the agent edits an isolated checkout rather
// than the project's primary working tree. It returns "" (and leaves the
// agent spawning in its phase board directory) when the project root isn't
// a git repository, since not every batty project is expected to be one.
func (o *Orchestrator) provisionWorktree(candidate sequencer.Candidate) (string, error) {
	mgr, err := worktree.New(o.cfg.ProjectRoot)
	if err != nil {
		if o.cfg.RequireWorktree {
			return "", errors.NewRunError("provisionWorktree", "project root is not a git repository, required by --worktree", err)
		}
		o.cfg.Log.Debug("skipping worktree provisioning", "phase", candidate.Name, "reason", err.Error())
		return "", nil
	}

	dir := namer.WorktreeDirName(candidate.Name, 1)
	path := filepath.Join(o.cfg.ProjectRoot, ".batty", "worktrees", dir)
	branch := namer.BranchName(candidate.Name)
	base := o.cfg.TargetBranch
	if base == "" {
		base = mgr.FindMainBranch()
	}

	if o.cfg.FreshWorktree {
		if _, err := os.Stat(path); err == nil {
			_ = mgr.Remove(path)
			_ = mgr.DeleteBranch(branch)
		}
	}

	if _, err := mgr.Provision(path, branch, base); err != nil {
		return "", errors.NewOrchestratorError("provisionWorktree", "provision worktree for phase "+candidate.Name, err)
	}
	return path, nil
}

// commitWorktree commits whatever changes the agent left in its phase
// worktree, so the phase's run branch has something for the Merge Queue to
// merge once the Completion Contract and Review Gate both pass.
func (o *Orchestrator) commitWorktree(workDir, phase string) error {
	mgr, err := worktree.New(workDir)
	if err != nil {
		return nil
	}
	if err := mgr.CommitAll(workDir, fmt.Sprintf("%s: agent changes", phase)); err != nil {
		return errors.NewOrchestratorError("commitWorktree", "commit changes for phase "+phase, err)
	}
	return nil
}

func (o *Orchestrator) logExec(kind execlog.EventKind, fields map[string]any) {
	if o.cfg.ExecLog == nil {
		return
	}
	_ = o.cfg.ExecLog.Write(execlog.Event{
		Kind:   kind,
		RunID:  o.cfg.RunID,
		Fields: fields,
	})
}
