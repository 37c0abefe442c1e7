package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/battysh/batty/internal/adapter"
	gobatconfig "github.com/battysh/batty/internal/config"
	"github.com/battysh/batty/internal/execlog"
	"github.com/battysh/batty/internal/namer"
	"github.com/battysh/batty/internal/orchestrator"
	"github.com/battysh/batty/internal/sequencer"
	"github.com/battysh/batty/internal/tmux"
	"github.com/spf13/cobra"
)

var (
	workAttach   bool
	workAgent    string
	workPolicy   string
	workWorktree bool
	workNew      bool
	workDryRun   bool
	workParallel int
)

var workCmd = &cobra.Command{
	Use:   "work <phase>",
	Short: "Run the supervised agent loop for one phase, or all phases",
	Long: `work <phase> supervises a single phase's agent session to completion.

work all discovers every runnable phase in order and drives each one
through supervision, the completion contract, the review gate, and the
merge queue.`,
	Args: cobra.ExactArgs(1),
	RunE: runWork,
}

func init() {
	workCmd.Flags().BoolVar(&workAttach, "attach", false, "attach to the tmux session after spawning it")
	workCmd.Flags().StringVar(&workAgent, "agent", "", "agent adapter family (overrides defaults.agent)")
	workCmd.Flags().StringVar(&workPolicy, "policy", "", "auto-answer policy tier (overrides defaults.policy)")
	workCmd.Flags().BoolVar(&workWorktree, "worktree", false, "force per-phase git worktree isolation")
	workCmd.Flags().BoolVar(&workNew, "new", false, "start a fresh run even if a prior run's state exists")
	workCmd.Flags().BoolVar(&workDryRun, "dry-run", false, "compose and print the launch context instead of spawning an agent")
	workCmd.Flags().IntVar(&workParallel, "parallel", 1, "number of parallel agent slots (phase mode only)")
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	phase := args[0]

	if phase == "all" {
		if workParallel > 1 {
			return withExitCode(2, fmt.Errorf("work all does not support --parallel; run work <phase> --parallel N for one phase at a time"))
		}
		return runWorkAll(cmd.Context())
	}

	if workParallel > 1 {
		return runWorkParallel(cmd.Context(), phase, workParallel)
	}
	return runWorkSingle(cmd.Context(), phase)
}

func buildOrchestratorConfig(root, runID string, agentName, policyTier string) (orchestrator.Config, *orchestrator.Orchestrator, error) {
	cfg := gobatconfig.Get()

	if agentName == "" {
		agentName = cfg.Defaults.Agent
	}
	ad, err := adapterFromName(agentName)
	if err != nil {
		return orchestrator.Config{}, nil, err
	}

	eng, err := policyEngineFromConfig(cfg, policyTier)
	if err != nil {
		return orchestrator.Config{}, nil, err
	}

	logger, err := newRunLogger(root, runID)
	if err != nil {
		return orchestrator.Config{}, nil, err
	}

	execLog, err := execlog.Open(execlogPath(root, runID))
	if err != nil {
		return orchestrator.Config{}, nil, withExitCode(2, err)
	}

	oc := orchestrator.Config{
		RunID:           runID,
		ProjectRoot:     root,
		Socket:          tmux.RunSocketName(runID),
		Agent:           ad,
		DangerousMode:   cfg.DangerousMode.Enabled,
		Policy:          eng,
		Tier2:           tier2DelegatorFromConfig(cfg),
		IdleWindow:      cfg.Detector.IdleDuration(),
		PollInterval:    cfg.Detector.PollInterval(),
		StallTimeout:    10 * time.Minute,
		TargetBranch:    "main",
		VerifyCommand:   cfg.Defaults.DodCommand,
		RebaseRetries:   3,
		FailurePolicy:   failurePolicyFromEnv(),
		DoDCommand:      cfg.Defaults.DodCommand,
		LogDir:          logDir(root, runID),
		DryRun:          workDryRun,
		RequireWorktree: workWorktree,
		FreshWorktree:   workNew,
		Log:             logger,
		ExecLog:         execLog,
	}
	return oc, orchestrator.New(oc), nil
}

func failurePolicyFromEnv() sequencer.FailurePolicy {
	if os.Getenv("BATTY_CONTINUE_ON_FAILURE") == "true" {
		return sequencer.ContinueOnFailure
	}
	return sequencer.StopOnFailure
}

func logDir(root, runID string) string {
	return root + "/.batty/logs/" + runID
}

func execlogPath(root, runID string) string {
	return logDir(root, runID) + "/execution.jsonl"
}

func runWorkSingle(ctx context.Context, phase string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	runID := newRunID(time.Now())

	_, orch, err := buildOrchestratorConfig(root, runID, workAgent, workPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !workAttach {
		result, err := orch.RunPhase(ctx, phase)
		if err != nil {
			return err
		}
		return exitForPhaseResult(result)
	}

	return runAndAttach(ctx, orch, phase, tmux.RunSocketName(runID), namer.SessionName(runID, phase))
}

// runAndAttach runs the phase in the background while attaching the
// operator's terminal to its tmux pane, so they can watch the agent work
// (and type over it, if they choose) while the supervisor keeps answering
// routine prompts concurrently.
func runAndAttach(ctx context.Context, orch *orchestrator.Orchestrator, phase, socket, session string) error {
	resultCh := make(chan error, 1)
	var result *orchestrator.PhaseResult
	go func() {
		r, err := orch.RunPhase(ctx, phase)
		result = r
		resultCh <- err
	}()

	deadline := time.Now().Add(10 * time.Second)
	for !tmux.SessionExists(socket, session) {
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	if tmux.SessionExists(socket, session) {
		attachCmd := tmux.CommandWithSocket(socket, "attach-session", "-t", session)
		attachCmd.Stdin, attachCmd.Stdout, attachCmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		_ = attachCmd.Run()
	}

	if err := <-resultCh; err != nil {
		return err
	}
	return exitForPhaseResult(result)
}

func runWorkAll(ctx context.Context) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	runID := newRunID(time.Now())

	_, orch, err := buildOrchestratorConfig(root, runID, workAgent, workPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := orch.RunAll(ctx)
	if err != nil {
		return err
	}

	for _, p := range summary.Phases {
		fmt.Printf("%s: %s\n", p.Phase, outcomeLabel(p.Outcome))
	}
	if summary.StoppedEarly {
		last := summary.Phases[len(summary.Phases)-1]
		return withExitCode(exitCodeForOutcome(last.Outcome), fmt.Errorf("run stopped early at phase %s: %s", last.Phase, outcomeLabel(last.Outcome)))
	}
	return nil
}

func outcomeLabel(o sequencer.RunOutcome) string {
	switch o {
	case sequencer.PhaseMerged:
		return "merged"
	case sequencer.PhaseFailed:
		return "failed"
	case sequencer.PhaseEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

func exitCodeForOutcome(o sequencer.RunOutcome) int {
	switch o {
	case sequencer.PhaseEscalated:
		return 4
	case sequencer.PhaseFailed:
		return 1
	default:
		return 0
	}
}

func exitForPhaseResult(result *orchestrator.PhaseResult) error {
	fmt.Printf("%s: %s\n", result.Phase, outcomeLabel(result.Outcome))
	switch result.Outcome {
	case sequencer.PhaseMerged:
		return nil
	case sequencer.PhaseEscalated:
		return withExitCode(4, fmt.Errorf("phase %s escalated: %s", result.Phase, result.Rationale))
	case sequencer.PhaseFailed:
		return withExitCode(1, fmt.Errorf("phase %s failed the completion contract or was sent back for rework", result.Phase))
	default:
		return nil
	}
}

// adapterOrDefault resolves the agent adapter, used by the parallel path
// where each slot shares the same family.
func adapterOrDefault(name string, cfg *gobatconfig.Config) (adapter.Adapter, error) {
	if name == "" {
		name = cfg.Defaults.Agent
	}
	return adapterFromName(name)
}
