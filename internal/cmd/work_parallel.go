package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/battysh/batty/internal/adapter"
	gobatconfig "github.com/battysh/batty/internal/config"
	"github.com/battysh/batty/internal/coordinator"
	"github.com/battysh/batty/internal/errors"
	"github.com/battysh/batty/internal/execlog"
	"github.com/battysh/batty/internal/logging"
	"github.com/battysh/batty/internal/namer"
	"github.com/battysh/batty/internal/policy"
	"github.com/battysh/batty/internal/scheduler"
	"github.com/battysh/batty/internal/sequencer"
	"github.com/battysh/batty/internal/tier2"
	"github.com/battysh/batty/internal/tmux"
	"github.com/battysh/batty/internal/worktree"
)

// runWorkParallel drives n parallel agent slots over one phase's ready
// tasks, per spec's `work <phase> --parallel N`: the Parallel Scheduler
// claims a disjoint ready task for each idle slot, a per-slot worktree and
// tmux session run that single task to completion, and the slot goes idle
// again once the scheduler observes the task reach done.
func runWorkParallel(ctx context.Context, phase string, n int) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	runID := newRunID(time.Now())
	cfg := gobatconfig.Get()

	ad, err := adapterOrDefault(workAgent, cfg)
	if err != nil {
		return err
	}
	eng, err := policyEngineFromConfig(cfg, workPolicy)
	if err != nil {
		return err
	}
	logger, err := newRunLogger(root, runID)
	if err != nil {
		return err
	}
	execLog, err := execlog.Open(execlogPath(root, runID))
	if err != nil {
		return withExitCode(2, err)
	}
	defer execLog.Close()

	disc, err := sequencer.DiscoverPhases(root)
	if err != nil {
		return withExitCode(2, err)
	}
	var phaseDir string
	found := false
	for _, c := range disc.Selected {
		if c.Name == phase {
			phaseDir = c.Directory
			found = true
			break
		}
	}
	if !found {
		return withExitCode(2, fmt.Errorf("no runnable phase named %s", phase))
	}

	slots := make([]string, n)
	for i := range slots {
		slots[i] = fmt.Sprintf("agent-%d", i+1)
	}
	sched := scheduler.New(phaseDir, slots, scheduler.DefaultConfig())
	socket := tmux.RunSocketName(runID)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slot := &parallelSlotRunner{
		root: root, runID: runID, phase: phase, phaseDir: phaseDir, socket: socket,
		adapter: ad, policy: eng, tier2: tier2DelegatorFromConfig(cfg), log: logger, execLog: execLog, slots: slots,
	}

	var inFlight int
	done := make(chan error, n)
	var tickNum int64

	for {
		select {
		case <-ctx.Done():
			return withExitCode(2, ctx.Err())
		default:
		}

		tickNum++
		tick, err := sched.Tick(tickNum)
		if err != nil {
			return withExitCode(1, err)
		}

		for _, d := range tick.Dispatched {
			inFlight++
			go func(d scheduler.Dispatch) {
				done <- slot.run(ctx, d)
			}(d)
		}

		if tick.Deadlocked {
			return withExitCode(5, fmt.Errorf("phase %s deadlocked: no ready tasks and no progress possible", phase))
		}
		for _, s := range tick.Stuck {
			logger.Warn("agent stuck past timeout; claim kept", "agent", s.Agent, "task", s.TaskID, "stalled_secs", s.StalledSecs)
		}
		if tick.AllDone {
			break
		}

		select {
		case err := <-done:
			inFlight--
			if err != nil {
				logger.Warn("parallel slot finished with error", "error", err.Error())
			}
		case <-time.After(scheduler.DefaultConfig().PollInterval):
		case <-ctx.Done():
			return withExitCode(2, ctx.Err())
		}
	}

	for inFlight > 0 {
		<-done
		inFlight--
	}

	fmt.Printf("%s: all tasks done (%d slots)\n", phase, n)
	return nil
}

// parallelSlotRunner provisions a dedicated worktree and tmux session for
// one dispatched task and supervises it to completion.
type parallelSlotRunner struct {
	root, runID, phase, phaseDir, socket string
	adapter                              adapter.Adapter
	policy                               *policy.Engine
	tier2                                *tier2.Delegator
	log                                  *logging.Logger
	execLog                              *execlog.Writer
	slots                                []string
}

func (p *parallelSlotRunner) run(ctx context.Context, d scheduler.Dispatch) error {
	branch := namer.SlotBranchName(p.phase, d.Agent)
	workDir := filepath.Join(p.root, ".batty", "worktrees", namer.Sanitize(p.phase), namer.Sanitize(d.Agent))

	mgr, err := worktree.New(p.root)
	if err == nil {
		if _, err := mgr.Provision(workDir, branch, mgr.FindMainBranch()); err != nil {
			return errors.NewOrchestratorError("runParallelSlot", "provision slot worktree for "+d.Agent, err)
		}
	} else {
		workDir = p.phaseDir
	}

	coordCfg := coordinator.Config{
		RunID:         p.runID,
		Phase:         p.phase,
		PhaseDir:      p.phaseDir,
		ProjectRoot:   p.root,
		Socket:        p.socket,
		Session:       namer.SlotSessionName(p.runID, p.phase, slotIndex(p.slots, d.Agent)),
		WorkDir:       workDir,
		ClaimIdentity: d.Agent,
		ClaimSource:   "parallel-slot",

		Adapter: p.adapter,
		Policy:  p.policy,
		Tier2:   p.tier2,

		IdleWindow:   2 * time.Second,
		PollInterval: 2 * time.Second,
		StallTimeout: 10 * time.Minute,

		Log:     p.log.WithAgent(d.Agent),
		ExecLog: p.execLog,
	}

	_, err = coordinator.New(coordCfg).Run(ctx)
	return err
}

func slotIndex(slots []string, agent string) int {
	for i, s := range slots {
		if s == agent {
			return i + 1
		}
	}
	return 1
}
