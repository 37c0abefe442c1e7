package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gobatconfig "github.com/battysh/batty/internal/config"
	"github.com/battysh/batty/internal/coordinator"
	"github.com/battysh/batty/internal/execlog"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <phase|session>",
	Short: "Resume supervision of a live agent session",
	Long: `resume reattaches a supervisor to a tmux session that's still
running, after the batty process that spawned it exited or crashed. It
picks up exactly where supervision left off: polling the pane, detecting
prompts, and auto-answering or escalating per policy. It never spawns a
new agent process — use "batty work" for that.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&workAgent, "agent", "", "agent adapter family (overrides defaults.agent)")
	resumeCmd.Flags().StringVar(&workPolicy, "policy", "", "auto-answer policy tier (overrides defaults.policy)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	live, err := resolveSession(root, args[0])
	if err != nil {
		return err
	}

	cfg := gobatconfig.Get()
	ad, err := adapterOrDefault(workAgent, cfg)
	if err != nil {
		return err
	}
	eng, err := policyEngineFromConfig(cfg, workPolicy)
	if err != nil {
		return err
	}
	logger, err := newRunLogger(root, live.runID)
	if err != nil {
		return err
	}
	execLog, err := execlog.Open(execlogPath(root, live.runID))
	if err != nil {
		return withExitCode(2, err)
	}
	defer execLog.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	coord := coordinator.New(coordinator.Config{
		RunID:       live.runID,
		Phase:       live.phase,
		PhaseDir:    live.phaseDir,
		ProjectRoot: root,
		Socket:      live.socket,
		Session:     live.session,

		Adapter: ad,
		Policy:  eng,
		Tier2:   tier2DelegatorFromConfig(cfg),

		IdleWindow:   cfg.Detector.IdleDuration(),
		PollInterval: cfg.Detector.PollInterval(),
		StallTimeout: 10 * time.Minute,

		Log:     logger,
		ExecLog: execLog,
	})

	result, err := coord.Attach(ctx)
	if err != nil {
		return withExitCode(3, err)
	}
	fmt.Printf("%s: %s\n", live.phase, result.Outcome)
	return nil
}
