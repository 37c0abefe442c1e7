package cmd

import (
	"fmt"

	"github.com/battysh/batty/internal/install"
	"github.com/spf13/cobra"
)

var (
	installTarget string
	installDir    string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Add batty's instruction block to the project's agent instruction files",
	Long: `install appends a short marker-delimited block to CLAUDE.md and/or
AGENTS.md telling an agent that a supervisor is watching its prompts.
Running install again is a no-op; install -> remove -> install reproduces
the state of a single install.`,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installTarget, "target", "both", "which instruction file(s) to touch: both, claude, codex")
	installCmd.Flags().StringVar(&installDir, "dir", "", "project directory (defaults to the current directory)")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	target, err := parseInstallTarget(installTarget)
	if err != nil {
		return err
	}
	dir, err := installDirOrDefault(installDir)
	if err != nil {
		return err
	}
	if err := install.Install(dir, target); err != nil {
		return withExitCode(2, err)
	}
	fmt.Println("installed")
	return nil
}

func parseInstallTarget(s string) (install.Target, error) {
	switch install.Target(s) {
	case install.TargetBoth, install.TargetClaude, install.TargetCodex:
		return install.Target(s), nil
	default:
		return "", withExitCode(2, fmt.Errorf("unknown --target %q, want one of both, claude, codex", s))
	}
}

func installDirOrDefault(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return projectRoot()
}
