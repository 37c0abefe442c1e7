package cmd

import (
	"os"

	"github.com/battysh/batty/internal/tmux"
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach <phase|session>",
	Short: "Attach the operator's terminal to a live agent session",
	Long: `attach connects the current terminal to a tmux session batty already
spawned, identified either by its phase name or by the literal session name
printed by "batty list". It does not change who is supervising the
session — the supervisor that spawned it keeps auto-answering prompts
concurrently, whether that's a still-running batty process or nobody (use
"batty resume" to pick supervision back up after batty itself exited).`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	live, err := resolveSession(root, args[0])
	if err != nil {
		return err
	}

	tmuxCmd := tmux.CommandWithSocket(live.socket, "attach-session", "-t", live.session)
	tmuxCmd.Stdin, tmuxCmd.Stdout, tmuxCmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := tmuxCmd.Run(); err != nil {
		return withExitCode(3, err)
	}
	return nil
}
