package cmd

import (
	"fmt"

	"github.com/battysh/batty/internal/install"
	"github.com/spf13/cobra"
)

var (
	removeTarget string
	removeDir    string
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove batty's instruction block from the project's agent instruction files",
	Long: `remove deletes the marker-delimited block install added to CLAUDE.md
and/or AGENTS.md. Removing a block that isn't there is a no-op.`,
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().StringVar(&removeTarget, "target", "both", "which instruction file(s) to touch: both, claude, codex")
	removeCmd.Flags().StringVar(&removeDir, "dir", "", "project directory (defaults to the current directory)")
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	target, err := parseInstallTarget(removeTarget)
	if err != nil {
		return err
	}
	dir, err := installDirOrDefault(removeDir)
	if err != nil {
		return err
	}
	if err := install.Remove(dir, target); err != nil {
		return withExitCode(2, err)
	}
	fmt.Println("removed")
	return nil
}
