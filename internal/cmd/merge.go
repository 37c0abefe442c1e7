package cmd

import (
	"fmt"

	gobatconfig "github.com/battysh/batty/internal/config"
	"github.com/battysh/batty/internal/mergequeue"
	"github.com/battysh/batty/internal/namer"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <phase> <run>",
	Short: "Manually merge and verify one run's branch",
	Long: `merge drives a single run's branch (batty/<phase>/<run>) through the
Merge Queue: a --no-ff merge into main, or on a conflict a rebase onto
main followed by a fast-forward merge, then the verify-command gate, which
resets main to its pre-merge head if the command fails. Useful for a run
the automatic queue never got to, e.g. after a crashed or dry-run session.`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	phase, run := args[0], args[1]
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg := gobatconfig.Get()

	branch := namer.SlotBranchName(phase, run)
	q := mergequeue.New(root, "main", cfg.Defaults.DodCommand, 3)
	q.Enqueue(mergequeue.Request{Agent: run, Branch: branch})

	result, err := q.ProcessNext()
	if err != nil {
		return withExitCode(1, err)
	}
	fmt.Printf("merged %s into main\n", result.Branch)
	return nil
}
