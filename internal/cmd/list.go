package cmd

import (
	"fmt"

	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/sequencer"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"board-list"},
	Short:   "List runnable phases and their task counts",
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	disc, err := sequencer.DiscoverPhases(root)
	if err != nil {
		return withExitCode(2, err)
	}

	for _, c := range disc.Selected {
		tasks, _, err := board.LoadTasksFromDir(c.Directory)
		if err != nil {
			return withExitCode(2, err)
		}
		done := 0
		for _, t := range tasks {
			if t.Status == dag.StatusCompleted {
				done++
			}
		}
		fmt.Printf("%-20s %3d/%3d done  %s\n", c.Name, done, len(tasks), c.Directory)
	}

	for _, d := range disc.Decisions {
		if !d.Selected {
			fmt.Printf("%-20s skipped: %s\n", d.Phase, d.Reason)
		}
	}
	return nil
}
