package cmd

import (
	"fmt"
	"os"

	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/boardui"
	"github.com/battysh/batty/internal/sequencer"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var boardPrintDir bool

var boardCmd = &cobra.Command{
	Use:   "board <phase>",
	Short: "Browse a phase board interactively",
	Long: `board opens an interactive kanban-md browser for one phase: a task
list on the left, the selected task's rendered body on the right. With
--print-dir it skips the TUI and just prints the phase's kanban directory,
for scripting or piping into another tool.`,
	Args: cobra.ExactArgs(1),
	RunE: runBoard,
}

func init() {
	boardCmd.Flags().BoolVar(&boardPrintDir, "print-dir", false, "print the phase's kanban directory instead of opening the browser")
	rootCmd.AddCommand(boardCmd)
}

func runBoard(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	phase := args[0]

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

	if boardPrintDir || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(phaseDir)
		return nil
	}

	tasks, warnings, err := board.LoadTasksFromDir(phaseDir)
	if err != nil {
		return withExitCode(2, err)
	}
	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}

	if err := boardui.Run(phase, tasks); err != nil {
		return withExitCode(2, err)
	}
	return nil
}
