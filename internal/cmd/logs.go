package cmd

import (
	"fmt"
	"os"

	"github.com/battysh/batty/internal/logging"
	"github.com/spf13/cobra"
)

var (
	logsLevel    string
	logsAgent    string
	logsPhase    string
	logsContains string
	logsFormat   string
	logsOutput   string
)

var logsCmd = &cobra.Command{
	Use:   "logs <run>",
	Short: "Aggregate and filter a run's structured debug log",
	Long: `logs reads .batty/logs/<run>/debug.log, written by the Logger
(internal/logging) as one JSON object per line, and lets you filter it by
level, agent, phase, or message substring before printing or exporting it.
Unlike "batty board" or "batty list", this inspects the diagnostic log, not
the execution log (internal/execlog) or the kanban task boards.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level to include (DEBUG, INFO, WARN, ERROR)")
	logsCmd.Flags().StringVar(&logsAgent, "agent", "", "filter to entries from this agent")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "filter to entries from this phase")
	logsCmd.Flags().StringVar(&logsContains, "contains", "", "filter to entries whose message contains this substring")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "output format when exporting: json, text, or csv")
	logsCmd.Flags().StringVar(&logsOutput, "output", "", "write the filtered entries to this file instead of stdout")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	runID := args[0]

	entries, err := logging.AggregateLogs(logDir(root, runID))
	if err != nil {
		return withExitCode(2, err)
	}

	filtered := logging.FilterLogs(entries, logging.LogFilter{
		Level:           logsLevel,
		AgentName:       logsAgent,
		Phase:           logsPhase,
		MessageContains: logsContains,
	})

	if logsOutput != "" {
		if err := logging.ExportLogEntries(filtered, logsOutput, logsFormat); err != nil {
			return withExitCode(2, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(filtered), logsOutput)
		return nil
	}

	return writeLogEntries(cmd, filtered, logsFormat)
}

// writeLogEntries exports to a temp file and streams it to out, reusing
// ExportLogEntries' format handling instead of duplicating it for the
// stdout case.
func writeLogEntries(cmd *cobra.Command, entries []logging.LogEntry, format string) error {
	tmp, err := os.CreateTemp("", "batty-logs-*")
	if err != nil {
		return withExitCode(2, err)
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(path)

	if err := logging.ExportLogEntries(entries, path, format); err != nil {
		return withExitCode(2, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return withExitCode(2, err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
