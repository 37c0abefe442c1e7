package cmd

import (
	"encoding/json"
	"fmt"

	gobatconfig "github.com/battysh/batty/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configJSON bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective project configuration",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configJSON, "json", false, "print the configuration as JSON")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := gobatconfig.Get()

	if configJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return withExitCode(2, err)
		}
		return nil
	}

	if viper.ConfigFileUsed() != "" {
		fmt.Println("config file:", viper.ConfigFileUsed())
	} else {
		fmt.Println("config file: (none - using defaults)")
	}
	fmt.Println()
	fmt.Println("defaults:")
	fmt.Println("  agent:", cfg.Defaults.Agent)
	fmt.Println("  policy:", cfg.Defaults.Policy)
	fmt.Println("  dod_command:", cfg.Defaults.DodCommand)
	fmt.Println("  max_retries:", cfg.Defaults.MaxRetries)
	fmt.Println("supervisor:")
	fmt.Println("  command:", cfg.Supervisor.Command)
	fmt.Println("  timeout_seconds:", cfg.Supervisor.TimeoutSeconds)
	fmt.Println("  max_retries:", cfg.Supervisor.MaxRetries)
	fmt.Println("detector:")
	fmt.Println("  idle_millis:", cfg.Detector.IdleDuration())
	fmt.Println("  poll_interval:", cfg.Detector.PollInterval())
	fmt.Println("dangerous_mode:")
	fmt.Println("  enabled:", cfg.DangerousMode.Enabled)
	return nil
}
