// Package cmd implements batty's command-line surface: work, attach,
// resume, board, config, install, and remove.
package cmd

import (
	"path/filepath"
	"strings"

	"github.com/battysh/batty/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "batty",
	Short: "Supervised coding-agent execution runtime",
	Long: `batty launches coding-agent CLIs (Claude Code, Codex, Aider) inside
tmux, detects their prompts, auto-answers or escalates to a supervisor
process, and coordinates multi-phase parallel workflows through a
serialized merge queue.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: .batty/config.toml, resolved by walking up from cwd)")
	rootCmd.PersistentFlags().Bool("dangerous", false, "spawn agents with their approval-skipping flag")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("dangerous_mode.enabled", rootCmd.PersistentFlags().Lookup("dangerous"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
		if found := config.FindConfigFile("."); found != "" {
			viper.AddConfigPath(filepath.Dir(found))
		}
		viper.AddConfigPath(".batty")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BATTY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
