// Package config loads batty's project configuration from config.toml.
// The on-disk layout mirrors the reference implementation's TOML sections:
// [defaults], [supervisor], [detector], [dangerous_mode], [policy.auto_answer]
// and [director].
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is batty's complete project configuration.
type Config struct {
	Defaults      DefaultsConfig      `mapstructure:"defaults"`
	Supervisor    SupervisorConfig    `mapstructure:"supervisor"`
	Detector      DetectorConfig      `mapstructure:"detector"`
	DangerousMode DangerousModeConfig `mapstructure:"dangerous_mode"`
	Policy        PolicyConfig        `mapstructure:"policy"`
	Director      DirectorConfig      `mapstructure:"director"`
}

// DefaultsConfig holds the fallback agent/policy/DoD selections applied to
// every task unless overridden by that task's "## Batty Config" section.
type DefaultsConfig struct {
	// Agent is the agent adapter family: "claude", "codex", or "aider".
	Agent string `mapstructure:"agent"`
	// Policy is the auto-answer tier: "observe", "suggest", "act", or "fully_auto".
	Policy string `mapstructure:"policy"`
	// DodCommand is the shell command run to verify a task's definition of done.
	DodCommand string `mapstructure:"dod_command"`
	// MaxRetries is loaded and validated as non-negative. No run path reads
	// it: a rework decision ends the phase as failed, with no retry cycle.
	MaxRetries int `mapstructure:"max_retries"`
}

// SupervisorConfig controls the Tier-2 supervisor delegation process.
type SupervisorConfig struct {
	// Command is the executable invoked to answer escalated prompts.
	Command string `mapstructure:"command"`
	// TimeoutSeconds bounds a single supervisor invocation.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxRetries bounds retry attempts on supervisor failure.
	MaxRetries int `mapstructure:"max_retries"`
	// ProjectDocs lists files whose contents are prepended to escalation context.
	ProjectDocs []string `mapstructure:"project_docs"`
}

// DetectorConfig tunes the Prompt Detector's pattern+timing heuristics.
type DetectorConfig struct {
	// IdleMillis is how long output must be silent before a prompt is
	// considered settled.
	IdleMillis int `mapstructure:"idle_millis"`
	// PollMillis is the Event Buffer's capture poll interval.
	PollMillis int `mapstructure:"poll_millis"`
}

// DangerousModeConfig controls whether agents are spawned with their
// approval-skipping flag (e.g. --dangerously-skip-permissions).
type DangerousModeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PolicyConfig holds the substring-keyed auto-answer table.
type PolicyConfig struct {
	AutoAnswer map[string]string `mapstructure:"auto_answer"`
}

// DirectorConfig holds the [director] section. It is loaded and validated,
// but no package reads it: no director process is ever invoked.
type DirectorConfig struct {
	Command        string `mapstructure:"command"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Default returns a Config populated with batty's built-in defaults.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Agent:      "claude",
			Policy:     "suggest",
			DodCommand: "",
			MaxRetries: 3,
		},
		Supervisor: SupervisorConfig{
			Command:        "",
			TimeoutSeconds: 60,
			MaxRetries:     2,
			ProjectDocs:    []string{},
		},
		Detector: DetectorConfig{
			IdleMillis: 800,
			PollMillis: 200,
		},
		DangerousMode: DangerousModeConfig{
			Enabled: false,
		},
		Policy: PolicyConfig{
			AutoAnswer: map[string]string{},
		},
		Director: DirectorConfig{
			Command:        "",
			TimeoutSeconds: 30,
		},
	}
}

// SupervisorTimeout returns the supervisor call timeout as a time.Duration.
func (c *SupervisorConfig) SupervisorTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IdleDuration returns the detector idle threshold as a time.Duration.
func (c *DetectorConfig) IdleDuration() time.Duration {
	return time.Duration(c.IdleMillis) * time.Millisecond
}

// PollInterval returns the event buffer poll interval as a time.Duration.
func (c *DetectorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollMillis) * time.Millisecond
}

// DirectorTimeout returns the director call timeout as a time.Duration.
func (c *DirectorConfig) DirectorTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SetDefaults registers batty's default values with viper so they apply
// even when no config.toml is present.
func SetDefaults() {
	d := Default()

	viper.SetDefault("defaults.agent", d.Defaults.Agent)
	viper.SetDefault("defaults.policy", d.Defaults.Policy)
	viper.SetDefault("defaults.dod_command", d.Defaults.DodCommand)
	viper.SetDefault("defaults.max_retries", d.Defaults.MaxRetries)

	viper.SetDefault("supervisor.command", d.Supervisor.Command)
	viper.SetDefault("supervisor.timeout_seconds", d.Supervisor.TimeoutSeconds)
	viper.SetDefault("supervisor.max_retries", d.Supervisor.MaxRetries)
	viper.SetDefault("supervisor.project_docs", d.Supervisor.ProjectDocs)

	viper.SetDefault("detector.idle_millis", d.Detector.IdleMillis)
	viper.SetDefault("detector.poll_millis", d.Detector.PollMillis)

	viper.SetDefault("dangerous_mode.enabled", d.DangerousMode.Enabled)

	viper.SetDefault("policy.auto_answer", d.Policy.AutoAnswer)

	viper.SetDefault("director.command", d.Director.Command)
	viper.SetDefault("director.timeout_seconds", d.Director.TimeoutSeconds)
}

// Load reads the configuration from viper into a Config struct and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns batty's per-project config directory, ".batty"
// relative to the resolved project root.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".batty")
}

// ConfigFile returns the path to config.toml within dir.
func ConfigFile(dir string) string {
	return filepath.Join(dir, "config.toml")
}

// FindConfigFile walks upward from startDir looking for a .batty/config.toml,
// mirroring the reference implementation's directory-walk resolution.
// Returns "" if none is found before reaching the filesystem root.
func FindConfigFile(startDir string) string {
	dir := startDir
	for {
		candidate := ConfigFile(ConfigDir(dir))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ValidPolicies returns the four auto-answer policy tiers, in ascending
// order of autonomy.
func ValidPolicies() []string {
	return []string{"observe", "suggest", "act", "fully_auto"}
}

// IsValidPolicy reports whether policy names one of ValidPolicies.
func IsValidPolicy(policy string) bool {
	for _, p := range ValidPolicies() {
		if policy == p {
			return true
		}
	}
	return false
}

// ValidAgents returns the supported agent adapter family names.
func ValidAgents() []string {
	return []string{"claude", "codex", "aider"}
}

// IsValidAgent reports whether agent names a supported adapter family.
func IsValidAgent(agent string) bool {
	for _, a := range ValidAgents() {
		if agent == a {
			return true
		}
	}
	return false
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
