package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateDefaults()...)
	errs = append(errs, c.validateSupervisor()...)
	errs = append(errs, c.validateDetector()...)
	errs = append(errs, c.validateDirector()...)
	return errs
}

func (c *Config) validateDefaults() []ValidationError {
	var errs []ValidationError

	if c.Defaults.Agent != "" && !IsValidAgent(c.Defaults.Agent) {
		errs = append(errs, ValidationError{
			Field:   "defaults.agent",
			Value:   c.Defaults.Agent,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidAgents(), ", ")),
		})
	}

	if c.Defaults.Policy != "" && !IsValidPolicy(c.Defaults.Policy) {
		errs = append(errs, ValidationError{
			Field:   "defaults.policy",
			Value:   c.Defaults.Policy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPolicies(), ", ")),
		})
	}

	if c.Defaults.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "defaults.max_retries",
			Value:   c.Defaults.MaxRetries,
			Message: "must be non-negative",
		})
	}

	return errs
}

func (c *Config) validateSupervisor() []ValidationError {
	var errs []ValidationError

	if c.Supervisor.TimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "supervisor.timeout_seconds",
			Value:   c.Supervisor.TimeoutSeconds,
			Message: "must be positive",
		})
	}
	if c.Supervisor.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "supervisor.max_retries",
			Value:   c.Supervisor.MaxRetries,
			Message: "must be non-negative",
		})
	}

	return errs
}

func (c *Config) validateDetector() []ValidationError {
	var errs []ValidationError

	const minIdle = 50
	const minPoll = 10

	if c.Detector.IdleMillis < minIdle {
		errs = append(errs, ValidationError{
			Field:   "detector.idle_millis",
			Value:   c.Detector.IdleMillis,
			Message: fmt.Sprintf("must be at least %dms", minIdle),
		})
	}
	if c.Detector.PollMillis < minPoll {
		errs = append(errs, ValidationError{
			Field:   "detector.poll_millis",
			Value:   c.Detector.PollMillis,
			Message: fmt.Sprintf("must be at least %dms", minPoll),
		})
	}
	if c.Detector.PollMillis > c.Detector.IdleMillis {
		errs = append(errs, ValidationError{
			Field:   "detector.poll_millis",
			Value:   c.Detector.PollMillis,
			Message: "should not exceed detector.idle_millis, or prompt settling will be missed between polls",
		})
	}

	return errs
}

func (c *Config) validateDirector() []ValidationError {
	var errs []ValidationError

	if c.Director.Command != "" && c.Director.TimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "director.timeout_seconds",
			Value:   c.Director.TimeoutSeconds,
			Message: "must be positive when director.command is set",
		})
	}

	return errs
}
