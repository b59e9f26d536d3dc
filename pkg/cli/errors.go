package cli

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/limits"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitConfig          = 2
	ExitCapacityTimeout = 3
	ExitExhausted       = 4
	ExitInterrupted     = 130
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *ConfigError
	var valErr config.ValidationError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &valErr):
		return ExitConfig
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, limits.ErrExhaustedRetries):
		return ExitExhausted
	case errors.Is(err, limits.ErrCapacityTimeout):
		return ExitCapacityTimeout
	default:
		return ExitFailure
	}
}
