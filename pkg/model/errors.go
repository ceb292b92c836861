package model

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCommand is returned when a submission has no executable token.
	ErrEmptyCommand = errors.New("empty command")

	// ErrProcessGone reports that a signal target no longer exists.
	ErrProcessGone = errors.New("process gone")
)

// Exit codes used by the job shim when the command cannot be started.
const (
	ExitCodeExecFailed = 126
	ExitCodeNotFound   = 127
)

// ConfigError reports invalid startup configuration. It is fatal: the
// program exits before any process is spawned.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// LaunchError is returned when a job process cannot be created. No Job
// record exists for a failed launch.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExecError is raised inside a job process when the resolved executable
// fails to start. The process exits with Code.
type ExecError struct {
	Name string
	Code int
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("exec %s: %v", e.Name, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// SignalError reports a failed suspend/resume/terminate delivery.
type SignalError struct {
	PID    int
	Signal string
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal %s to %d: %v", e.Signal, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
