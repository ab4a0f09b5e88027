package local

import "fmt"

// ConfigError marks a missing or out-of-domain config field; fatal to the
// specific call, never auto-retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid local server configuration: %s %s", e.Field, e.Reason)
}

// ProcessError marks a spawn failure or an unexpected early exit of the local
// server process. It sets the instance status to error; it never crashes or
// hangs the manager.
type ProcessError struct {
	Op  string
	PID int
	Err error
}

func (e *ProcessError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("local server %s (pid %d): %v", e.Op, e.PID, e.Err)
	}
	return fmt.Sprintf("local server %s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
