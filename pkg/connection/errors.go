package connection

import "fmt"

// ConnectionError kinds.
const (
	KindUnreachable = "unreachable"
	KindAuthFailure = "auth-failure"
	KindTunnelSetup = "tunnel-setup-failure"
)

// ConfigError reports bad or missing connection configuration. Fatal: the
// run aborts before any step executes.
type ConfigError struct {
	Target string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("connection config for %q: missing or invalid %s: %s", e.Target, e.Field, e.Reason)
	}
	return fmt.Sprintf("connection config for %q: %s", e.Target, e.Reason)
}

// ConnectionError reports a failure to establish or use a connection.
// Fails the step, not the whole run.
type ConnectionError struct {
	Target   string
	Protocol string
	Kind     string // unreachable, auth-failure, tunnel-setup-failure
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection to %q failed (%s): %v", e.Protocol, e.Target, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a recognized failure signature in otherwise
// successful command output. Detection is exit-code-independent.
type CommandError struct {
	Command   string
	Signature string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q output matched error signature %q", e.Command, e.Signature)
}

// TimeoutError reports that a command exceeded its hard cutoff.
type TimeoutError struct {
	Command string
	Seconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q exceeded timeout of %.0fs", e.Command, e.Seconds)
}
