// Package connection creates, types, caches, health-checks and tears down
// connection handles for direct and tunneled SSH, Redfish and local
// execution paths.
package connection

import (
	"context"
	"time"
)

// Protocols.
const (
	ProtocolLocal   = "local"
	ProtocolSSH     = "ssh"
	ProtocolRedfish = "redfish"
)

// Output is the result of one command execution or Redfish request.
type Output struct {
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	ExitCode   int           `json:"exit_code"`
	StatusCode int           `json:"status_code,omitempty"` // Redfish only
	Duration   time.Duration `json:"duration"`
}

// ExecOptions modify how a command is executed on a handle.
type ExecOptions struct {
	UseSudo bool
	Timeout time.Duration
}

// Handle is a live connection resource. Handles are owned exclusively by
// the Registry; steps borrow one for the duration of a single execution
// call and never persist it.
type Handle interface {
	// Connect establishes the underlying transport. Calling Connect on an
	// already-connected handle re-establishes it.
	Connect(ctx context.Context) error
	// Execute runs a command (or issues a Redfish request) and returns its
	// output. It must honor ctx cancellation and deadline.
	Execute(ctx context.Context, command string, opts ExecOptions) (*Output, error)
	// Disconnect releases the transport. Idempotent.
	Disconnect() error
	// Alive reports whether the handle is believed usable, without side
	// effects beyond a lightweight probe.
	Alive() bool
}

// Factory constructs an unconnected handle for a target. forward is non-nil
// when the target must be reached through an established local port-forward
// instead of its direct address.
type Factory func(name string, target *Target, settings Settings, forward *Forward) (Handle, error)
