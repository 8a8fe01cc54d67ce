package connection

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// LocalHandle executes commands on the host running the engine.
type LocalHandle struct{}

// NewLocalHandle creates a handle for local command execution.
func NewLocalHandle() *LocalHandle {
	return &LocalHandle{}
}

func (h *LocalHandle) Connect(ctx context.Context) error { return nil }

func (h *LocalHandle) Disconnect() error { return nil }

func (h *LocalHandle) Alive() bool { return true }

// Execute runs the command through the local shell. UseSudo prefixes
// non-interactive sudo.
func (h *LocalHandle) Execute(ctx context.Context, command string, opts ExecOptions) (*Output, error) {
	if opts.UseSudo {
		command = "sudo -n " + command
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, err
	}
	return out, nil
}
