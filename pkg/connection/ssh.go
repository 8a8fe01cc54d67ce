package connection

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const sshDialTimeout = 30 * time.Second

// SSHHandle executes commands over an SSH session. For tunneled targets the
// address points at the local end of an established port-forward.
type SSHHandle struct {
	name     string
	addr     string
	username string
	password string

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHHandle creates an unconnected SSH handle for a target. When forward
// is non-nil the handle dials the forward's local address instead of the
// target's own.
func NewSSHHandle(name string, target *Target, forward *Forward) *SSHHandle {
	addr := fmt.Sprintf("%s:%d", target.Host, target.SSHPort)
	if forward != nil {
		addr = forward.LocalAddr()
	}
	return &SSHHandle{
		name:     name,
		addr:     addr,
		username: target.Username,
		password: target.Password,
	}
}

// Connect establishes the SSH transport, replacing any previous one.
func (h *SSHHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		h.client.Close()
		h.client = nil
	}

	cfg := &ssh.ClientConfig{
		User:            h.username,
		Auth:            []ssh.AuthMethod{ssh.Password(h.password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}
	client, err := ssh.Dial("tcp", h.addr, cfg)
	if err != nil {
		kind := KindUnreachable
		if strings.Contains(err.Error(), "unable to authenticate") {
			kind = KindAuthFailure
		}
		return &ConnectionError{Target: h.name, Protocol: ProtocolSSH, Kind: kind, Err: err}
	}
	h.client = client
	return nil
}

// Disconnect closes the SSH transport. Idempotent.
func (h *SSHHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return nil
	}
	err := h.client.Close()
	h.client = nil
	return err
}

// Alive probes the transport with an SSH keepalive request.
func (h *SSHHandle) Alive() bool {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return false
	}
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// Execute runs a command in a fresh session on the established transport.
func (h *SSHHandle) Execute(ctx context.Context, command string, opts ExecOptions) (*Output, error) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return nil, &ConnectionError{Target: h.name, Protocol: ProtocolSSH, Kind: KindUnreachable, Err: fmt.Errorf("not connected")}
	}

	if opts.UseSudo {
		command = "sudo -n " + command
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Target: h.name, Protocol: ProtocolSSH, Kind: KindUnreachable, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Close()
		<-done
		return nil, ctx.Err()
	}

	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			out.ExitCode = exitErr.ExitStatus()
			return out, nil
		}
		return nil, &ConnectionError{Target: h.name, Protocol: ProtocolSSH, Kind: KindUnreachable, Err: err}
	}
	return out, nil
}
