package connection

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Forward is a local port-forward to a target through an intermediate
// agent: local listener → SSH connection to the agent → target host:port.
// Forwards are reference-counted by the tunnel manager and torn down only
// when no cached handle depends on them.
type Forward struct {
	localAddr  string
	remoteAddr string
	client     *ssh.Client
	listener   net.Listener

	mu     sync.Mutex
	closed bool
}

// LocalAddr returns the local endpoint handles should dial.
func (f *Forward) LocalAddr() string { return f.localAddr }

// openForward connects to the agent and starts accepting local connections.
func openForward(name string, spec *TunnelSpec, target *Target, localPort, remotePort int) (*Forward, error) {
	agentPort := spec.AgentPort
	if agentPort == 0 {
		agentPort = 22
	}
	localHost := spec.LocalHost
	if localHost == "" {
		localHost = "localhost"
	}

	cfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}
	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", spec.AgentHost, agentPort), cfg)
	if err != nil {
		return nil, &ConnectionError{Target: name, Protocol: "tunnel", Kind: KindTunnelSetup, Err: err}
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", localHost, localPort))
	if err != nil {
		client.Close()
		return nil, &ConnectionError{Target: name, Protocol: "tunnel", Kind: KindTunnelSetup, Err: err}
	}

	f := &Forward{
		localAddr:  listener.Addr().String(),
		remoteAddr: fmt.Sprintf("%s:%d", target.Host, remotePort),
		client:     client,
		listener:   listener,
	}
	go f.acceptLoop()
	return f, nil
}

func (f *Forward) acceptLoop() {
	for {
		local, err := f.listener.Accept()
		if err != nil {
			return // listener closed
		}
		go f.pipe(local)
	}
}

func (f *Forward) pipe(local net.Conn) {
	remote, err := f.client.Dial("tcp", f.remoteAddr)
	if err != nil {
		local.Close()
		return
	}
	go func() {
		io.Copy(remote, local)
		remote.Close()
	}()
	io.Copy(local, remote)
	local.Close()
}

// Close tears the forward down. Idempotent.
func (f *Forward) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.listener != nil {
		f.listener.Close()
	}
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// tunnelManager reference-counts forwards per (target, protocol).
type tunnelManager struct {
	mu      sync.Mutex
	entries map[string]*forwardEntry
}

type forwardEntry struct {
	forward *Forward
	refs    int
}

func newTunnelManager() *tunnelManager {
	return &tunnelManager{entries: make(map[string]*forwardEntry)}
}

// acquire returns an established forward for the target and protocol,
// reusing a live one when present.
func (tm *tunnelManager) acquire(name, protocol string, spec *TunnelSpec, target *Target) (*Forward, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	key := name + "/" + protocol
	if e, ok := tm.entries[key]; ok {
		e.refs++
		return e.forward, nil
	}

	var localPort, remotePort int
	switch protocol {
	case ProtocolSSH:
		localPort, remotePort = spec.SSHLocalPort, target.SSHPort
	case ProtocolRedfish:
		localPort, remotePort = spec.RedfishLocalPort, target.RedfishPort
	default:
		return nil, &ConnectionError{Target: name, Protocol: protocol, Kind: KindTunnelSetup,
			Err: fmt.Errorf("protocol %q cannot be tunneled", protocol)}
	}

	f, err := openForward(name, spec, target, localPort, remotePort)
	if err != nil {
		return nil, err
	}
	// Give the listener a moment before the first dial.
	time.Sleep(100 * time.Millisecond)

	tm.entries[key] = &forwardEntry{forward: f, refs: 1}
	return f, nil
}

// release drops one reference and tears the forward down at zero.
func (tm *tunnelManager) release(name, protocol string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	key := name + "/" + protocol
	e, ok := tm.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		e.forward.Close()
		delete(tm.entries, key)
	}
}

// closeAll tears down every forward regardless of reference count.
func (tm *tunnelManager) closeAll() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for key, e := range tm.entries {
		e.forward.Close()
		delete(tm.entries, key)
	}
}
