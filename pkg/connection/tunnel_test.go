package connection

import (
	"context"
	"testing"
)

func forwardClosed(f *Forward) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestTunnelManagerRefcounting(t *testing.T) {
	tm := newTunnelManager()
	fwd := &Forward{}
	tm.entries["NodeManager/ssh"] = &forwardEntry{forward: fwd, refs: 1}

	got, err := tm.acquire("NodeManager", "ssh", nil, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got != fwd {
		t.Fatal("acquire did not reuse the live forward")
	}
	if refs := tm.entries["NodeManager/ssh"].refs; refs != 2 {
		t.Fatalf("refs = %d after reuse, want 2", refs)
	}

	tm.release("NodeManager", "ssh")
	if refs := tm.entries["NodeManager/ssh"].refs; refs != 1 {
		t.Fatalf("refs = %d after first release, want 1", refs)
	}
	if forwardClosed(fwd) {
		t.Fatal("forward closed while a reference remained")
	}

	tm.release("NodeManager", "ssh")
	if _, ok := tm.entries["NodeManager/ssh"]; ok {
		t.Fatal("entry not removed at refcount zero")
	}
	if !forwardClosed(fwd) {
		t.Fatal("forward not closed at refcount zero")
	}

	// Releasing an absent key is a no-op.
	tm.release("NodeManager", "ssh")
}

func tunneledTestRegistry(fake *fakeHandle) (*Registry, *Forward) {
	cfg := &Config{
		Targets: map[string]*Target{
			"NodeManager": {Host: "10.0.0.5", SSHPort: 22, Username: "root", Password: "secret", Tunnel: true},
		},
		Tunnels: map[string]*TunnelSpec{
			"NodeManager": {AgentHost: "jump.lab", SSHLocalPort: 2222},
		},
	}
	r := NewRegistry(cfg)
	r.RegisterFactory(ProtocolSSH, func(name string, target *Target, settings Settings, forward *Forward) (Handle, error) {
		return fake, nil
	})
	fwd := &Forward{}
	r.tunnels.entries["NodeManager/ssh"] = &forwardEntry{forward: fwd, refs: 0}
	return r, fwd
}

func TestTunnelRefSurvivesStaleReconnect(t *testing.T) {
	fake := &fakeHandle{}
	r, fwd := tunneledTestRegistry(fake)
	ctx := context.Background()

	if _, err := r.Acquire(ctx, "NodeManager", "ssh"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if refs := r.tunnels.entries["NodeManager/ssh"].refs; refs != 1 {
		t.Fatalf("refs = %d after first establish, want 1", refs)
	}

	// Stale handle: the reconnect must reuse the forward, not re-count it.
	fake.mu.Lock()
	fake.alive = false
	fake.mu.Unlock()
	if _, err := r.Acquire(ctx, "NodeManager", "ssh"); err != nil {
		t.Fatalf("Acquire after stale: %v", err)
	}
	if fake.connects != 2 {
		t.Fatalf("connects = %d, want 2 (stale handle re-established)", fake.connects)
	}
	if refs := r.tunnels.entries["NodeManager/ssh"].refs; refs != 1 {
		t.Fatalf("refs = %d after reconnect, want 1", refs)
	}

	r.Release("NodeManager", "ssh")
	if _, ok := r.tunnels.entries["NodeManager/ssh"]; ok {
		t.Fatal("forward still tracked after the only dependent handle was released")
	}
	if !forwardClosed(fwd) {
		t.Fatal("forward not closed after release")
	}
}
