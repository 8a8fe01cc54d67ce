package connection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeHandle is a scriptable in-memory handle for registry tests.
type fakeHandle struct {
	mu         sync.Mutex
	connects   int
	executes   int
	alive      bool
	connectErr error
	stdout     string
	execDelay  time.Duration
}

func (f *fakeHandle) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.alive = true
	return nil
}

func (f *fakeHandle) Execute(ctx context.Context, command string, opts ExecOptions) (*Output, error) {
	f.mu.Lock()
	f.executes++
	delay := f.execDelay
	stdout := f.stdout
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if stdout == "" {
		stdout = "ran: " + command
	}
	return &Output{Stdout: stdout}, nil
}

func (f *fakeHandle) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

func (f *fakeHandle) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func testConfig() *Config {
	return &Config{
		Targets: map[string]*Target{
			"NodeManager": {Host: "10.0.0.5", SSHPort: 22, RedfishPort: 443, Username: "root", Password: "secret"},
		},
	}
}

func newTestRegistry(handles map[string]*fakeHandle) *Registry {
	r := NewRegistry(testConfig())
	r.RegisterFactory(ProtocolSSH, func(name string, target *Target, settings Settings, forward *Forward) (Handle, error) {
		return handles[name], nil
	})
	return r
}

func TestAcquireCachesHandle(t *testing.T) {
	h := &fakeHandle{}
	r := newTestRegistry(map[string]*fakeHandle{"NodeManager": h})
	ctx := context.Background()

	c1, err := r.Acquire(ctx, "NodeManager", "ssh")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	c2, err := r.Acquire(ctx, "NodeManager", "ssh")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if c1.entry != c2.entry {
		t.Error("second acquire should reuse the cached handle")
	}
	if h.connects != 1 {
		t.Errorf("connects = %d, want 1 (no duplicate session creation)", h.connects)
	}
}

func TestAcquireReconnectsStaleHandle(t *testing.T) {
	h := &fakeHandle{}
	r := newTestRegistry(map[string]*fakeHandle{"NodeManager": h})
	ctx := context.Background()

	if _, err := r.Acquire(ctx, "NodeManager", "ssh"); err != nil {
		t.Fatal(err)
	}
	// Simulate a dropped transport.
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()

	if _, err := r.Acquire(ctx, "NodeManager", "ssh"); err != nil {
		t.Fatalf("reacquire after stale: %v", err)
	}
	if h.connects != 2 {
		t.Errorf("connects = %d, want 2 (single transparent reconnect)", h.connects)
	}
}

func TestAcquireUnknownTarget(t *testing.T) {
	r := newTestRegistry(map[string]*fakeHandle{})
	_, err := r.Acquire(context.Background(), "Ghost", "ssh")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
}

func TestAcquireConnectionFailure(t *testing.T) {
	h := &fakeHandle{connectErr: &ConnectionError{Target: "NodeManager", Protocol: "ssh", Kind: KindUnreachable, Err: errors.New("dial tcp: timeout")}}
	r := newTestRegistry(map[string]*fakeHandle{"NodeManager": h})

	_, err := r.Acquire(context.Background(), "NodeManager", "ssh")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *ConnectionError", err)
	}
	if connErr.Kind != KindUnreachable {
		t.Errorf("Kind = %q, want %q", connErr.Kind, KindUnreachable)
	}

	// A later acquire retries after the failure.
	h.mu.Lock()
	h.connectErr = nil
	h.mu.Unlock()
	if _, err := r.Acquire(context.Background(), "NodeManager", "ssh"); err != nil {
		t.Fatalf("retry after failed establish: %v", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	h := &fakeHandle{execDelay: 200 * time.Millisecond}
	r := newTestRegistry(map[string]*fakeHandle{"NodeManager": h})

	conn, err := r.Acquire(context.Background(), "NodeManager", "ssh")
	if err != nil {
		t.Fatal(err)
	}
	_, err = conn.Execute(context.Background(), "sleepy", ExecOptions{Timeout: 20 * time.Millisecond})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
}

func TestExecuteErrorSignature(t *testing.T) {
	h := &fakeHandle{stdout: "flashtool: Segmentation Fault while writing bank 0"}
	r := newTestRegistry(map[string]*fakeHandle{"NodeManager": h})

	conn, err := r.Acquire(context.Background(), "NodeManager", "ssh")
	if err != nil {
		t.Fatal(err)
	}
	out, err := conn.Execute(context.Background(), "flash", ExecOptions{})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if out == nil || !strings.Contains(out.Stdout, "Segmentation Fault") {
		t.Error("output should still be returned alongside CommandError")
	}
}

func TestExecuteSerializedPerKey(t *testing.T) {
	h := &fakeHandle{execDelay: 50 * time.Millisecond}
	r := newTestRegistry(map[string]*fakeHandle{"NodeManager": h})
	ctx := context.Background()

	conn, err := r.Acquire(ctx, "NodeManager", "ssh")
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := conn.Execute(ctx, "probe", ExecOptions{}); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("3 executions finished in %v; same-key calls must serialize", elapsed)
	}
}

func TestCheckAllSideEffectFree(t *testing.T) {
	h := &fakeHandle{}
	r := newTestRegistry(map[string]*fakeHandle{"NodeManager": h})

	if _, err := r.Acquire(context.Background(), "NodeManager", "ssh"); err != nil {
		t.Fatal(err)
	}
	connectsBefore := h.connects

	health := r.CheckAll()
	if !health["NodeManager/ssh"] {
		t.Error("live handle reported unhealthy")
	}
	if h.connects != connectsBefore {
		t.Error("CheckAll must not reconnect")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	h := &fakeHandle{}
	r := newTestRegistry(map[string]*fakeHandle{"NodeManager": h})

	if _, err := r.Acquire(context.Background(), "NodeManager", "ssh"); err != nil {
		t.Fatal(err)
	}
	r.Release("NodeManager", "ssh")
	r.Release("NodeManager", "ssh") // no-op
	if h.Alive() {
		t.Error("released handle should be disconnected")
	}

	// Reacquire after release establishes a fresh handle.
	if _, err := r.Acquire(context.Background(), "NodeManager", "ssh"); err != nil {
		t.Fatal(err)
	}
	if h.connects != 2 {
		t.Errorf("connects = %d, want 2", h.connects)
	}
	r.ReleaseAll()
	r.ReleaseAll() // no-op
	if h.Alive() {
		t.Error("ReleaseAll should disconnect cached handles")
	}
}

func TestLocalAcquireNeedsNoConfig(t *testing.T) {
	r := NewRegistry(&Config{Targets: map[string]*Target{}})
	conn, err := r.Acquire(context.Background(), "local", "local")
	if err != nil {
		t.Fatalf("local acquire: %v", err)
	}
	out, err := conn.Execute(context.Background(), "echo hello", ExecOptions{})
	if err != nil {
		t.Fatalf("local execute: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", out.Stdout)
	}
}
