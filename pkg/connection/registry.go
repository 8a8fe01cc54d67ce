package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Registry creates, caches and tears down connection handles. The cache key
// is (target, protocol, tunnel topology); concurrent requests for the same
// key block rather than racing to create duplicate handles, and command
// execution on one key is serialized.
type Registry struct {
	cfg       *Config
	factories map[string]Factory
	tunnels   *tunnelManager

	mu    sync.Mutex
	conns map[connKey]*entry
}

type connKey struct {
	target   string
	protocol string
	tunneled bool
}

// entry caches one handle per key. The tunnel reference belongs to the
// entry, not the handle: reconnecting a stale handle reuses the forward,
// and the reference is dropped only when the entry is evicted.
type entry struct {
	mu      sync.Mutex // serializes create/execute/release per key
	handle  Handle
	forward *Forward
}

// NewRegistry creates a registry over a parsed connection config with the
// built-in handle constructors registered.
func NewRegistry(cfg *Config) *Registry {
	r := &Registry{
		cfg:       cfg,
		factories: make(map[string]Factory),
		tunnels:   newTunnelManager(),
		conns:     make(map[connKey]*entry),
	}
	r.RegisterFactory(ProtocolLocal, func(name string, target *Target, settings Settings, forward *Forward) (Handle, error) {
		return NewLocalHandle(), nil
	})
	r.RegisterFactory(ProtocolSSH, func(name string, target *Target, settings Settings, forward *Forward) (Handle, error) {
		return NewSSHHandle(name, target, forward), nil
	})
	r.RegisterFactory(ProtocolRedfish, func(name string, target *Target, settings Settings, forward *Forward) (Handle, error) {
		return NewRedfishHandle(name, target, settings, forward), nil
	})
	return r
}

// RegisterFactory installs (or replaces) the handle constructor for a
// protocol. This is the extension point for new transport variants.
func (r *Registry) RegisterFactory(protocol string, f Factory) {
	r.factories[protocol] = f
}

// Conn is a borrowed connection. Steps use it for the duration of one
// execution call and never persist it.
type Conn struct {
	registry *Registry
	key      connKey
	entry    *entry
}

// Target returns the logical target name of the borrowed connection.
func (c *Conn) Target() string { return c.key.target }

// Protocol returns the protocol of the borrowed connection.
func (c *Conn) Protocol() string { return c.key.protocol }

// Acquire returns a cached live connection for the target and protocol, or
// establishes a new one. A stale cached handle is re-established at most
// once. For tunneled targets the local port-forward is set up (or reused)
// first.
func (r *Registry) Acquire(ctx context.Context, targetName, protocol string) (*Conn, error) {
	key, target, err := r.resolve(targetName, protocol)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	e, ok := r.conns[key]
	if !ok {
		e = &entry{}
		r.conns[key] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != nil {
		if e.handle.Alive() {
			return &Conn{registry: r, key: key, entry: e}, nil
		}
		// Stale: evict and re-establish once.
		e.handle.Disconnect()
		e.handle = nil
	}

	handle, err := r.establish(ctx, key, target, e)
	if err != nil {
		// Entry stays with a nil handle; the next Acquire retries.
		return nil, err
	}
	e.handle = handle
	return &Conn{registry: r, key: key, entry: e}, nil
}

// resolve normalizes the (target, protocol) pair and looks up the target.
func (r *Registry) resolve(targetName, protocol string) (connKey, *Target, error) {
	protocol = strings.ToLower(protocol)
	if protocol == ProtocolLocal || strings.EqualFold(targetName, "local") {
		return connKey{target: "local", protocol: ProtocolLocal}, nil, nil
	}
	if _, ok := r.factories[protocol]; !ok {
		return connKey{}, nil, &ConfigError{Target: targetName, Reason: fmt.Sprintf("unsupported connection type %q", protocol)}
	}
	target, ok := r.cfg.Target(targetName)
	if !ok {
		return connKey{}, nil, &ConfigError{Target: targetName, Reason: "not present in the connection config"}
	}
	return connKey{target: targetName, protocol: protocol, tunneled: target.Tunnel}, target, nil
}

// establish builds and connects a handle, layering it over a port-forward
// for tunneled targets. The tunnel reference is taken once per entry and
// reused across reconnects, so a stale-handle re-establish never inflates
// the forward's refcount. Never returns a half-initialized handle.
func (r *Registry) establish(ctx context.Context, key connKey, target *Target, e *entry) (Handle, error) {
	if key.tunneled && e.forward == nil {
		spec, ok := r.cfg.TunnelFor(key.target)
		if !ok {
			return nil, &ConfigError{Target: key.target, Field: key.target + "Tunnel", Reason: "tunnel enabled but no tunnel section found"}
		}
		forward, err := r.tunnels.acquire(key.target, key.protocol, spec, target)
		if err != nil {
			return nil, err
		}
		e.forward = forward
	}

	factory := r.factories[key.protocol]
	handle, err := factory(key.target, target, r.cfg.Settings, e.forward)
	if err == nil {
		err = handle.Connect(ctx)
	}
	if err != nil {
		// The forward and its reference stay with the entry for the retry.
		return nil, err
	}
	return handle, nil
}

// Execute runs a command on the borrowed connection, serialized with any
// other caller holding the same cache key. opts.Timeout is a hard cutoff;
// output matching a recognized error signature fails with CommandError even
// when the transport call succeeded.
func (c *Conn) Execute(ctx context.Context, command string, opts ExecOptions) (*Output, error) {
	c.entry.mu.Lock()
	defer c.entry.mu.Unlock()

	handle := c.entry.handle
	if handle == nil {
		return nil, &ConnectionError{Target: c.key.target, Protocol: c.key.protocol, Kind: KindUnreachable,
			Err: fmt.Errorf("connection was released")}
	}

	execCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	out, err := handle.Execute(execCtx, command, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Command: command, Seconds: opts.Timeout.Seconds()}
		}
		return nil, err
	}

	if sig := ScanForErrorSignature(out.Stdout, out.Stderr); sig != "" {
		return out, &CommandError{Command: command, Signature: sig}
	}
	return out, nil
}

// CheckAll probes every cached handle without side effects and reports
// health per "target/protocol" key.
func (r *Registry) CheckAll() map[string]bool {
	r.mu.Lock()
	snapshot := make(map[connKey]*entry, len(r.conns))
	for k, e := range r.conns {
		snapshot[k] = e
	}
	r.mu.Unlock()

	health := make(map[string]bool, len(snapshot))
	for k, e := range snapshot {
		e.mu.Lock()
		alive := e.handle != nil && e.handle.Alive()
		e.mu.Unlock()
		health[k.target+"/"+k.protocol] = alive
	}
	return health
}

// Release disconnects and evicts the cached handle for a (target, protocol)
// pair. Idempotent.
func (r *Registry) Release(targetName, protocol string) {
	key, _, err := r.resolve(targetName, protocol)
	if err != nil {
		return
	}

	r.mu.Lock()
	e, ok := r.conns[key]
	if ok {
		delete(r.conns, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.handle != nil {
		e.handle.Disconnect()
		e.handle = nil
	}
	hadForward := e.forward != nil
	e.forward = nil
	e.mu.Unlock()

	if hadForward {
		r.tunnels.release(key.target, key.protocol)
	}
}

// ReleaseAll disconnects and evicts every cached handle and tears down all
// forwards. Idempotent.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[connKey]*entry)
	r.mu.Unlock()

	for _, e := range conns {
		e.mu.Lock()
		if e.handle != nil {
			e.handle.Disconnect()
			e.handle = nil
		}
		e.mu.Unlock()
	}
	r.tunnels.closeAll()
}
