package connection

import (
	"context"
	"sort"
)

// DiscoveryResult records one probe of a (target, protocol) combination.
type DiscoveryResult struct {
	Target    string `json:"target"`
	Protocol  string `json:"protocol"`
	Tunneled  bool   `json:"tunneled,omitempty"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// Discover probes every configured target with every protocol its config
// supports and reports reachability. Handles established during discovery
// are released before returning.
func (r *Registry) Discover(ctx context.Context) []DiscoveryResult {
	names := make([]string, 0, len(r.cfg.Targets))
	for name := range r.cfg.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []DiscoveryResult
	for _, name := range names {
		target := r.cfg.Targets[name]
		var protocols []string
		if target.SSHPort > 0 {
			protocols = append(protocols, ProtocolSSH)
		}
		if target.RedfishPort > 0 {
			protocols = append(protocols, ProtocolRedfish)
		}
		for _, protocol := range protocols {
			res := DiscoveryResult{Target: name, Protocol: protocol, Tunneled: target.Tunnel}
			if _, err := r.Acquire(ctx, name, protocol); err != nil {
				res.Error = err.Error()
			} else {
				res.Reachable = true
				r.Release(name, protocol)
			}
			results = append(results, res)
		}
	}
	return results
}
