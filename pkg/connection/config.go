package connection

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Settings holds run-wide connection options from the "Connection" section.
type Settings struct {
	UseSSL bool `json:"use_ssl"`
}

// Target is one logical connection target (e.g. "NodeManager"). Immutable
// once loaded.
type Target struct {
	Host        string `json:"host"`
	SSHPort     int    `json:"ssh_port,omitempty"`
	RedfishPort int    `json:"redfish_port,omitempty"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Tunnel      bool   `json:"tunnel,omitempty"`
}

// TunnelSpec configures the local port-forward through an intermediate
// agent for one target. Declared in a section named "<Target>Tunnel".
type TunnelSpec struct {
	AgentHost        string `json:"agent_host"`
	AgentPort        int    `json:"agent_port,omitempty"`
	LocalHost        string `json:"local_host,omitempty"`
	SSHLocalPort     int    `json:"ssh_local_port,omitempty"`
	RedfishLocalPort int    `json:"redfish_local_port,omitempty"`
}

// Config is the parsed connection configuration file. Sections are keyed by
// logical target name; the reserved "Connection" section holds run-wide
// settings and "<Name>Tunnel" sections attach a tunnel to target Name.
type Config struct {
	Settings Settings
	Targets  map[string]*Target
	Tunnels  map[string]*TunnelSpec
}

// UnmarshalJSON splits the flat section map into settings, targets and
// tunnel specs.
func (c *Config) UnmarshalJSON(data []byte) error {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return err
	}

	c.Targets = make(map[string]*Target)
	c.Tunnels = make(map[string]*TunnelSpec)

	for name, raw := range sections {
		switch {
		case name == "Connection":
			if err := json.Unmarshal(raw, &c.Settings); err != nil {
				return fmt.Errorf("section %q: %w", name, err)
			}
		case strings.HasSuffix(name, "Tunnel") && name != "Tunnel":
			spec := &TunnelSpec{}
			if err := json.Unmarshal(raw, spec); err != nil {
				return fmt.Errorf("section %q: %w", name, err)
			}
			c.Tunnels[strings.TrimSuffix(name, "Tunnel")] = spec
		default:
			t := &Target{}
			if err := json.Unmarshal(raw, t); err != nil {
				return fmt.Errorf("section %q: %w", name, err)
			}
			c.Targets[name] = t
		}
	}
	return nil
}

// LoadConfig reads and parses a connection configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connection config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	return &cfg, nil
}

// Target looks up a target by name.
func (c *Config) Target(name string) (*Target, bool) {
	t, ok := c.Targets[name]
	return t, ok
}

// TunnelFor returns the tunnel spec attached to a target, if any.
func (c *Config) TunnelFor(name string) (*TunnelSpec, bool) {
	spec, ok := c.Tunnels[name]
	return spec, ok
}

// Validate checks mandatory fields for every target actually referenced by
// the loaded scenarios. referenced maps target name to the set of protocols
// scenarios use against it. The local pseudo-target needs no configuration.
func (c *Config) Validate(referenced map[string][]string) error {
	for name, protocols := range referenced {
		if strings.EqualFold(name, "local") {
			continue
		}
		t, ok := c.Targets[name]
		if !ok {
			return &ConfigError{Target: name, Reason: "referenced by a scenario but not present in the connection config"}
		}
		if t.Host == "" {
			return &ConfigError{Target: name, Field: "host", Reason: "required"}
		}
		if t.Username == "" || t.Password == "" {
			return &ConfigError{Target: name, Field: "credentials", Reason: "username and password are required"}
		}
		for _, p := range protocols {
			switch p {
			case ProtocolSSH:
				if t.SSHPort == 0 {
					return &ConfigError{Target: name, Field: "ssh_port", Reason: "required for ssh steps"}
				}
			case ProtocolRedfish:
				if t.RedfishPort == 0 {
					return &ConfigError{Target: name, Field: "redfish_port", Reason: "required for redfish steps"}
				}
			}
		}
		if t.Tunnel {
			spec, ok := c.Tunnels[name]
			if !ok {
				return &ConfigError{Target: name, Field: name + "Tunnel", Reason: "tunnel enabled but no tunnel section found"}
			}
			if spec.AgentHost == "" {
				return &ConfigError{Target: name, Field: "agent_host", Reason: "required for tunneled targets"}
			}
		}
	}
	return nil
}
