package connection

import (
	"encoding/json"
	"errors"
	"testing"
)

const testConfigJSON = `{
  "Connection": {"use_ssl": true},
  "Inband": {"host": "10.0.0.2", "ssh_port": 22, "username": "admin", "password": "hunter2"},
  "NodeManager": {"host": "10.0.0.5", "ssh_port": 22, "redfish_port": 443, "username": "root", "password": "secret", "tunnel": true},
  "NodeManagerTunnel": {"agent_host": "jump.lab", "local_host": "localhost", "ssh_local_port": 2222, "redfish_local_port": 8443}
}`

func TestConfigUnmarshal(t *testing.T) {
	var cfg Config
	if err := json.Unmarshal([]byte(testConfigJSON), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !cfg.Settings.UseSSL {
		t.Error("use_ssl not parsed from Connection section")
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(cfg.Targets))
	}
	nm, ok := cfg.Target("NodeManager")
	if !ok {
		t.Fatal("NodeManager target missing")
	}
	if !nm.Tunnel {
		t.Error("NodeManager tunnel flag not parsed")
	}
	spec, ok := cfg.TunnelFor("NodeManager")
	if !ok {
		t.Fatal("NodeManagerTunnel section not attached to NodeManager")
	}
	if spec.AgentHost != "jump.lab" || spec.SSHLocalPort != 2222 {
		t.Errorf("tunnel spec = %+v", spec)
	}
	if _, ok := cfg.Target("NodeManagerTunnel"); ok {
		t.Error("tunnel section must not appear as a target")
	}
}

func TestConfigValidateReferencedOnly(t *testing.T) {
	var cfg Config
	if err := json.Unmarshal([]byte(testConfigJSON), &cfg); err != nil {
		t.Fatal(err)
	}

	// Only referenced targets are checked: a target missing redfish_port is
	// fine while no scenario uses redfish against it.
	if err := cfg.Validate(map[string][]string{"Inband": {ProtocolSSH}}); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	err := cfg.Validate(map[string][]string{"Inband": {ProtocolRedfish}})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}

	if err := cfg.Validate(map[string][]string{"Missing": {ProtocolSSH}}); err == nil {
		t.Error("unknown referenced target must fail validation")
	}

	// The local pseudo-target never needs configuration.
	if err := cfg.Validate(map[string][]string{"local": {ProtocolLocal}}); err != nil {
		t.Errorf("local should not require config, got %v", err)
	}
}

func TestConfigValidateTunnelSection(t *testing.T) {
	var cfg Config
	if err := json.Unmarshal([]byte(testConfigJSON), &cfg); err != nil {
		t.Fatal(err)
	}
	delete(cfg.Tunnels, "NodeManager")
	if err := cfg.Validate(map[string][]string{"NodeManager": {ProtocolSSH}}); err == nil {
		t.Error("tunneled target without tunnel section must fail validation")
	}
}

func TestScanForErrorSignature(t *testing.T) {
	if sig := ScanForErrorSignature("all good", ""); sig != "" {
		t.Errorf("clean output matched %q", sig)
	}
	if sig := ScanForErrorSignature("", "bash: flashy: Command Not Found"); sig != "command not found" {
		t.Errorf("sig = %q, want command not found", sig)
	}
}
