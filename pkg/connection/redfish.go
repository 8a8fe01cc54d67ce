package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const redfishProbeTimeout = 15 * time.Second

// RedfishHandle issues REST requests against a target's Redfish service.
// Commands have the form "METHOD /redfish/v1/path [body]"; the body, when
// present, is sent as application/json.
type RedfishHandle struct {
	name     string
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewRedfishHandle creates an unconnected Redfish handle for a target.
// When forward is non-nil requests go to the local end of the port-forward.
func NewRedfishHandle(name string, target *Target, settings Settings, forward *Forward) *RedfishHandle {
	scheme := "http"
	if settings.UseSSL {
		scheme = "https"
	}
	hostport := fmt.Sprintf("%s:%d", target.Host, target.RedfishPort)
	if forward != nil {
		hostport = forward.LocalAddr()
	}
	return &RedfishHandle{
		name:     name,
		baseURL:  fmt.Sprintf("%s://%s", scheme, hostport),
		username: target.Username,
		password: target.Password,
		client: &http.Client{
			Transport: &http.Transport{
				// BMCs ship self-signed certificates.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Connect probes the service root to confirm the target is reachable and
// the credentials are accepted.
func (h *RedfishHandle) Connect(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, redfishProbeTimeout)
	defer cancel()

	out, err := h.do(probeCtx, http.MethodGet, "/redfish/v1/", "")
	if err != nil {
		return &ConnectionError{Target: h.name, Protocol: ProtocolRedfish, Kind: KindUnreachable, Err: err}
	}
	if out.StatusCode == http.StatusUnauthorized || out.StatusCode == http.StatusForbidden {
		return &ConnectionError{
			Target:   h.name,
			Protocol: ProtocolRedfish,
			Kind:     KindAuthFailure,
			Err:      fmt.Errorf("service root returned %d", out.StatusCode),
		}
	}
	return nil
}

// Disconnect drops idle connections. Idempotent.
func (h *RedfishHandle) Disconnect() error {
	h.client.CloseIdleConnections()
	return nil
}

// Alive re-probes the service root.
func (h *RedfishHandle) Alive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redfishProbeTimeout)
	defer cancel()
	out, err := h.do(ctx, http.MethodGet, "/redfish/v1/", "")
	return err == nil && out.StatusCode < 500
}

// Execute parses and issues a Redfish request. A response status >= 400
// yields exit code 1 so downstream validation treats it like a failed
// command; the status code itself is preserved on the Output.
func (h *RedfishHandle) Execute(ctx context.Context, command string, opts ExecOptions) (*Output, error) {
	method, path, body, err := parseRedfishCommand(command)
	if err != nil {
		return nil, err
	}
	out, err := h.do(ctx, method, path, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectionError{Target: h.name, Protocol: ProtocolRedfish, Kind: KindUnreachable, Err: err}
	}
	return out, nil
}

func (h *RedfishHandle) do(ctx context.Context, method, path, body string) (*Output, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(h.username, h.password)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	out := &Output{
		Stdout:     string(data),
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
	}
	if resp.StatusCode >= 400 {
		out.ExitCode = 1
	}
	return out, nil
}

// parseRedfishCommand splits "METHOD /path [body]" into its parts.
func parseRedfishCommand(command string) (method, path, body string, err error) {
	fields := strings.SplitN(strings.TrimSpace(command), " ", 3)
	if len(fields) < 2 {
		return "", "", "", fmt.Errorf("redfish command %q: want \"METHOD /path [body]\"", command)
	}
	method = strings.ToUpper(fields[0])
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
	default:
		return "", "", "", fmt.Errorf("redfish command %q: unsupported method %q", command, fields[0])
	}
	path = fields[1]
	if !strings.HasPrefix(path, "/") {
		return "", "", "", fmt.Errorf("redfish command %q: path must start with /", command)
	}
	if len(fields) == 3 {
		body = fields[2]
	}
	return method, path, body, nil
}
