package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/valyala/fastjson"
)

// Version is reported to the registry.
const Version = "0.1.0"

// HandshakeRequest is the body posted to the registry.
type HandshakeRequest struct {
	InstanceID  string `json:"instance_id"`
	ServiceName string `json:"service_name"`
	HostName    string `json:"hostname"`
	Platform    string `json:"language"`
	Version     string `json:"sdk_version"`
	CommandPort uint16 `json:"command_port"`
	LogPort     uint16 `json:"log_port"`
}

// Directive is the configuration a registry hands back.
type Directive struct {
	Level    slog.Level
	HasLevel bool
}

// Registry registers the device with an HTTP log registry and applies the
// level it returns.
type Registry struct {
	url    string
	apiKey string
	client *http.Client
	level  *slog.LevelVar
	parser fastjson.ParserPool
}

// NewRegistry returns a registry announcer for baseURL. When level is not
// nil, a level returned by the registry is stored into it.
func NewRegistry(baseURL, apiKey string, level *slog.LevelVar) *Registry {
	return &Registry{
		url:    strings.TrimRight(baseURL, "/") + "/api/registry/handshake",
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Second},
		level:  level,
	}
}

// Announce performs the handshake.
func (r *Registry) Announce(ctx context.Context, svc Service) error {
	_, err := r.Handshake(ctx, svc)
	return err
}

// Handshake posts svc and returns the registry's directive.
func (r *Registry) Handshake(ctx context.Context, svc Service) (Directive, error) {
	hostname, _ := os.Hostname()
	body, err := json.Marshal(HandshakeRequest{
		InstanceID:  svc.Instance,
		ServiceName: svc.Name,
		HostName:    hostname,
		Platform:    fmt.Sprintf("go-%s", runtime.Version()),
		Version:     Version,
		CommandPort: svc.Port,
		LogPort:     svc.LogPort,
	})
	if err != nil {
		return Directive{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Directive{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Directive{}, fmt.Errorf("registry handshake: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Directive{}, fmt.Errorf("registry handshake: read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Directive{}, fmt.Errorf("handshake failed: %d %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	d, err := r.parse(data)
	if err != nil {
		return Directive{}, err
	}
	if d.HasLevel && r.level != nil {
		r.level.Set(d.Level)
	}
	return d, nil
}

func (r *Registry) parse(data []byte) (Directive, error) {
	var d Directive
	if len(bytes.TrimSpace(data)) == 0 {
		return d, nil
	}

	p := r.parser.Get()
	defer r.parser.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return d, fmt.Errorf("registry handshake: invalid reply: %w", err)
	}

	if lvl := string(v.GetStringBytes("level")); lvl != "" {
		if err := d.Level.UnmarshalText([]byte(lvl)); err != nil {
			return d, fmt.Errorf("registry handshake: %w", err)
		}
		d.HasLevel = true
	}
	return d, nil
}

// Close is a no-op; registrations expire on the registry side.
func (r *Registry) Close() error { return nil }
