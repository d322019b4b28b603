// Package probe empirically determines which candidate port actually
// speaks the language-server protocol.
package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dicklesworthstone/qwatch/internal/api"
	"github.com/Dicklesworthstone/qwatch/internal/version"
)

// DefaultTimeout bounds each individual liveness probe.
const DefaultTimeout = 2 * time.Second

// Prober tries candidate ports until one answers the liveness call.
type Prober struct {
	client *http.Client
	info   version.Info
}

// Option customizes a Prober.
type Option func(*Prober)

// WithHTTPClient substitutes the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithInfo overrides the metadata embedded in probe bodies.
func WithInfo(info version.Info) Option {
	return func(p *Prober) { p.info = info }
}

// New creates a Prober with the default TLS posture and timeout.
func New(opts ...Option) *Prober {
	p := &Prober{
		client: api.NewTLSClient(DefaultTimeout),
		info:   version.Current(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe tries each candidate port in order and returns the first one
// that answers the liveness call with HTTP 200. Ports are tried
// sequentially: probing is cheap, candidates are few, and deterministic
// order keeps noise against the target process minimal. Returns (0,
// false) when every candidate fails.
func (p *Prober) Probe(ctx context.Context, ports []int, token string) (int, bool) {
	body := api.ProbeBody(p.info)
	for _, port := range ports {
		if ctx.Err() != nil {
			return 0, false
		}
		if p.hit(ctx, port, token, body) {
			slog.Debug("liveness probe succeeded", "port", port)
			return port, true
		}
		slog.Debug("liveness probe missed", "port", port)
	}
	return 0, false
}

func (p *Prober) hit(ctx context.Context, port int, token string, body []byte) bool {
	req, err := api.NewRequest("https", port, api.LivenessPath, token, body)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req.WithContext(ctx))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused across candidates.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}
