// Package discovery combines process location and port probing into a
// single endpoint-discovery operation.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Dicklesworthstone/qwatch/internal/locale"
	"github.com/Dicklesworthstone/qwatch/internal/locator"
)

// ErrProbeFailed means the process was found but none of its listening
// ports answered the liveness call.
var ErrProbeFailed = errors.New("liveness probe failed on all candidate ports")

// Endpoint is the durable result of one successful discovery: the
// probed HTTPS port, the plaintext fallback port declared on the
// command line, and the CSRF token.
type Endpoint struct {
	SecurePort   int
	FallbackPort int
	Token        string
}

// ProcessLocator is the detection capability the service composes.
// *locator.Locator satisfies it.
type ProcessLocator interface {
	Detect(ctx context.Context) (*locator.Candidate, error)
	Requirements() []string
}

// PortProber is the probing capability the service composes.
// *probe.Prober satisfies it.
type PortProber interface {
	Probe(ctx context.Context, ports []int, token string) (int, bool)
}

// Service discovers the connection endpoint for the local language
// server. It keeps no memory of previous endpoints and is safe to call
// repeatedly for reconnection.
type Service struct {
	locator ProcessLocator
	prober  PortProber
}

// New creates a discovery Service from its two collaborators.
func New(loc ProcessLocator, p PortProber) *Service {
	return &Service{locator: loc, prober: p}
}

// Discover locates the server process, probes its candidate ports and
// returns the working endpoint. Detection retries are internal to the
// locator; a nil error guarantees a probed, answering secure port.
func (s *Service) Discover(ctx context.Context) (*Endpoint, error) {
	cand, err := s.locator.Detect(ctx)
	if err != nil {
		return nil, err
	}

	port, ok := s.prober.Probe(ctx, cand.Ports, cand.Record.Token)
	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrProbeFailed, locale.T("error.probe_failed"))
	}

	ep := &Endpoint{
		SecurePort:   port,
		FallbackPort: cand.Record.DeclaredPort,
		Token:        cand.Record.Token,
	}
	slog.Info("endpoint discovered",
		"secure_port", ep.SecurePort,
		"fallback_port", ep.FallbackPort,
	)
	return ep, nil
}

// Requirements surfaces the platform requirement text for terminal
// failures.
func (s *Service) Requirements() []string {
	return s.locator.Requirements()
}
