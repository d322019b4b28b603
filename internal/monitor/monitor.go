// Package monitor composes discovery and polling into one self-healing
// monitoring session: on transport-class failures it re-discovers the
// endpoint and rebinds the running poller in place.
package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Dicklesworthstone/qwatch/internal/client"
	"github.com/Dicklesworthstone/qwatch/internal/discovery"
)

// DefaultReconnectTimeout bounds one reconnection discovery pass.
const DefaultReconnectTimeout = 60 * time.Second

// Discoverer is the discovery capability the monitor depends on.
// *discovery.Service satisfies it; tests substitute fakes.
type Discoverer interface {
	Discover(ctx context.Context) (*discovery.Endpoint, error)
}

// Monitor owns a poller and heals its endpoint across server restarts.
type Monitor struct {
	svc              Discoverer
	poller           *client.Poller
	reconnectTimeout time.Duration
	pollerOpts       []client.Option

	// reconnecting is the single-flight guard: transport errors can
	// arrive faster than a discovery pass completes.
	reconnecting atomic.Bool
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithReconnectTimeout overrides the per-reconnection discovery bound.
func WithReconnectTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.reconnectTimeout = d }
}

// WithPollerOptions forwards options to the poller built by Connect.
func WithPollerOptions(opts ...client.Option) Option {
	return func(m *Monitor) { m.pollerOpts = opts }
}

// New creates a Monitor over a discovery service.
func New(svc Discoverer, opts ...Option) *Monitor {
	m := &Monitor{
		svc:              svc,
		reconnectTimeout: DefaultReconnectTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect performs the initial discovery and builds the poller. The
// poller instance is permanent for the session; reconnection rebinds
// its endpoint rather than replacing it, so the polling schedule is
// never disturbed.
func (m *Monitor) Connect(ctx context.Context) error {
	ep, err := m.svc.Discover(ctx)
	if err != nil {
		return err
	}
	m.poller = client.New(*ep, m.pollerOpts...)
	m.poller.OnError(func(err error) {
		if client.IsTransportError(err) {
			m.triggerReconnect()
		}
	})
	return nil
}

// Poller exposes the session poller for subscriptions and control.
// Only valid after Connect.
func (m *Monitor) Poller() *client.Poller {
	return m.poller
}

// Start begins polling at the given interval. Connect must have
// succeeded first.
func (m *Monitor) Start(interval time.Duration) {
	m.poller.StartPolling(interval)
}

// Stop halts polling.
func (m *Monitor) Stop() {
	if m.poller != nil {
		m.poller.Stop()
	}
}

// triggerReconnect runs one re-discovery pass unless one is already in
// flight. On failure the old endpoint stays bound and the next natural
// tick retries the same path.
func (m *Monitor) triggerReconnect() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.reconnecting.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), m.reconnectTimeout)
		defer cancel()

		slog.Info("transport failure, rediscovering endpoint")
		ep, err := m.svc.Discover(ctx)
		if err != nil {
			slog.Warn("reconnection discovery failed, keeping previous endpoint", "error", err)
			return
		}
		m.poller.SetEndpoint(*ep)
		m.poller.QuickRefresh()
		slog.Info("endpoint rebound",
			"secure_port", ep.SecurePort,
			"fallback_port", ep.FallbackPort,
		)
	}()
}

// Reconnecting reports whether a reconnection pass is in flight.
func (m *Monitor) Reconnecting() bool {
	return m.reconnecting.Load()
}
