// Package client implements the scheduled-polling quota client: a
// retry-bounded fetch state machine over the discovered endpoint, with
// a per-request plaintext fallback for servers that restarted without
// TLS.
package client

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Dicklesworthstone/qwatch/internal/api"
	"github.com/Dicklesworthstone/qwatch/internal/discovery"
	"github.com/Dicklesworthstone/qwatch/internal/locale"
	"github.com/Dicklesworthstone/qwatch/internal/quota"
)

const (
	// MaxRetryCount bounds consecutive immediate re-attempts before the
	// poller backs off to the next natural schedule tick.
	MaxRetryCount = 3

	// RetryDelay separates an immediate re-attempt from the failure
	// that triggered it.
	RetryDelay = 5 * time.Second

	// RequestTimeout bounds each quota request.
	RequestTimeout = 5 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// State is the poller's lifecycle mode.
type State int

const (
	StateIdle State = iota
	StateFirstFetch
	StatePolling
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFirstFetch:
		return "first_fetch"
	case StatePolling:
		return "polling"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Status is published to status subscribers after every state change.
type Status struct {
	State      State
	RetryCount int
	Message    string
}

// Poller fetches quota snapshots on a repeating schedule. At most one
// logical fetch is in flight at a time; exhausting the retry budget
// resets it and waits for the next tick, so polling never permanently
// stops on its own.
type Poller struct {
	mu sync.Mutex

	endpoint   discovery.Endpoint
	secure     *http.Client
	plain      *http.Client
	now        func() time.Time
	retryDelay time.Duration

	state        State
	retryCount   int
	retryPending bool
	inFlight     bool

	// gen is the authoritative desired-state generation. StartPolling
	// and Stop bump it; every deferred callback re-checks it before
	// acting, so stale timers become no-ops.
	gen     uint64
	running bool
	stopCh  chan struct{}

	snapshotSubs []func(quota.Snapshot)
	errorSubs    []func(error)
	statusSubs   []func(Status)
}

// Option customizes a Poller.
type Option func(*Poller)

// WithHTTPClients substitutes both HTTP clients (used by tests).
func WithHTTPClients(secure, plain *http.Client) Option {
	return func(p *Poller) {
		p.secure = secure
		p.plain = plain
	}
}

// WithClock substitutes the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithRetryDelay overrides the delay before an immediate re-attempt
// (used by tests).
func WithRetryDelay(d time.Duration) Option {
	return func(p *Poller) { p.retryDelay = d }
}

// New creates a Poller bound to an endpoint.
func New(ep discovery.Endpoint, opts ...Option) *Poller {
	p := &Poller{
		endpoint:   ep,
		secure:     api.NewTLSClient(RequestTimeout),
		plain:      api.NewPlainClient(RequestTimeout),
		now:        time.Now,
		retryDelay: RetryDelay,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetEndpoint rebinds the poller to a new endpoint. In-flight fetches
// keep the endpoint they snapshotted at fetch start; the schedule is
// untouched.
func (p *Poller) SetEndpoint(ep discovery.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoint = ep
}

// Endpoint returns the currently bound endpoint.
func (p *Poller) Endpoint() discovery.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoint
}

// OnSnapshot registers a snapshot subscriber.
func (p *Poller) OnSnapshot(fn func(quota.Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshotSubs = append(p.snapshotSubs, fn)
}

// OnError registers an error subscriber. It fires once per exhausted
// retry budget, and for terminal conditions callers should react to
// (transport failures trigger reconnection here).
func (p *Poller) OnError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorSubs = append(p.errorSubs, fn)
}

// OnStatus registers a status subscriber. Snapshot delivery always
// precedes the status update it caused.
func (p *Poller) OnStatus(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusSubs = append(p.statusSubs, fn)
}

// StartPolling cancels any existing schedule, performs one immediate
// fetch and then fetches every interval until Stop.
func (p *Poller) StartPolling(interval time.Duration) {
	p.mu.Lock()
	p.stopLocked()
	p.gen++
	gen := p.gen
	p.running = true
	p.state = StateFirstFetch
	p.retryCount = 0
	p.retryPending = false
	stopCh := make(chan struct{})
	p.stopCh = stopCh
	p.mu.Unlock()

	slog.Info("polling started", "interval", interval)
	go p.loop(gen, interval, stopCh)
}

func (p *Poller) loop(gen uint64, interval time.Duration, stopCh chan struct{}) {
	p.tick(gen, false)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-t.C:
			p.tick(gen, false)
		}
	}
}

// Stop halts the schedule. Pending retry timers and in-flight fetches
// become no-ops when they complete.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.state = StateIdle
	p.retryCount = 0
	p.retryPending = false
	slog.Info("polling stopped")
}

func (p *Poller) stopLocked() {
	p.gen++
	p.running = false
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
}

// QuickRefresh forces one immediate fetch and resets the retry budget.
// Suppressed while a delayed retry is already pending.
func (p *Poller) QuickRefresh() {
	p.mu.Lock()
	p.retryCount = 0
	if p.retryPending || p.inFlight {
		p.mu.Unlock()
		return
	}
	gen := p.gen
	ep := p.endpoint
	p.inFlight = true
	p.mu.Unlock()
	go p.do(gen, ep)
}

// Status returns the current machine status.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{State: p.state, RetryCount: p.retryCount}
}

// tick is the scheduled entry point. A pending retry owns the retry
// slot, so ticks that land inside a retry window are suppressed.
func (p *Poller) tick(gen uint64, fromRetry bool) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	if fromRetry {
		p.retryPending = false
	}
	if p.retryPending || p.inFlight {
		p.mu.Unlock()
		return
	}
	ep := p.endpoint
	p.inFlight = true
	p.mu.Unlock()

	p.do(gen, ep)
}

// do performs one logical fetch attempt against a snapshotted endpoint
// and applies the success or failure transition.
func (p *Poller) do(gen uint64, ep discovery.Endpoint) {
	snap, err := p.fetchOnce(ep)

	p.mu.Lock()
	p.inFlight = false
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.failLocked(gen, err)
		return
	}

	p.retryCount = 0
	p.retryPending = false
	p.state = StatePolling
	status := Status{State: p.state}
	snapSubs := append([]func(quota.Snapshot){}, p.snapshotSubs...)
	statusSubs := append([]func(Status){}, p.statusSubs...)
	p.mu.Unlock()

	for _, fn := range snapSubs {
		safeCall(func() { fn(*snap) })
	}
	for _, fn := range statusSubs {
		safeCall(func() { fn(status) })
	}
}

// failLocked applies the failure transition. Called with p.mu held;
// releases it.
func (p *Poller) failLocked(gen uint64, err error) {
	p.retryCount++
	if p.retryCount < MaxRetryCount {
		p.state = StateRetrying
		p.retryPending = true
		status := Status{
			State:      p.state,
			RetryCount: p.retryCount,
			Message:    locale.T("status.retrying", p.retryCount, MaxRetryCount),
		}
		statusSubs := append([]func(Status){}, p.statusSubs...)
		p.mu.Unlock()

		slog.Warn("quota fetch failed, scheduling retry",
			"retry", status.RetryCount,
			"max_retries", MaxRetryCount,
			"delay", p.retryDelay,
			"error", err,
		)
		for _, fn := range statusSubs {
			safeCall(func() { fn(status) })
		}
		time.AfterFunc(p.retryDelay, func() { p.tick(gen, true) })
		return
	}

	// Budget exhausted: reset so the next natural tick starts fresh,
	// surface the failure, keep the schedule running.
	p.retryCount = 0
	p.retryPending = false
	p.state = StatePolling
	status := Status{State: p.state, Message: err.Error()}
	errSubs := append([]func(error){}, p.errorSubs...)
	statusSubs := append([]func(Status){}, p.statusSubs...)
	p.mu.Unlock()

	slog.Warn("retry budget exhausted, waiting for next tick", "error", err)
	for _, fn := range errSubs {
		safeCall(func() { fn(err) })
	}
	for _, fn := range statusSubs {
		safeCall(func() { fn(status) })
	}
}

// fetchOnce issues the quota request over HTTPS, falling back to plain
// HTTP on the fallback port when the handshake shows the server is
// speaking plaintext. The fallback is tried once per request and never
// cached: the protocol can differ per server restart.
func (p *Poller) fetchOnce(ep discovery.Endpoint) (*quota.Snapshot, error) {
	resp, err := p.post("https", ep.SecurePort, ep.Token)
	if err != nil && isProtocolMismatch(err) && ep.FallbackPort > 0 {
		slog.Debug("protocol mismatch on secure port, retrying over plain http",
			"secure_port", ep.SecurePort,
			"fallback_port", ep.FallbackPort,
		)
		resp, err = p.post("http", ep.FallbackPort, ep.Token)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading quota response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}
	return quota.ParseSnapshot(body, p.now())
}

func (p *Poller) post(scheme string, port int, token string) (*http.Response, error) {
	req, err := api.NewRequest(scheme, port, api.UserStatusPath, token, []byte("{}"))
	if err != nil {
		return nil, err
	}
	c := p.secure
	if scheme == "http" {
		c = p.plain
	}
	return c.Do(req)
}

// safeCall isolates subscriber panics from the publisher loop.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked", "panic", r)
		}
	}()
	fn()
}
