package client

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/qwatch/internal/api"
	"github.com/Dicklesworthstone/qwatch/internal/discovery"
	"github.com/Dicklesworthstone/qwatch/internal/quota"
)

const quotaBody = `{
	"state": {"code": "OK"},
	"planName": "Pro",
	"quotas": [{"modelId": "model-a", "displayName": "Model A", "remainingFraction": 0.5, "resetTime": "infinite"}]
}`

func serverPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func waitSnapshot(t *testing.T, ch <-chan quota.Snapshot) quota.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return quota.Snapshot{}
	}
}

func waitError(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error")
		return nil
	}
}

func TestStartPollingFetchesImmediately(t *testing.T) {
	var gotPath, gotToken string
	var gotBody []byte
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get(api.CSRFHeader)
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, quotaBody)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts), Token: "tok123"})
	snapCh := make(chan quota.Snapshot, 1)
	p.OnSnapshot(func(s quota.Snapshot) { snapCh <- s })

	p.StartPolling(time.Hour)
	defer p.Stop()

	snap := waitSnapshot(t, snapCh)
	if snap.Plan != "Pro" || len(snap.Models) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if gotPath != api.UserStatusPath {
		t.Errorf("path = %q, want %q", gotPath, api.UserStatusPath)
	}
	if gotToken != "tok123" {
		t.Errorf("token = %q", gotToken)
	}
	if string(gotBody) != "{}" {
		t.Errorf("body = %q, want {}", gotBody)
	}
	if st := p.Status(); st.State != StatePolling || st.RetryCount != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestSnapshotDeliveredBeforeStatus(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, quotaBody)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts), Token: "tok"})

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 1)
	p.OnSnapshot(func(quota.Snapshot) {
		mu.Lock()
		order = append(order, "snapshot")
		mu.Unlock()
	})
	p.OnStatus(func(Status) {
		mu.Lock()
		order = append(order, "status")
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	p.StartPolling(time.Hour)
	defer p.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 || order[0] != "snapshot" || order[1] != "status" {
		t.Errorf("delivery order = %v, want snapshot before status", order)
	}
}

func TestRetryBudgetExhaustionFiresErrorOnceAndKeepsPolling(t *testing.T) {
	var mu sync.Mutex
	requests := 0
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts), Token: "tok"},
		WithRetryDelay(5*time.Millisecond))

	errCh := make(chan error, 4)
	p.OnError(func(err error) { errCh <- err })
	var statuses []Status
	p.OnStatus(func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	p.StartPolling(time.Hour)
	defer p.Stop()

	err := waitError(t, errCh)
	if err == nil {
		t.Fatal("expected a surfaced error")
	}

	// Give any stray retry timer a moment, then check the budget really
	// stopped at MaxRetryCount attempts and fired exactly once.
	time.Sleep(50 * time.Millisecond)
	select {
	case extra := <-errCh:
		t.Fatalf("error fired more than once: %v", extra)
	default:
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != MaxRetryCount {
		t.Errorf("requests = %d, want %d", requests, MaxRetryCount)
	}
	retrying := 0
	for _, s := range statuses {
		if s.State == StateRetrying {
			retrying++
		}
	}
	if retrying != MaxRetryCount-1 {
		t.Errorf("retrying statuses = %d, want %d", retrying, MaxRetryCount-1)
	}
	last := statuses[len(statuses)-1]
	if last.State != StatePolling || last.RetryCount != 0 {
		t.Errorf("final status = %+v, want polling with reset budget", last)
	}
	if last.Message == "" {
		t.Error("final status should carry the failure message")
	}
}

func TestAppErrorCountsAgainstRetryBudget(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"state":{"code":"PERMISSION_DENIED","message":"bad token"}}`)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts), Token: "tok"},
		WithRetryDelay(5*time.Millisecond))
	errCh := make(chan error, 1)
	p.OnError(func(err error) { errCh <- err })

	p.StartPolling(time.Hour)
	defer p.Stop()

	err := waitError(t, errCh)
	var appErr *quota.AppError
	if !errors.As(err, &appErr) || appErr.Code != "PERMISSION_DENIED" {
		t.Fatalf("err = %v, want AppError PERMISSION_DENIED", err)
	}
}

func TestPlaintextFallbackOnProtocolMismatch(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		handled = append(handled, r.Proto+" "+r.URL.Path)
		mu.Unlock()
		io.WriteString(w, quotaBody)
	}))
	defer ts.Close()

	// Secure port points at a plaintext server, so the HTTPS attempt
	// fails the handshake and the poller retries the fallback port.
	port := serverPort(t, ts)
	p := New(discovery.Endpoint{SecurePort: port, FallbackPort: port, Token: "tok"})
	snapCh := make(chan quota.Snapshot, 1)
	p.OnSnapshot(func(s quota.Snapshot) { snapCh <- s })

	p.StartPolling(time.Hour)
	defer p.Stop()

	snap := waitSnapshot(t, snapCh)
	if snap.Plan != "Pro" {
		t.Errorf("snapshot plan = %q", snap.Plan)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 {
		t.Fatalf("handler saw %d well-formed requests, want 1: %v", len(handled), handled)
	}
}

func TestFallbackSkippedWithoutFallbackPort(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, quotaBody)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts)},
		WithRetryDelay(time.Millisecond))
	errCh := make(chan error, 1)
	p.OnError(func(err error) { errCh <- err })

	p.StartPolling(time.Hour)
	defer p.Stop()

	if err := waitError(t, errCh); err == nil {
		t.Fatal("expected failure with no fallback port configured")
	}
}

func TestStopHaltsSchedule(t *testing.T) {
	var mu sync.Mutex
	requests := 0
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		io.WriteString(w, quotaBody)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts), Token: "tok"})
	snapCh := make(chan quota.Snapshot, 8)
	p.OnSnapshot(func(s quota.Snapshot) { snapCh <- s })

	p.StartPolling(10 * time.Millisecond)
	waitSnapshot(t, snapCh)
	p.Stop()

	if st := p.Status(); st.State != StateIdle {
		t.Errorf("state after Stop = %v, want idle", st.State)
	}

	// Let any request already in flight at Stop time drain.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	before := requests
	mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	after := requests
	mu.Unlock()
	if after != before {
		t.Errorf("requests kept flowing after Stop: %d -> %d", before, after)
	}

	// Stopping twice is a no-op.
	p.Stop()
}

func TestStartPollingRestartsCleanly(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, quotaBody)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts), Token: "tok"})
	snapCh := make(chan quota.Snapshot, 8)
	p.OnSnapshot(func(s quota.Snapshot) { snapCh <- s })

	p.StartPolling(time.Hour)
	waitSnapshot(t, snapCh)
	p.StartPolling(time.Hour)
	defer p.Stop()
	waitSnapshot(t, snapCh)

	if st := p.Status(); st.State != StatePolling {
		t.Errorf("state = %v, want polling", st.State)
	}
}

func TestQuickRefreshFetchesOnce(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, quotaBody)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts), Token: "tok"})
	snapCh := make(chan quota.Snapshot, 1)
	p.OnSnapshot(func(s quota.Snapshot) { snapCh <- s })

	p.QuickRefresh()
	snap := waitSnapshot(t, snapCh)
	if len(snap.Models) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSetEndpointRebinds(t *testing.T) {
	old := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer old.Close()
	fresh := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, quotaBody)
	}))
	defer fresh.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, old), Token: "tok"})
	snapCh := make(chan quota.Snapshot, 1)
	p.OnSnapshot(func(s quota.Snapshot) { snapCh <- s })

	p.SetEndpoint(discovery.Endpoint{SecurePort: serverPort(t, fresh), Token: "tok2"})
	if got := p.Endpoint().SecurePort; got != serverPort(t, fresh) {
		t.Fatalf("endpoint port = %d", got)
	}
	p.QuickRefresh()
	waitSnapshot(t, snapCh)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, quotaBody)
	}))
	defer ts.Close()

	p := New(discovery.Endpoint{SecurePort: serverPort(t, ts), Token: "tok"})
	p.OnSnapshot(func(quota.Snapshot) { panic("subscriber bug") })
	statusCh := make(chan Status, 1)
	p.OnStatus(func(s Status) {
		select {
		case statusCh <- s:
		default:
		}
	})

	p.StartPolling(time.Hour)
	defer p.Stop()

	select {
	case s := <-statusCh:
		if s.State != StatePolling {
			t.Errorf("status = %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("panicking subscriber stalled delivery")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateFirstFetch, "first_fetch"},
		{StatePolling, "polling"},
		{StateRetrying, "retrying"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
