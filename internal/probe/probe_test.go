package probe

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Dicklesworthstone/qwatch/internal/api"
	"github.com/Dicklesworthstone/qwatch/internal/version"
)

func serverPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// closedPort reserves a loopback port and releases it, so connections to
// it are refused immediately.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	l.Close()
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestProbeFindsServingPort(t *testing.T) {
	var gotPath, gotToken, gotCT string
	var gotBody []byte
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get(api.CSRFHeader)
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	info := version.Info{AppName: "qwatch", AppVersion: "0.0.1", OS: "linux", Arch: "amd64"}
	p := New(WithInfo(info))

	dead := closedPort(t)
	port, ok := p.Probe(context.Background(), []int{dead, serverPort(t, ts)}, "tok123")
	if !ok {
		t.Fatal("expected a serving port")
	}
	if port != serverPort(t, ts) {
		t.Errorf("port = %d, want %d", port, serverPort(t, ts))
	}
	if gotPath != api.LivenessPath {
		t.Errorf("path = %q, want %q", gotPath, api.LivenessPath)
	}
	if gotToken != "tok123" {
		t.Errorf("token header = %q", gotToken)
	}
	if gotCT != "application/json" {
		t.Errorf("content type = %q", gotCT)
	}
	var wrapped struct {
		Metadata version.Info `json:"metadata"`
	}
	if err := json.Unmarshal(gotBody, &wrapped); err != nil || wrapped.Metadata != info {
		t.Errorf("probe body = %s (err %v)", gotBody, err)
	}
}

func TestProbeRejectsNon200(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	p := New()
	if _, ok := p.Probe(context.Background(), []int{serverPort(t, ts)}, "tok"); ok {
		t.Error("a 404 port must not count as serving")
	}
}

func TestProbeAllPortsDead(t *testing.T) {
	p := New()
	if _, ok := p.Probe(context.Background(), []int{closedPort(t), closedPort(t)}, "tok"); ok {
		t.Error("expected no serving port")
	}
}

func TestProbeHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(WithHTTPClient(api.NewTLSClient(time.Second)))
	if _, ok := p.Probe(ctx, []int{closedPort(t)}, "tok"); ok {
		t.Error("cancelled probe must report failure")
	}
}
