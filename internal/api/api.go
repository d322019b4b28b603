// Package api pins the wire contract of the local language server:
// endpoint paths, required headers and the TLS posture for talking to
// its loopback self-signed certificate.
package api

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Dicklesworthstone/qwatch/internal/version"
)

// Fixed endpoint paths.
const (
	// LivenessPath is the unauthenticated-shape diagnostic call used
	// only to test whether a port belongs to the server.
	LivenessPath = "/exa.language_server_pb.LanguageServerService/GetProcesses"

	// UserStatusPath returns the quota snapshot.
	UserStatusPath = "/exa.language_server_pb.LanguageServerService/GetUserStatus"
)

// CSRFHeader carries the token extracted from the server command line.
const CSRFHeader = "X-Codeium-Csrf-Token"

// NewTLSClient returns an HTTP client for the server's HTTPS port. The
// certificate is self-signed for loopback, so verification is off.
func NewTLSClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// NewPlainClient returns an HTTP client for the plaintext fallback port.
func NewPlainClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// NewRequest builds a POST with the fixed header set every server call
// requires.
func NewRequest(scheme string, port int, path, token string, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s://127.0.0.1:%d%s", scheme, port, path)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connect-Protocol-Version", "1")
	req.Header.Set(CSRFHeader, token)
	return req, nil
}

// probeBody is the metadata envelope the liveness call expects.
type probeBody struct {
	Metadata version.Info `json:"metadata"`
}

// ProbeBody renders the liveness-probe request body for the given
// client/host info.
func ProbeBody(info version.Info) []byte {
	b, _ := json.Marshal(probeBody{Metadata: info})
	return b
}
