package client

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"syscall"
)

// Transport-class failure signatures. A match means the connection
// itself died and the endpoint may have moved, which is the
// reconnection trigger.
var transportPatterns = []*regexp.Regexp{
	regexp.MustCompile(`connection refused`),
	regexp.MustCompile(`connection reset`),
	regexp.MustCompile(`broken pipe`),
	regexp.MustCompile(`timed? ?out`),
	regexp.MustCompile(`no route to host`),
	regexp.MustCompile(`network`),
	regexp.MustCompile(`unexpected eof`),
}

// Protocol-mismatch signatures: the HTTPS handshake failed in a way
// that indicates the server is actually speaking plaintext.
var mismatchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`wrong version number`),
	regexp.MustCompile(`first record does not look like a tls handshake`),
	regexp.MustCompile(`server gave http response to https client`),
}

// IsTransportError reports whether an error is a transport-class
// failure (refused, reset, timeout, generic network trouble).
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE:
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, p := range transportPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// isProtocolMismatch reports whether an error carries a
// plaintext-server-behind-HTTPS signature.
func isProtocolMismatch(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, p := range mismatchPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
