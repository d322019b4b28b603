// Package locale provides the localized-string lookup used for all
// user-facing text. Only an English table ships today; the indirection
// exists so message keys stay stable when more languages are added.
package locale

import "fmt"

var messages = map[string]string{
	"error.process_not_found":     "could not find a running %s process",
	"error.ports_not_found":       "process %d is running but has no listening ports yet",
	"error.tool_unavailable":      "no supported port-inspection tool found; install one of: %s",
	"error.discovery_failed":      "discovery gave up after %d attempts",
	"error.probe_failed":          "none of the candidate ports answered the liveness probe",
	"requirement.unix_port_tool":  "one of lsof, ss or netstat must be installed and on PATH",
	"requirement.windows_netstat": "netstat must be available (ships with Windows)",
	"requirement.process_running": "the language server must be running (open the editor first)",
	"status.discovering":          "discovering language server...",
	"status.connected":            "connected on port %d",
	"status.reconnecting":         "connection lost, rediscovering...",
	"status.retrying":             "fetch failed, retrying (%d/%d)",
}

// T resolves a message key and formats it with the given arguments.
// Unknown keys render as the key itself so a missing translation is
// visible instead of silent.
func T(key string, args ...any) string {
	msg, ok := messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Has reports whether a message key exists.
func Has(key string) bool {
	_, ok := messages[key]
	return ok
}
