// Package platform contains the OS-specific strategies for locating the
// language server process and enumerating its listening ports. A strategy
// is selected once from the detected OS and never re-evaluated; all state
// it carries (the pinned port tool, the Windows listing mode) belongs to
// a single monitoring session.
package platform

import (
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/qwatch/internal/locale"
)

// Process command-line contract. The server advertises its plaintext HTTP
// port and CSRF token as CLI flags; the marker fragment distinguishes it
// from unrelated binaries that happen to share a name.
const (
	IdentityMarker = "codeium"
	PortFlag       = "--extension_server_port"
	TokenFlag      = "--csrf_token"
)

// ProcessRecord is the parsed identity of one candidate server process.
// DeclaredPort is 0 when the port flag is absent; Token is always
// non-empty for a valid record.
type ProcessRecord struct {
	PID          int
	ParentPID    int
	DeclaredPort int
	Token        string
}

// Messages bundles the user-facing text a strategy surfaces on failure.
type Messages struct {
	ProcessNotFound string
	ToolUnavailable string
	Requirements    []string
}

// LookPathFunc resolves a tool name to an executable path. Tests inject
// fakes; production uses exec.LookPath.
type LookPathFunc func(string) (string, error)

// Strategy is the capability interface each OS variant satisfies.
type Strategy interface {
	// ProcessName is the target executable name on this OS.
	ProcessName() string

	// ListProcessesCommand builds the command whose output enumerates
	// candidate processes with full command lines.
	ListProcessesCommand() (name string, args []string)

	// ParseProcessRecord extracts the best candidate record from raw
	// process-listing output. selfPID is the caller's own pid, used to
	// prefer a direct child when several candidates match.
	ParseProcessRecord(raw string, selfPID int) (ProcessRecord, bool)

	// EnsurePortTool verifies a supported port-inspection tool exists
	// and pins the first available one for the session.
	EnsurePortTool(lookPath LookPathFunc) error

	// ListeningPortsCommand builds the command listing TCP sockets for
	// the pinned tool. Parsing filters down to the given pid.
	ListeningPortsCommand(pid int) (name string, args []string)

	// ParseListeningPorts extracts an ascending, de-duplicated list of
	// loopback listening ports owned by the pid the command targeted.
	ParseListeningPorts(raw string) []int

	// Messages returns the user-facing error text for this OS.
	Messages() Messages

	// SupportsToolFallback reports whether a structural fallback to a
	// secondary listing tool is still available.
	SupportsToolFallback() bool

	// DemoteToLegacy switches to the secondary listing tool. Returns
	// false if no fallback remains.
	DemoteToLegacy() bool
}

// Option customizes a strategy at construction.
type Option func(*options)

type options struct {
	processName string
}

// WithProcessName overrides the target executable name, for nonstandard
// installs that rename the server binary.
func WithProcessName(name string) Option {
	return func(o *options) { o.processName = name }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ForOS returns the strategy for a GOOS value.
func ForOS(goos string, opts ...Option) (Strategy, error) {
	switch goos {
	case "windows":
		return NewWindowsStrategy(opts...), nil
	case "darwin":
		return NewDarwinStrategy(opts...), nil
	case "linux":
		return NewLinuxStrategy(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// Detect returns the strategy for the running OS.
func Detect(opts ...Option) (Strategy, error) {
	return ForOS(runtime.GOOS, opts...)
}

// Flag extraction patterns. Both --flag=value and --flag value forms
// appear in the wild depending on how the editor spawns the server.
var (
	tokenPattern = regexp.MustCompile(TokenFlag + `[=\s]+([A-Za-z0-9._~-]+)`)
	portPattern  = regexp.MustCompile(PortFlag + `[=\s]+(\d{1,5})`)
)

// extractToken pulls the CSRF token out of a command line. Empty string
// means the flag is absent and the record is invalid.
func extractToken(cmdline string) string {
	m := tokenPattern.FindStringSubmatch(cmdline)
	if m == nil {
		return ""
	}
	return m[1]
}

// extractDeclaredPort pulls the advertised HTTP port out of a command
// line, or 0 when absent.
func extractDeclaredPort(cmdline string) int {
	m := portPattern.FindStringSubmatch(cmdline)
	if m == nil {
		return 0
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port <= 0 || port > 65535 {
		return 0
	}
	return port
}

// matchesIdentity reports whether a command line belongs to the target
// application: it must reference the executable name and carry the
// marker fragment somewhere in its arguments or path.
func matchesIdentity(cmdline, processName string) bool {
	lower := strings.ToLower(cmdline)
	return strings.Contains(lower, strings.ToLower(processName)) &&
		strings.Contains(lower, IdentityMarker)
}

// pickRecord applies the candidate-selection rule: prefer the direct
// child of the caller, otherwise keep OS-reported order.
func pickRecord(records []ProcessRecord, selfPID int) (ProcessRecord, bool) {
	if len(records) == 0 {
		return ProcessRecord{}, false
	}
	if selfPID > 0 {
		for _, r := range records {
			if r.ParentPID == selfPID {
				return r, true
			}
		}
	}
	return records[0], true
}

// sortedUniquePorts normalizes raw extracted ports into the canonical
// ascending, de-duplicated candidate order.
func sortedUniquePorts(ports []int) []int {
	seen := make(map[int]struct{}, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p <= 0 || p > 65535 {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// isLoopbackAddr reports whether a textual local address is a loopback
// binding. The server only ever binds loopback, so anything else is
// noise from an unrelated socket.
func isLoopbackAddr(addr string) bool {
	switch addr {
	case "127.0.0.1", "::1", "[::1]", "localhost", "0:0:0:0:0:0:0:1":
		return true
	}
	return strings.HasPrefix(addr, "127.")
}

// Tool-missing signatures across shells and OSes. A match means the
// listing tool itself is absent or unrecognized, which is a structural
// condition, not a transient failure.
var toolMissingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)is not recognized as an internal or external command`),
	regexp.MustCompile(`(?i)is not recognized as the name of a cmdlet`),
	regexp.MustCompile(`(?i)executable file not found`),
	regexp.MustCompile(`(?i)no such file or directory`),
	regexp.MustCompile(`(?i)command not found`),
	regexp.MustCompile(`(?i)'wmic' is not recognized`),
}

// IsToolMissing reports whether command output or error text indicates
// the underlying OS tool is unavailable rather than merely empty.
func IsToolMissing(s string) bool {
	if s == "" {
		return false
	}
	for _, p := range toolMissingPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// unixMessages is shared by the Darwin and Linux strategies.
func unixMessages(processName string) Messages {
	return Messages{
		ProcessNotFound: locale.T("error.process_not_found", processName),
		ToolUnavailable: locale.T("error.tool_unavailable", "lsof, ss, netstat"),
		Requirements: []string{
			locale.T("requirement.process_running"),
			locale.T("requirement.unix_port_tool"),
		},
	}
}
