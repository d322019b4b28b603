package platform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// portTool identifies which port-inspection utility was pinned for the
// session. Probe order follows reliability: lsof reports per-pid sockets
// directly, ss needs output-side pid filtering, netstat is the legacy
// fallback with the most format drift.
type portTool int

const (
	toolNone portTool = iota
	toolLsof
	toolSS
	toolNetstat
)

func (t portTool) String() string {
	switch t {
	case toolLsof:
		return "lsof"
	case toolSS:
		return "ss"
	case toolNetstat:
		return "netstat"
	default:
		return "none"
	}
}

// unixStrategy holds the behavior shared by Darwin and Linux: ps-based
// process listing and a pinned lsof/ss/netstat port lister.
type unixStrategy struct {
	processName string
	tool        portTool
	toolOrder   []portTool

	// netstatArgs and netstat parsing differ between Linux and BSD
	// userlands, so the concrete strategy supplies them.
	netstatArgs       func(pid int) []string
	parseNetstatPorts func(raw string, pid int) []int

	// pidForParse remembers the pid the last port command targeted, for
	// tools whose output must be filtered after the fact.
	pidForParse int
}

func (s *unixStrategy) ProcessName() string { return s.processName }

func (s *unixStrategy) ListProcessesCommand() (string, []string) {
	// grep exits 1 on no match; the locator treats empty output as the
	// recoverable not-found condition, not a tool failure.
	pipeline := fmt.Sprintf("ps axo pid=,ppid=,command= | grep -i %s | grep -v grep", s.processName)
	return "/bin/sh", []string{"-c", pipeline}
}

func (s *unixStrategy) ParseProcessRecord(raw string, selfPID int) (ProcessRecord, bool) {
	var records []ProcessRecord
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cmdline := strings.Join(fields[2:], " ")
		if !matchesIdentity(cmdline, s.processName) {
			continue
		}
		token := extractToken(cmdline)
		if token == "" {
			continue
		}
		records = append(records, ProcessRecord{
			PID:          pid,
			ParentPID:    ppid,
			DeclaredPort: extractDeclaredPort(cmdline),
			Token:        token,
		})
	}
	return pickRecord(records, selfPID)
}

func (s *unixStrategy) EnsurePortTool(lookPath LookPathFunc) error {
	if s.tool != toolNone {
		return nil
	}
	for _, t := range s.toolOrder {
		if _, err := lookPath(t.String()); err == nil {
			s.tool = t
			return nil
		}
	}
	return fmt.Errorf("%s", s.Messages().ToolUnavailable)
}

func (s *unixStrategy) ListeningPortsCommand(pid int) (string, []string) {
	s.pidForParse = pid
	switch s.tool {
	case toolSS:
		return "ss", []string{"-tlnp"}
	case toolNetstat:
		return "netstat", s.netstatArgs(pid)
	default:
		// lsof: TCP LISTEN sockets for exactly this pid, numeric output.
		return "lsof", []string{"-a", "-iTCP", "-sTCP:LISTEN", "-n", "-P", "-p", strconv.Itoa(pid)}
	}
}

func (s *unixStrategy) ParseListeningPorts(raw string) []int {
	switch s.tool {
	case toolSS:
		return parseSSPorts(raw, s.pidForParse)
	case toolNetstat:
		return s.parseNetstatPorts(raw, s.pidForParse)
	default:
		return parseLsofPorts(raw)
	}
}

func (s *unixStrategy) Messages() Messages {
	return unixMessages(s.processName)
}

// Unix has no secondary process-listing tool; ps is ubiquitous.
func (s *unixStrategy) SupportsToolFallback() bool { return false }
func (s *unixStrategy) DemoteToLegacy() bool       { return false }

// lsof layout:
//
//	language_ 4242 user 12u IPv4 0x1234 0t0 TCP 127.0.0.1:42100 (LISTEN)
var lsofListenPattern = regexp.MustCompile(`TCP\s+(\S+):(\d+)\s+\(LISTEN\)`)

func parseLsofPorts(raw string) []int {
	var ports []int
	for _, line := range strings.Split(raw, "\n") {
		m := lsofListenPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if !isLoopbackAddr(m[1]) {
			continue
		}
		if port, err := strconv.Atoi(m[2]); err == nil {
			ports = append(ports, port)
		}
	}
	return sortedUniquePorts(ports)
}

// ss layout:
//
//	LISTEN 0 4096 127.0.0.1:42100 0.0.0.0:* users:(("language_serve",pid=4242,fd=17))
func parseSSPorts(raw string, pid int) []int {
	pidTag := fmt.Sprintf("pid=%d,", pid)
	var ports []int
	for _, line := range strings.Split(raw, "\n") {
		if !strings.Contains(line, "LISTEN") || !strings.Contains(line, pidTag) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		addr, port, ok := splitHostPort(fields[3])
		if !ok || !isLoopbackAddr(addr) {
			continue
		}
		ports = append(ports, port)
	}
	return sortedUniquePorts(ports)
}

// splitHostPort handles the address forms the port listers emit:
// 127.0.0.1:4242, [::1]:4242, *:4242 and the macOS netstat dotted form
// 127.0.0.1.4242.
func splitHostPort(s string) (addr string, port int, ok bool) {
	if i := strings.LastIndex(s, ":"); i != -1 {
		p, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return "", 0, false
		}
		return strings.Trim(s[:i], "[]"), p, true
	}
	if i := strings.LastIndex(s, "."); i != -1 {
		p, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return "", 0, false
		}
		return s[:i], p, true
	}
	return "", 0, false
}
