package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/qwatch/internal/locale"
)

// windowsListMode selects the underlying process-listing tool. The
// modern mode queries CIM through PowerShell and emits JSON; the legacy
// mode runs wmic and emits flat key=value blocks. Demotion from modern
// to legacy is the structural fallback the locator may apply when the
// modern tool is missing or rejected.
type windowsListMode int

const (
	listModeModern windowsListMode = iota
	listModeLegacy
)

type windowsStrategy struct {
	mode        windowsListMode
	processName string

	// portsPID remembers the pid ListeningPortsCommand targeted;
	// netstat output is filtered during parsing.
	portsPID int
}

// NewWindowsStrategy builds the Windows variant, starting in the modern
// CIM/JSON listing mode.
func NewWindowsStrategy(opts ...Option) Strategy {
	o := applyOptions(opts)
	name := o.processName
	if name == "" {
		name = "language_server_windows_x64.exe"
	}
	return &windowsStrategy{mode: listModeModern, processName: name}
}

func (s *windowsStrategy) ProcessName() string { return s.processName }

func (s *windowsStrategy) ListProcessesCommand() (string, []string) {
	if s.mode == listModeLegacy {
		return "wmic", []string{
			"process",
			"where", fmt.Sprintf("name='%s'", s.ProcessName()),
			"get", "ProcessId,ParentProcessId,CommandLine",
			"/format:list",
		}
	}
	query := fmt.Sprintf(
		"Get-CimInstance Win32_Process -Filter \"Name='%s'\" | Select-Object ProcessId,ParentProcessId,CommandLine | ConvertTo-Json -Compress",
		s.ProcessName(),
	)
	return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", query}
}

// winProcess mirrors the CIM property names ConvertTo-Json emits.
type winProcess struct {
	ProcessID       int    `json:"ProcessId"`
	ParentProcessID int    `json:"ParentProcessId"`
	CommandLine     string `json:"CommandLine"`
}

func (s *windowsStrategy) ParseProcessRecord(raw string, selfPID int) (ProcessRecord, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ProcessRecord{}, false
	}
	// Sniff the actual format rather than trusting the mode: the output
	// shape follows whichever tool really ran.
	var procs []winProcess
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal([]byte(trimmed), &procs); err != nil {
			return ProcessRecord{}, false
		}
	case '{':
		var one winProcess
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return ProcessRecord{}, false
		}
		procs = []winProcess{one}
	default:
		procs = parseWmicBlocks(trimmed)
	}

	var records []ProcessRecord
	for _, p := range procs {
		if p.ProcessID == 0 || !matchesIdentity(p.CommandLine, s.ProcessName()) {
			continue
		}
		token := extractToken(p.CommandLine)
		if token == "" {
			continue
		}
		records = append(records, ProcessRecord{
			PID:          p.ProcessID,
			ParentPID:    p.ParentProcessID,
			DeclaredPort: extractDeclaredPort(p.CommandLine),
			Token:        token,
		})
	}
	// Parent-pid preference is a Unix rule; Windows keeps OS order.
	return pickRecord(records, 0)
}

// parseWmicBlocks parses wmic /format:list output: blank-line separated
// blocks of Key=Value pairs.
func parseWmicBlocks(raw string) []winProcess {
	var procs []winProcess
	cur := winProcess{}
	flush := func() {
		if cur.ProcessID != 0 {
			procs = append(procs, cur)
		}
		cur = winProcess{}
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "ProcessId":
			cur.ProcessID, _ = strconv.Atoi(value)
		case "ParentProcessId":
			cur.ParentProcessID, _ = strconv.Atoi(value)
		case "CommandLine":
			cur.CommandLine = value
		}
	}
	flush()
	return procs
}

// netstat ships with every supported Windows release.
func (s *windowsStrategy) EnsurePortTool(LookPathFunc) error { return nil }

func (s *windowsStrategy) ListeningPortsCommand(pid int) (string, []string) {
	s.portsPID = pid
	return "netstat", []string{"-ano"}
}

func (s *windowsStrategy) ParseListeningPorts(raw string) []int {
	return parseWindowsNetstatPorts(raw, s.portsPID)
}

// Windows netstat -ano layout:
//
//	TCP    127.0.0.1:42100    0.0.0.0:0    LISTENING    4242
func parseWindowsNetstatPorts(raw string, pid int) []int {
	pidStr := strconv.Itoa(pid)
	var ports []int
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[3] != "LISTENING" || fields[4] != pidStr {
			continue
		}
		addr, port, ok := splitHostPort(fields[1])
		if !ok || !isLoopbackAddr(addr) {
			continue
		}
		ports = append(ports, port)
	}
	return sortedUniquePorts(ports)
}

func (s *windowsStrategy) Messages() Messages {
	return Messages{
		ProcessNotFound: locale.T("error.process_not_found", s.ProcessName()),
		ToolUnavailable: locale.T("error.tool_unavailable", "netstat"),
		Requirements: []string{
			locale.T("requirement.process_running"),
			locale.T("requirement.windows_netstat"),
		},
	}
}

func (s *windowsStrategy) SupportsToolFallback() bool {
	return s.mode == listModeModern
}

func (s *windowsStrategy) DemoteToLegacy() bool {
	if s.mode != listModeModern {
		return false
	}
	s.mode = listModeLegacy
	return true
}
