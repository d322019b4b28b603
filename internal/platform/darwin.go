package platform

import (
	"strconv"
	"strings"
)

// NewDarwinStrategy builds the macOS variant. ss does not exist on
// macOS, so the probe order is lsof then netstat.
func NewDarwinStrategy(opts ...Option) Strategy {
	o := applyOptions(opts)
	name := o.processName
	if name == "" {
		name = "language_server_macos"
	}
	s := &unixStrategy{
		processName: name,
		toolOrder:   []portTool{toolLsof, toolNetstat},
	}
	s.netstatArgs = func(int) []string { return []string{"-anv", "-p", "tcp"} }
	s.parseNetstatPorts = parseDarwinNetstatPorts
	return s
}

// macOS netstat -anv layout (pid in the 9th column, dotted local addr):
//
//	tcp4 0 0 127.0.0.1.42100 *.* LISTEN 131072 131072 4242 0 ...
func parseDarwinNetstatPorts(raw string, pid int) []int {
	pidStr := strconv.Itoa(pid)
	var ports []int
	for _, line := range strings.Split(raw, "\n") {
		if !strings.Contains(line, "LISTEN") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[8] != pidStr {
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
