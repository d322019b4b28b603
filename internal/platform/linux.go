package platform

import (
	"strconv"
	"strings"
)

// NewLinuxStrategy builds the Linux variant: ps for process listing,
// lsof preferred for ports with ss and netstat as fallbacks.
func NewLinuxStrategy(opts ...Option) Strategy {
	o := applyOptions(opts)
	name := o.processName
	if name == "" {
		name = "language_server_linux_x64"
	}
	s := &unixStrategy{
		processName: name,
		toolOrder:   []portTool{toolLsof, toolSS, toolNetstat},
	}
	s.netstatArgs = func(int) []string { return []string{"-tlnp"} }
	s.parseNetstatPorts = parseLinuxNetstatPorts
	return s
}

// Linux netstat -tlnp layout:
//
//	tcp 0 0 127.0.0.1:42100 0.0.0.0:* LISTEN 4242/language_serve
func parseLinuxNetstatPorts(raw string, pid int) []int {
	pidPrefix := strconv.Itoa(pid) + "/"
	var ports []int
	for _, line := range strings.Split(raw, "\n") {
		if !strings.Contains(line, "LISTEN") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		if !strings.HasPrefix(fields[6], pidPrefix) {
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
