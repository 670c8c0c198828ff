package manager

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// PrintStatus renders a human-readable dump of the registry for operators:
// every adaptor with its refcount, every chain with refcount and run state,
// every sensor with its controller and listener peers.
func (m *Manager) PrintStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder

	b.WriteString("  Adaptors:\n")
	for id, entry := range m.adaptorInstances {
		fmt.Fprintf(&b, "    %s (%s) [%d listener(s)]\n", id, entry.typ, entry.refcount)
	}

	b.WriteString("  Chains:\n")
	for id, entry := range m.chainInstances {
		state := "Stopped"
		if entry.chain != nil && entry.chain.Running() {
			state = "Running"
		}
		fmt.Fprintf(&b, "    %s (%s) [%d listener(s)]. %s\n", id, entry.typ, entry.refcount, state)
	}

	b.WriteString("  Logical sensors:\n")
	for id, entry := range m.sensorInstances {
		var line strings.Builder
		fmt.Fprintf(&line, "    %s (%s) [", id, entry.typ)
		if entry.controllingSession > 0 {
			fmt.Fprintf(&line, "Control (PID: %s) + ", m.sessionPeerLocked(entry.controllingSession))
		} else {
			line.WriteString("No control, ")
		}
		if len(entry.listenSessions) > 0 {
			peers := make([]string, 0, len(entry.listenSessions))
			for _, s := range entry.listenSessions {
				peers = append(peers, m.sessionPeerLocked(s))
			}
			fmt.Fprintf(&line, "%d listen session(s), PID(s): %s]", len(entry.listenSessions), strings.Join(peers, ", "))
		} else {
			line.WriteString("No listen sessions]")
		}
		state := "Stopped"
		if entry.sensor != nil && entry.sensor.Running() {
			state = "Running"
		}
		fmt.Fprintf(&b, "%s. %s\n", line.String(), state)
	}

	return b.String()
}

// sessionPeerLocked translates a session to its peer PID, annotated with
// the process name when resolvable.
func (m *Manager) sessionPeerLocked(sessionID int64) string {
	if m.sockets == nil {
		return "n/a"
	}
	pid, err := m.sockets.PID(sessionID)
	if err != nil {
		return "n/a"
	}
	if proc, err := process.NewProcess(int32(pid)); err == nil {
		if name, err := proc.Name(); err == nil {
			return fmt.Sprintf("%d (%s)", pid, name)
		}
	}
	return fmt.Sprintf("%d", pid)
}
