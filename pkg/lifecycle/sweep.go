package lifecycle

import (
	"log"
	"strings"

	"github.com/z-roworld/livekit-agent/pkg/procutil"
)

// runnerMarker appears in the argv of every agent runner process.
const runnerMarker = "agent_runner"

// sweepRunners scans the process table for agent runners attached to the
// room that the tracked handles missed (e.g. survivors of a control-plane
// restart) and terminates them. Returns how many it killed.
func (m *Manager) sweepRunners(room string) int {
	tracked := make(map[int]bool)
	for _, pid := range m.procs.TrackedPIDs(room) {
		tracked[pid] = true
	}

	procs, err := procutil.ScanCmdlines()
	if err != nil {
		log.Printf("[Lifecycle] process sweep for room %q skipped: %v", room, err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		if tracked[p.PID] || !matchesRunner(p.Args, room) {
			continue
		}
		if err := procutil.TerminateByPID(p.PID); err != nil {
			log.Printf("[Lifecycle] failed to terminate stray runner pid %d: %v", p.PID, err)
			continue
		}
		log.Printf("[Lifecycle] terminated stray runner pid %d for room %q", p.PID, room)
		killed++
	}
	return killed
}

// matchesRunner reports whether a command line belongs to an agent runner
// for the given room: the binary name carries the runner marker and a
// --room flag names the room.
func matchesRunner(args []string, room string) bool {
	if len(args) == 0 {
		return false
	}
	marked := false
	for _, a := range args {
		if strings.Contains(a, runnerMarker) {
			marked = true
			break
		}
	}
	if !marked {
		return false
	}
	for i, a := range args {
		if a == "--room" && i+1 < len(args) && args[i+1] == room {
			return true
		}
	}
	return false
}
