package procutil

// ProcessInfo describes one running process as seen by the cmdline scan.
type ProcessInfo struct {
	PID  int
	Args []string
}
