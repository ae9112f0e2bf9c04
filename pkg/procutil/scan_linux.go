//go:build linux

package procutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ScanCmdlines enumerates running processes and their command lines by
// reading /proc. Processes that disappear mid-scan or whose cmdline cannot
// be read are skipped.
func ScanCmdlines() ([]ProcessInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	var procs []ProcessInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		raw, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil || len(raw) == 0 {
			continue
		}

		args := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
		procs = append(procs, ProcessInfo{PID: pid, Args: args})
	}
	return procs, nil
}
