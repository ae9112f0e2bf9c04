//go:build !linux

package procutil

// ScanCmdlines is a no-op on platforms without /proc. The tracked-handle
// path in the supervisor remains the primary cleanup mechanism; the scan is
// only a secondary sweep.
func ScanCmdlines() ([]ProcessInfo, error) {
	return nil, nil
}
