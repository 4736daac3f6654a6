package preflight

import (
	"fmt"
	"syscall"
)

// MinDiskSpaceBytes is the free-space floor for the data directory (100 MB).
// Index builds stage a full copy of the index before swapping it in, so a
// nearly full disk fails the build rather than the swap.
const MinDiskSpaceBytes = 100 << 20

// CheckDiskSpace reports free space on the filesystem holding the data
// directory. An unreadable filesystem downgrades to a warning since some
// environments (containers, network mounts) reject statfs.
func (c *Checker) CheckDiskSpace() CheckResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.cfg.DataDir, &stat); err != nil {
		return CheckResult{
			Name:    "disk_space",
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot check disk space: %v", err),
		}
	}

	free := stat.Bavail * uint64(stat.Bsize)
	status := StatusPass
	if free < MinDiskSpaceBytes {
		status = StatusFail
	}
	return CheckResult{
		Name:     "disk_space",
		Status:   status,
		Message:  fmt.Sprintf("%s free (minimum: 100 MB)", formatBytes(free)),
		Required: true,
	}
}

func formatBytes(n uint64) string {
	units := []string{"KB", "MB", "GB", "TB"}
	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	v := float64(n)
	unit := ""
	for _, u := range units {
		v /= 1024
		unit = u
		if v < 1024 {
			break
		}
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}
