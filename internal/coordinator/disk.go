package coordinator

import (
	"fmt"

	"golang.org/x/sys/unix"

	"foundry/internal/logging"
)

var statfs = unix.Statfs

// DiskSpaceError reports insufficient free disk space for new artifacts.
type DiskSpaceError struct {
	FreeMiB uint64
	MinMiB  uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for artifacts: %d MiB free, %d MiB required", e.FreeMiB, e.MinMiB)
}

// checkDiskSpace rejects submissions when the artifacts volume is below the
// configured free-space floor.
func (c *Coordinator) checkDiskSpace() error {
	minMiB := c.cfg.Limits.MinFreeDiskMiB
	if minMiB <= 0 {
		return nil
	}
	var stat unix.Statfs_t
	if err := statfs(c.cfg.Paths.ArtifactsDir, &stat); err != nil {
		// Preflight is advisory; an unreadable mount should not block submission.
		c.logger.Warn("disk preflight unavailable", logging.Error(err))
		return nil
	}
	freeMiB := stat.Bavail * uint64(stat.Bsize) / (1 << 20)
	if freeMiB < uint64(minMiB) {
		return &DiskSpaceError{FreeMiB: freeMiB, MinMiB: uint64(minMiB)}
	}
	return nil
}
