//go:build linux || darwin

package agent

import (
	"fmt"
	"syscall"
	"time"

	"github.com/edvin/fleet/internal/model"
)

// StatDisk reports free space on the filesystem holding path. Free space is
// what an unprivileged process can still allocate.
func StatDisk(path string, now time.Time) (*model.DiskStats, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}
	total := uint64(stat.Blocks) * uint64(stat.Bsize)
	free := uint64(stat.Bavail) * uint64(stat.Bsize)
	return diskStats(total, free, now), nil
}
