//go:build !linux && !darwin

package agent

import (
	"fmt"
	"runtime"
	"time"

	"github.com/edvin/fleet/internal/model"
)

func StatDisk(path string, now time.Time) (*model.DiskStats, error) {
	return nil, fmt.Errorf("disk stats not supported on %s", runtime.GOOS)
}
