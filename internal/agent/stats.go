package agent

import (
	"math"
	"time"

	"github.com/edvin/fleet/internal/model"
)

func diskStats(total, free uint64, now time.Time) *model.DiskStats {
	checked := now.UTC()
	s := &model.DiskStats{
		TotalBytes: &total,
		FreeBytes:  &free,
		CheckedAt:  &checked,
	}
	if total > 0 {
		pct := math.Round(float64(free)/float64(total)*10000) / 100
		s.FreePercent = &pct
	}
	return s
}
