// Package status reports host resource usage and local cache occupancy for
// the operational status endpoint.
package status

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fleettrack/tile-proxy/pkg/cache"
	"github.com/fleettrack/tile-proxy/pkg/logging"
)

// Memory describes host memory usage.
type Memory struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// CPU describes host CPU usage.
type CPU struct {
	Cores       int     `json:"cores"`
	UsedPercent float64 `json:"used_percent"`
}

// Disk describes usage of the filesystem the process runs on.
type Disk struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// LocalCache describes local tier occupancy.
type LocalCache struct {
	Entries     int     `json:"entries"`
	Capacity    int     `json:"capacity"`
	UsedPercent float64 `json:"used_percent"`
}

// Report is one status snapshot.
type Report struct {
	Timestamp     time.Time  `json:"timestamp"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	Memory        Memory     `json:"memory"`
	CPU           CPU        `json:"cpu"`
	Disk          Disk       `json:"disk"`
	LocalCache    LocalCache `json:"local_cache"`
}

// Reporter builds status snapshots. Host probes that fail leave their
// section zero-valued; a status request never errors.
type Reporter struct {
	local    *cache.LocalCache
	diskPath string
	started  time.Time
	logger   zerolog.Logger
}

// NewReporter creates a Reporter for the given local cache tier.
func NewReporter(local *cache.LocalCache) *Reporter {
	return &Reporter{
		local:    local,
		diskPath: "/",
		started:  time.Now(),
		logger:   logging.NewLogger("status"),
	}
}

// Snapshot probes the host and the local cache tier.
func (r *Reporter) Snapshot(ctx context.Context) Report {
	now := time.Now()
	report := Report{
		Timestamp:     now,
		UptimeSeconds: now.Sub(r.started).Seconds(),
		Disk:          Disk{Path: r.diskPath},
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Memory probe failed")
	} else {
		report.Memory = Memory{
			TotalBytes:     vm.Total,
			AvailableBytes: vm.Available,
			UsedBytes:      vm.Used,
			UsedPercent:    vm.UsedPercent,
		}
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err != nil {
		r.logger.Warn().Err(err).Msg("CPU count probe failed")
	} else {
		report.CPU.Cores = cores
	}
	// Interval 0 measures since the previous call, so repeated status
	// requests see recent usage without blocking.
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		r.logger.Warn().Err(err).Msg("CPU usage probe failed")
	} else if len(percents) > 0 {
		report.CPU.UsedPercent = percents[0]
	}

	if usage, err := disk.UsageWithContext(ctx, r.diskPath); err != nil {
		r.logger.Warn().Err(err).Msg("Disk probe failed")
	} else {
		report.Disk = Disk{
			Path:        r.diskPath,
			TotalBytes:  usage.Total,
			FreeBytes:   usage.Free,
			UsedPercent: usage.UsedPercent,
		}
	}

	entries := r.local.Len()
	capacity := r.local.Capacity()
	report.LocalCache = LocalCache{Entries: entries, Capacity: capacity}
	if capacity > 0 {
		report.LocalCache.UsedPercent = float64(entries) / float64(capacity) * 100
	}

	return report
}
