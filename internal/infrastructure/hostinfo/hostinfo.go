// Package hostinfo samples resource usage of the machine the relay runs on.
package hostinfo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one sample. Fields whose collector failed are left zero.
type Snapshot struct {
	SampledAt       time.Time     `json:"sampled_at"`
	Uptime          time.Duration `json:"uptime_ns"`
	Load1           float64       `json:"load1"`
	MemTotalBytes   uint64        `json:"mem_total_bytes"`
	MemUsedBytes    uint64        `json:"mem_used_bytes"`
	DiskPath        string        `json:"disk_path,omitempty"`
	DiskFreeBytes   uint64        `json:"disk_free_bytes"`
	DiskUsedPercent float64       `json:"disk_used_percent"`
}

// Sampler collects a Snapshot. The collector funcs default to gopsutil and
// are swapped in tests.
type Sampler struct {
	diskPath string

	uptime func(context.Context) (uint64, error)
	avg    func(context.Context) (*load.AvgStat, error)
	vmem   func(context.Context) (*mem.VirtualMemoryStat, error)
	usage  func(context.Context, string) (*disk.UsageStat, error)
	now    func() time.Time
}

// NewSampler returns a sampler that reports free space of the filesystem
// holding diskPath ("" skips the disk sample).
func NewSampler(diskPath string) *Sampler {
	return &Sampler{
		diskPath: diskPath,
		uptime:   host.UptimeWithContext,
		avg:      load.AvgWithContext,
		vmem:     mem.VirtualMemoryWithContext,
		usage:    disk.UsageWithContext,
		now:      time.Now,
	}
}

// Sample collects every metric it can. The error joins the failures of
// individual collectors; the snapshot is valid even when it is non-nil.
func (s *Sampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{SampledAt: s.now()}
	var errs []error

	if up, err := s.uptime(ctx); err != nil {
		errs = append(errs, fmt.Errorf("uptime: %w", err))
	} else {
		snap.Uptime = time.Duration(up) * time.Second
	}

	if avg, err := s.avg(ctx); err != nil {
		errs = append(errs, fmt.Errorf("load: %w", err))
	} else {
		snap.Load1 = avg.Load1
	}

	if vm, err := s.vmem(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		snap.MemTotalBytes = vm.Total
		snap.MemUsedBytes = vm.Used
	}

	if s.diskPath != "" {
		if du, err := s.usage(ctx, s.diskPath); err != nil {
			errs = append(errs, fmt.Errorf("disk %s: %w", s.diskPath, err))
		} else {
			snap.DiskPath = s.diskPath
			snap.DiskFreeBytes = du.Free
			snap.DiskUsedPercent = du.UsedPercent
		}
	}

	return snap, errors.Join(errs...)
}
