// Package sysinfo reports host resources relevant to transcoding: free
// space where outputs land and CPU load.
package sysinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

type Report struct {
	Path            string  `json:"path"`
	DiskTotalBytes  uint64  `json:"disk_total_bytes"`
	DiskFreeBytes   uint64  `json:"disk_free_bytes"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
	MemAvailable    uint64  `json:"mem_available_bytes,omitempty"`
	CPUs            int     `json:"cpus"`
	Load1           float64 `json:"load1"`
	Load5           float64 `json:"load5"`
	Load15          float64 `json:"load15"`
	LoadAvailable   bool    `json:"load_available"`
}

// Collect inspects the filesystem holding path. Disk usage is required;
// load and memory are best effort since some platforms lack them.
func Collect(ctx context.Context, path string) (*Report, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("disk usage for %q: %w", path, err)
	}

	r := &Report{
		Path:            path,
		DiskTotalBytes:  usage.Total,
		DiskFreeBytes:   usage.Free,
		DiskUsedPercent: usage.UsedPercent,
		CPUs:            runtime.NumCPU(),
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		r.CPUs = n
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		r.Load1, r.Load5, r.Load15 = avg.Load1, avg.Load5, avg.Load15
		r.LoadAvailable = true
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.MemAvailable = vm.Available
	}
	return r, nil
}

// LowDisk reports whether free space is under minFree bytes.
func (r *Report) LowDisk(minFree uint64) bool {
	return r.DiskFreeBytes < minFree
}

// Saturated reports whether the one-minute load exceeds the CPU count.
func (r *Report) Saturated() bool {
	return r.LoadAvailable && r.CPUs > 0 && r.Load1 > float64(r.CPUs)
}
