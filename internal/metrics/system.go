// Package metrics reports host and staging-disk capacity for job preflight
// checks and the status endpoint.
package metrics

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SpoolUsage describes the filesystem backing a staging or archive directory.
type SpoolUsage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// HostInfo is the host summary shown on the status endpoint.
type HostInfo struct {
	Hostname      string `json:"hostname"`
	Platform      string `json:"platform"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
	MemoryTotal   uint64 `json:"memory_total"`
	MemoryUsed    uint64 `json:"memory_used"`
}

// GetSpoolUsage reports capacity for the filesystem holding path. The path is
// created if missing, since a fresh install has no staging directory until
// the first job.
func GetSpoolUsage(path string) (*SpoolUsage, error) {
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	usage, err := disk.Usage(abs)
	if err != nil {
		return nil, err
	}

	return &SpoolUsage{
		Path:        abs,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// FreeBytes returns the free space on the filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	usage, err := GetSpoolUsage(path)
	if err != nil {
		return 0, err
	}
	return usage.FreeBytes, nil
}

// GetHostInfo collects the host summary. Partial data is fine: a collector
// error leaves its fields zero rather than failing the status endpoint.
func GetHostInfo() *HostInfo {
	info := &HostInfo{}

	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.UptimeSeconds = h.Uptime
	}
	if m, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = m.Total
		info.MemoryUsed = m.Used
	}

	return info
}
