// Package health monitors system resources, service throughput, and named
// dependency checks, and raises threshold alerts.
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// SystemMetrics is one sample of host resource usage.
type SystemMetrics struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	MemoryUsedMB   float64   `json:"memory_used_mb"`
	DiskPercent    float64   `json:"disk_percent"`
	DiskFreeGB     float64   `json:"disk_free_gb"`
	NetBytesSent   uint64    `json:"net_bytes_sent"`
	NetBytesRecv   uint64    `json:"net_bytes_recv"`
}

// sampleSystem reads one resource snapshot. Individual probe failures leave
// the corresponding field at zero rather than failing the whole sample.
func sampleSystem(ctx context.Context, diskPath string) SystemMetrics {
	m := SystemMetrics{Timestamp: time.Now().UTC()}

	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		m.CPUPercent = percent[0]
	}
	if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryPercent = vmem.UsedPercent
		m.MemoryUsedMB = float64(vmem.Used) / 1024 / 1024
	}
	if usage, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		m.DiskPercent = usage.UsedPercent
		m.DiskFreeGB = float64(usage.Free) / 1024 / 1024 / 1024
	}
	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		m.NetBytesSent = counters[0].BytesSent
		m.NetBytesRecv = counters[0].BytesRecv
	}
	return m
}
