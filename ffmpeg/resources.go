package ffmpeg

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceGuard refuses new decoders when the host is short on CPU, memory or disk.
// Zero thresholds disable the corresponding check.
type ResourceGuard struct {
	IdleCPU  float64 // minimum idle CPU percentage
	FreeMem  int64
	FreeDisk int64
	DiskPath string
	log      zerolog.Logger
}

func NewResourceGuard(idleCPU float64, freeMem, freeDisk int64, diskPath string, log zerolog.Logger) *ResourceGuard {
	return &ResourceGuard{
		IdleCPU:  idleCPU,
		FreeMem:  freeMem,
		FreeDisk: freeDisk,
		DiskPath: diskPath,
		log:      log,
	}
}

// Check verifies that the system has enough free resources to start a new decoder.
func (g *ResourceGuard) Check() error {
	if g.IdleCPU > 0 {
		p, err := cpu.Percent(200*time.Millisecond, false)
		if err != nil {
			g.log.Warn().Err(err).Msg("could not get CPU usage")
		} else if len(p) > 0 && p[0] > (100.0-g.IdleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], g.IdleCPU)
		}
	}

	if g.FreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			g.log.Warn().Err(err).Msg("could not get memory usage")
		} else if vm.Available < uint64(g.FreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, g.FreeMem)
		}
	}

	if g.FreeDisk > 0 && g.DiskPath != "" {
		d, err := disk.Usage(g.DiskPath)
		if err != nil {
			g.log.Warn().Err(err).Str("path", g.DiskPath).Msg("could not get disk usage")
		} else if d.Free < uint64(g.FreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, g.FreeDisk)
		}
	}
	return nil
}

// ProcessStats is a point-in-time resource sample of a decoder.
type ProcessStats struct {
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSS     uint64  `json:"memory_rss_bytes"`
	MemoryPercent float32 `json:"memory_percent"`
}

// Stats samples pid. It fails if the process is gone.
func Stats(pid int) (*ProcessStats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}

	stats := &ProcessStats{PID: pid}
	if c, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = c
	}
	if m, err := p.MemoryInfo(); err == nil && m != nil {
		stats.MemoryRSS = m.RSS
	}
	if m, err := p.MemoryPercent(); err == nil {
		stats.MemoryPercent = m
	}
	return stats, nil
}
