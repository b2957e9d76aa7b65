package metrics

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats describes the relay process.
type ProcessStats struct {
	CPUPercent       float64 `json:"cpuPercent"`
	SystemCPUPercent float64 `json:"systemCpuPercent"`
	RSSBytes         uint64  `json:"rssBytes"`
	SystemMemUsed    uint64  `json:"systemMemUsedBytes"`
	Goroutines       int     `json:"goroutines"`
}

// ProcessSampler reads CPU and memory figures for the current process.
type ProcessSampler struct {
	proc *process.Process
}

func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("metrics: open process: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample returns whatever figures are readable; unreadable ones stay zero.
func (p *ProcessSampler) Sample() ProcessStats {
	s := ProcessStats{Goroutines: runtime.NumGoroutine()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.SystemCPUPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.SystemMemUsed = vmem.Used
	}
	if p == nil || p.proc == nil {
		return s
	}
	if pct, err := p.proc.CPUPercent(); err == nil {
		s.CPUPercent = pct
	}
	if info, err := p.proc.MemoryInfo(); err == nil {
		s.RSSBytes = info.RSS
	}
	return s
}
