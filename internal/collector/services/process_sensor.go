package services

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

type ProcessInfo struct {
	PID    int32   `json:"pid"`
	Name   string  `json:"name,omitempty"`
	CPU    float64 `json:"cpu_percent,omitempty"`
	Memory float32 `json:"memory_percent,omitempty"`
}

type ProcessResult struct {
	Processes []ProcessInfo `json:"processes"`
}

type ProcessSensor struct{}

func NewProcessSensor() *ProcessSensor {
	return &ProcessSensor{}
}

func (s *ProcessSensor) Name() string {
	return "Process"
}

func (s *ProcessSensor) Connect(ctx context.Context) error {
	return nil
}

func (s *ProcessSensor) Disconnect(ctx context.Context) error {
	return nil
}

func (s *ProcessSensor) Collect(ctx context.Context) (any, error) {
	var processes []ProcessInfo
	err := s.Stream(ctx, func(p ProcessInfo) error {
		processes = append(processes, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ProcessResult{Processes: processes}, nil
}

// Stream enumerates every running process and invokes fn once per process,
// best-effort (a process that exits mid-enumeration, or whose fields can't
// be read, is skipped rather than aborting the whole sweep). There is no
// result-count cap (Collect buffers this same stream): this is the shape
// spec §4.7 wants for collectors with potentially large result sets.
func (s *ProcessSensor) Stream(ctx context.Context, fn func(ProcessInfo) error) error {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pids: %w", err)
	}

	for _, pid := range pids {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)

		if err := fn(ProcessInfo{PID: pid, Name: name, CPU: cpuPct, Memory: memPct}); err != nil {
			return err
		}
	}
	return nil
}
