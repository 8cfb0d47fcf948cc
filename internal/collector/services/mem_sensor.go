package services

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// MemResult keeps the three fields the "hwinfo" row mapping reads (§6):
// total/used bytes and the used-percent figure. The teacher's wider
// dashboard struct (swap, huge pages, per-OS VM counters) has no
// consumer in this table and is dropped rather than collected unused.
type MemResult struct {
	UsedPercent float64
	Used        uint64
	Total       uint64
}

type MemSensor struct{}

func NewMemSensor() *MemSensor {
	return &MemSensor{}
}

func (s *MemSensor) Name() string {
	return "Memory"
}

func (s *MemSensor) Connect(ctx context.Context) error {
	return nil
}

func (s *MemSensor) Disconnect(ctx context.Context) error {
	return nil
}

func (s *MemSensor) Collect(ctx context.Context) (any, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual memory: %w", err)
	}

	return MemResult{
		UsedPercent: v.UsedPercent,
		Used:        v.Used,
		Total:       v.Total,
	}, nil
}
