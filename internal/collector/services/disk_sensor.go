package services

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// PartitionStat is the per-mount metadata kept for the "hwinfo" row
// mapping (§6), which only reports a partition count — usage/IO-counter
// detail the teacher's dashboard collected has no consumer here and is
// dropped rather than fetched and discarded.
type PartitionStat struct {
	Device     string
	Mountpoint string
	Fstype     string
}

type DiskResult struct {
	Partitions []PartitionStat
}

type DiskSensor struct{}

func NewDiskSensor() *DiskSensor {
	return &DiskSensor{}
}

func (s *DiskSensor) Name() string {
	return "Disk"
}

func (s *DiskSensor) Connect(ctx context.Context) error {
	return nil
}

func (s *DiskSensor) Disconnect(ctx context.Context) error {
	return nil
}

func (s *DiskSensor) Collect(ctx context.Context) (any, error) {
	partitions, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get partitions: %w", err)
	}

	partStats := make([]PartitionStat, 0, len(partitions))
	for _, p := range partitions {
		partStats = append(partStats, PartitionStat{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			Fstype:     p.Fstype,
		})
	}

	return DiskResult{Partitions: partStats}, nil
}
