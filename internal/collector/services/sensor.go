// Package services adapts the teacher's gopsutil-backed sensor wrappers
// to the inventory domain: each Result type below keeps only the fields
// collector.go's §6 row mappings actually read, trimmed from the
// teacher's wider dashboard snapshots.
package services

import "context"

// Sensor defines the interface for all system sensors.
type Sensor interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Collect(ctx context.Context) (any, error)
}
