// Package agentmodule supplies the one concrete modulemgr.Module this
// agent ships: a poll loop that pulls snapshots from a collector.Collector,
// feeds them through a dbsync.DeltaEngine to turn raw sensor output into
// row-level delta events, and forwards each event to the Module Manager's
// injected push callback. Grounded on the teacher's
// internal/database/data_worker.go (DataWorker.loop: ticker-driven
// Start/Stop/execute cycle, wg.Wait() on Stop).
package agentmodule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentcore/internal/collector"
	"agentcore/internal/dbsync"
	"agentcore/internal/modulemgr"
)

const defaultPollInterval = 20 * time.Second

// tableDDLs is the §6 collector -> table schema bootstrap this module owns.
var tableDDLs = []string{
	`CREATE TABLE IF NOT EXISTS hwinfo (
		scan_id TEXT PRIMARY KEY,
		cpu_model TEXT,
		cpu_cores INT32,
		cpu_usage_pct DOUBLE,
		mem_total UINT64,
		mem_used UINT64,
		mem_used_pct DOUBLE,
		disk_partitions INT32,
		temp_sensor_count INT32,
		temp_first_celsius DOUBLE,
		docker_container_count INT32
	)`,
	`CREATE TABLE IF NOT EXISTS osinfo (
		host_id TEXT PRIMARY KEY,
		hostname TEXT,
		os_name TEXT,
		platform TEXT,
		platform_family TEXT,
		platform_version TEXT,
		kernel_version TEXT,
		kernel_arch TEXT,
		boot_time UINT64,
		uptime_seconds UINT64
	)`,
	`CREATE TABLE IF NOT EXISTS network_iface (
		name TEXT PRIMARY KEY,
		bytes_sent UINT64,
		bytes_recv UINT64,
		packets_sent UINT64,
		packets_recv UINT64,
		errors_in UINT64,
		errors_out UINT64
	)`,
	`CREATE TABLE IF NOT EXISTS network_address (
		iface TEXT PRIMARY KEY,
		address TEXT PRIMARY KEY,
		family TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS network_protocol (
		iface TEXT PRIMARY KEY,
		protocol TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS ports (
		local_addr TEXT PRIMARY KEY,
		local_port INT32 PRIMARY KEY,
		remote_addr TEXT,
		remote_port INT32,
		status TEXT,
		pid INT32
	)`,
	`CREATE TABLE IF NOT EXISTS packages (
		name TEXT PRIMARY KEY,
		version TEXT PRIMARY KEY,
		arch TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS processes (
		pid INT32 PRIMARY KEY,
		name TEXT,
		cpu_percent DOUBLE,
		memory_percent DOUBLE
	)`,
}

// TelemetryModule is the modulemgr.Module that drives the collector ->
// dbsync -> queue pipeline on a fixed interval.
type TelemetryModule struct {
	collector *collector.Collector
	engine    *dbsync.DeltaEngine
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New constructs a TelemetryModule. Bootstrap must be called once before
// Start so the tables this module writes to already exist.
func New(c *collector.Collector, engine *dbsync.DeltaEngine, logger *slog.Logger) *TelemetryModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryModule{collector: c, engine: engine, interval: defaultPollInterval, logger: logger}
}

// Bootstrap registers every table this module writes to against engine.
func Bootstrap(ctx context.Context, engine *dbsync.DeltaEngine) error {
	for _, ddl := range tableDDLs {
		if _, err := engine.RegisterTable(ctx, ddl); err != nil {
			return fmt.Errorf("agentmodule: bootstrap: %w", err)
		}
	}
	return nil
}

func (m *TelemetryModule) Name() string { return "telemetry" }

// Start begins the periodic collect-diff-push loop. It returns once ctx is
// cancelled or Stop is called; errors during one cycle are logged and the
// loop continues, matching the teacher's "log and keep polling" behavior.
func (m *TelemetryModule) Start(ctx context.Context, push func(modulemgr.Message) int32) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("agentmodule: telemetry module already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if err := m.execute(runCtx, push); err != nil {
		m.logger.Error("telemetry: initial cycle failed", "error", err)
	}

	for {
		select {
		case <-runCtx.Done():
			return nil
		case <-ticker.C:
			if err := m.execute(runCtx, push); err != nil {
				m.logger.Error("telemetry: cycle failed", "error", err)
			}
		}
	}
}

// Stop cancels the poll loop and waits for the in-flight cycle to return.
func (m *TelemetryModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return nil
}

func (m *TelemetryModule) execute(ctx context.Context, push func(modulemgr.Message) int32) error {
	if err := m.syncHardware(ctx, push); err != nil {
		m.logger.Warn("telemetry: hardware snapshot failed", "error", err)
	}
	if err := m.syncOS(ctx, push); err != nil {
		m.logger.Warn("telemetry: os snapshot failed", "error", err)
	}
	if err := m.syncNetworks(ctx, push); err != nil {
		m.logger.Warn("telemetry: network snapshot failed", "error", err)
	}
	if err := m.syncPorts(ctx, push); err != nil {
		m.logger.Warn("telemetry: ports snapshot failed", "error", err)
	}
	if err := m.syncPackages(ctx, push); err != nil {
		m.logger.Warn("telemetry: packages stream failed", "error", err)
	}
	if err := m.syncProcesses(ctx, push); err != nil {
		m.logger.Warn("telemetry: processes stream failed", "error", err)
	}
	return nil
}

func (m *TelemetryModule) syncHardware(ctx context.Context, push func(modulemgr.Message) int32) error {
	row, err := m.collector.Hardware(ctx)
	if err != nil {
		return err
	}
	row["scan_id"] = dbsync.TextValue("local")
	return m.snapshotOne(ctx, "hwinfo", row, push)
}

func (m *TelemetryModule) syncOS(ctx context.Context, push func(modulemgr.Message) int32) error {
	row, err := m.collector.OS(ctx)
	if err != nil {
		return err
	}
	row["host_id"] = row.Get("hostname")
	return m.snapshotOne(ctx, "osinfo", row, push)
}

func (m *TelemetryModule) syncNetworks(ctx context.Context, push func(modulemgr.Message) int32) error {
	snap, err := m.collector.Networks(ctx)
	if err != nil {
		return err
	}
	if err := m.snapshotMany(ctx, "network_iface", snap.Interfaces, push); err != nil {
		return err
	}
	if err := m.snapshotMany(ctx, "network_protocol", snap.Protocols, push); err != nil {
		return err
	}
	return m.snapshotMany(ctx, "network_address", snap.Addresses, push)
}

func (m *TelemetryModule) syncPorts(ctx context.Context, push func(modulemgr.Message) int32) error {
	rows, err := m.collector.Ports(ctx)
	if err != nil {
		return err
	}
	return m.snapshotMany(ctx, "ports", rows, push)
}

func (m *TelemetryModule) syncPackages(ctx context.Context, push func(modulemgr.Message) int32) error {
	var rows []dbsync.Row
	err := m.collector.Packages(ctx, func(r dbsync.Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return err
	}
	return m.snapshotMany(ctx, "packages", rows, push)
}

// syncProcesses streams rather than buffers: the process table can be
// large (§4.7 "potentially large result sets"), so each row is synced
// individually through SyncTableRowData instead of collected into one
// snapshot slice.
func (m *TelemetryModule) syncProcesses(ctx context.Context, push func(modulemgr.Message) int32) error {
	return m.collector.Processes(ctx, func(r dbsync.Row) error {
		ev, err := m.engine.SyncTableRowData(ctx, "processes", r, nil, false)
		if err != nil {
			return err
		}
		if ev != nil {
			m.dispatch("processes", *ev, push)
		}
		return nil
	})
}

func (m *TelemetryModule) snapshotOne(ctx context.Context, table string, row dbsync.Row, push func(modulemgr.Message) int32) error {
	return m.snapshotMany(ctx, table, []dbsync.Row{row}, push)
}

func (m *TelemetryModule) snapshotMany(ctx context.Context, table string, rows []dbsync.Row, push func(modulemgr.Message) int32) error {
	_, err := m.engine.UpdateWithSnapshot(ctx, table, rows, nil, func(ev dbsync.Event) {
		m.dispatch(table, ev, push)
	})
	return err
}

// dispatch turns one delta event into a queue message. Inserted/Modified
// rows are STATEFUL (latest value matters, superseded writes can be
// dropped); DELETED and error events are STATELESS, one-shot facts.
func (m *TelemetryModule) dispatch(table string, ev dbsync.Event, push func(modulemgr.Message) int32) {
	if push == nil {
		return
	}
	payload, err := encodeEvent(ev)
	if err != nil {
		m.logger.Error("telemetry: failed to encode event", "table", table, "error", err)
		return
	}

	stateful := ev.Kind == dbsync.Inserted || ev.Kind == dbsync.Modified
	msg := modulemgr.Message{
		Payload:    payload,
		ModuleName: "telemetry",
		ModuleType: table,
		Metadata:   ev.Kind.String(),
	}
	if stateful {
		msg.Kind = 1 // mtqueue.Stateful
	} else {
		msg.Kind = 0 // mtqueue.Stateless
	}
	push(msg)
}

// encodeEvent marshals a delta event into the wire payload pushed onto the
// queue. A marshal failure here means a column value didn't round-trip
// through encoding/json (e.g. a type Value.Any() can't represent), so it
// surfaces as a dbsync.JsonError rather than the bare encoding/json error,
// keeping it in the same §7 error taxonomy as the rest of this pipeline.
func encodeEvent(ev dbsync.Event) ([]byte, error) {
	out := make(map[string]any, len(ev.Row)+2)
	for col, v := range ev.Row {
		out[col] = v.Any()
	}
	out["_event"] = ev.Kind.String()
	if ev.Exception != "" {
		out["_error"] = ev.Exception
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, &dbsync.JsonError{ID: int(ev.Kind), Message: err.Error()}
	}
	return payload, nil
}
