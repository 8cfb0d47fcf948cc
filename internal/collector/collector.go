// Package collector implements the Collector contract from spec §4.7: a
// handful of synchronous snapshot methods plus two sink-driven streaming
// methods, wired to the §6 collector -> DBSync table mapping. The teacher
// repo's gopsutil-backed sensor services (internal/collector/services)
// supply the actual OS telemetry; this package repoints their output from
// the teacher's bespoke monitoring RawStats struct onto that table
// mapping instead.
package collector

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	gonet "github.com/shirou/gopsutil/v4/net"

	"agentcore/internal/collector/services"
	"agentcore/internal/dbsync"
)

// Collector implements spec §4.7's contract against the local host.
type Collector struct {
	cfg      Config
	host     *services.HostSensor
	cpu      *services.CPUSensor
	mem      *services.MemSensor
	net      *services.NetSensor
	disk     *services.DiskSensor
	physical *services.PhysicalSensor
	docker   *services.DockerSensor
	process  *services.ProcessSensor
	logger   *slog.Logger
}

// New builds a Collector with every sensor wired to its gopsutil backend.
func New(cfg Config, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:      cfg,
		host:     services.NewHostSensor(),
		cpu:      services.NewCPUSensor(),
		mem:      services.NewMemSensor(),
		net:      services.NewNetSensor(),
		disk:     services.NewDiskSensor(),
		physical: services.NewPhysicalSensor(),
		docker:   services.NewDockerSensor(),
		process:  services.NewProcessSensor(),
		logger:   logger,
	}
}

// Hardware returns one snapshot row for the "hwinfo" table (§6): CPU,
// memory, disk, and temperature-sensor facts folded into one wide row,
// plus Docker container counts as enrichment rather than a dropped
// teacher feature.
func (c *Collector) Hardware(ctx context.Context) (dbsync.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SnapshotTimeout)
	defer cancel()

	cpuAny, err := c.cpu.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: hardware/cpu: %w", err)
	}
	cpuResult := cpuAny.(services.CPUResult)

	memAny, err := c.mem.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: hardware/mem: %w", err)
	}
	memResult := memAny.(services.MemResult)

	diskAny, err := c.disk.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: hardware/disk: %w", err)
	}
	diskResult := diskAny.(services.DiskResult)

	row := dbsync.Row{
		"cpu_model":      dbsync.TextValue(cpuResult.Model),
		"cpu_cores":      dbsync.Int32Value(int32(cpuResult.Cores)),
		"cpu_usage_pct":  dbsync.DoubleValue(cpuResult.TotalUsage),
		"mem_total":      dbsync.UInt64Value(memResult.Total),
		"mem_used":       dbsync.UInt64Value(memResult.Used),
		"mem_used_pct":   dbsync.DoubleValue(memResult.UsedPercent),
		"disk_partitions": dbsync.Int32Value(int32(len(diskResult.Partitions))),
	}

	if c.cfg.EnableTemperatures {
		if physAny, err := c.physical.Collect(ctx); err == nil {
			phys := physAny.(services.PhysicalResult)
			if len(phys.Temperatures) > 0 {
				row["temp_sensor_count"] = dbsync.Int32Value(int32(len(phys.Temperatures)))
				row["temp_first_celsius"] = dbsync.DoubleValue(phys.Temperatures[0].Temperature)
			}
		}
	}

	if c.cfg.EnableDockerMetrics {
		if dockerAny, err := c.docker.Collect(ctx); err == nil {
			if n, ok := dockerContainerCount(dockerAny); ok {
				row["docker_container_count"] = dbsync.Int32Value(int32(n))
			}
		}
	}

	return row, nil
}

// OS returns one snapshot row for the "osinfo" table (§6).
func (c *Collector) OS(ctx context.Context) (dbsync.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SnapshotTimeout)
	defer cancel()

	result, err := c.host.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: os: %w", err)
	}
	h := result.(services.HostResult)
	return dbsync.Row{
		"hostname":         dbsync.TextValue(h.Hostname),
		"os_name":          dbsync.TextValue(h.OS),
		"platform":         dbsync.TextValue(h.Platform),
		"platform_family":  dbsync.TextValue(h.PlatformFamily),
		"platform_version": dbsync.TextValue(h.PlatformVersion),
		"kernel_version":   dbsync.TextValue(h.KernelVersion),
		"kernel_arch":      dbsync.TextValue(h.KernelArch),
		"host_id":          dbsync.TextValue(h.HostID),
		"boot_time":        dbsync.UInt64Value(h.BootTime),
		"uptime_seconds":   dbsync.UInt64Value(h.Uptime),
	}, nil
}

// NetworkSnapshot is the three-table fan-out networks() produces per §6:
// network_iface, network_protocol, network_address.
type NetworkSnapshot struct {
	Interfaces []dbsync.Row
	Protocols  []dbsync.Row
	Addresses  []dbsync.Row
}

// Networks returns the "network_iface"/"network_protocol"/"network_address"
// rows for every interface on the host (§6).
func (c *Collector) Networks(ctx context.Context) (NetworkSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SnapshotTimeout)
	defer cancel()

	var snap NetworkSnapshot

	ioAny, err := c.net.Collect(ctx)
	if err != nil {
		return snap, fmt.Errorf("collector: networks/io: %w", err)
	}
	io := ioAny.(services.NetResult)
	for _, iface := range io.Interfaces {
		snap.Interfaces = append(snap.Interfaces, dbsync.Row{
			"name":         dbsync.TextValue(iface.Name),
			"bytes_sent":   dbsync.UInt64Value(iface.BytesSent),
			"bytes_recv":   dbsync.UInt64Value(iface.BytesRecv),
			"packets_sent": dbsync.UInt64Value(iface.PacketsSent),
			"packets_recv": dbsync.UInt64Value(iface.PacketsRecv),
			"errors_in":    dbsync.UInt64Value(iface.ErrIn),
			"errors_out":   dbsync.UInt64Value(iface.ErrOut),
		})
	}

	ifaces, err := gonet.InterfacesWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("collector: networks/addresses: %w", err)
	}
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			family := "ipv4"
			if strings.Contains(addr.Addr, ":") {
				family = "ipv6"
			}
			snap.Addresses = append(snap.Addresses, dbsync.Row{
				"iface":   dbsync.TextValue(iface.Name),
				"address": dbsync.TextValue(addr.Addr),
				"family":  dbsync.TextValue(family),
			})
			snap.Protocols = append(snap.Protocols, dbsync.Row{
				"iface":    dbsync.TextValue(iface.Name),
				"protocol": dbsync.TextValue(family),
			})
		}
	}

	return snap, nil
}

// Ports returns one row per listening/established socket, for the "ports"
// table (§6). gopsutil's net.Connections already does the per-OS
// enumeration the original's platform-specific providers hand-roll.
func (c *Collector) Ports(ctx context.Context) ([]dbsync.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SnapshotTimeout)
	defer cancel()

	conns, err := gonet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("collector: ports: %w", err)
	}
	rows := make([]dbsync.Row, 0, len(conns))
	for _, conn := range conns {
		rows = append(rows, dbsync.Row{
			"local_addr":  dbsync.TextValue(conn.Laddr.IP),
			"local_port":  dbsync.Int32Value(int32(conn.Laddr.Port)),
			"remote_addr": dbsync.TextValue(conn.Raddr.IP),
			"remote_port": dbsync.Int32Value(int32(conn.Raddr.Port)),
			"status":      dbsync.TextValue(conn.Status),
			"pid":         dbsync.Int32Value(conn.Pid),
		})
	}
	return rows, nil
}

// Hotfixes returns the "hotfixes" table rows. Per §1 Non-goals
// ("Windows-specific data sources" out of scope for the core) this is a
// no-op stub that returns no rows on every host, Windows included; the
// original's packagesWindowsParserHelper.h registry parsing is not
// replicated.
func (c *Collector) Hotfixes(ctx context.Context) ([]dbsync.Row, error) {
	if runtime.GOOS != "windows" {
		return nil, nil
	}
	return nil, nil
}

// Packages streams one row per installed package into sink, for the
// "packages" table (§6). Best-effort: shells out to dpkg-query on
// Debian-family hosts and rpm -qa on RPM-family hosts, matching the
// spirit of the original's per-distro package provider without
// replicating its parser.
func (c *Collector) Packages(ctx context.Context, sink func(dbsync.Row) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StreamTimeout)
	defer cancel()

	var cmd *exec.Cmd
	var parse func(line string) (dbsync.Row, bool)

	switch {
	case commandExists("dpkg-query"):
		cmd = exec.CommandContext(ctx, "dpkg-query", "-W", "-f=${Package}\t${Version}\t${Architecture}\n")
		parse = func(line string) (dbsync.Row, bool) {
			parts := strings.SplitN(line, "\t", 3)
			if len(parts) != 3 {
				return nil, false
			}
			return dbsync.Row{
				"name":    dbsync.TextValue(parts[0]),
				"version": dbsync.TextValue(parts[1]),
				"arch":    dbsync.TextValue(parts[2]),
			}, true
		}
	case commandExists("rpm"):
		cmd = exec.CommandContext(ctx, "rpm", "-qa", "--qf", "%{NAME}\t%{VERSION}\t%{ARCH}\n")
		parse = func(line string) (dbsync.Row, bool) {
			parts := strings.SplitN(line, "\t", 3)
			if len(parts) != 3 {
				return nil, false
			}
			return dbsync.Row{
				"name":    dbsync.TextValue(parts[0]),
				"version": dbsync.TextValue(parts[1]),
				"arch":    dbsync.TextValue(parts[2]),
			}, true
		}
	default:
		c.logger.Warn("collector: no supported package manager found on this host")
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("collector: packages: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("collector: packages: %w", err)
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		row, ok := parse(scanner.Text())
		if !ok {
			continue
		}
		if err := sink(row); err != nil {
			_ = cmd.Process.Kill()
			return err
		}
	}
	return cmd.Wait()
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Processes streams one row per running process into sink, for the
// "processes" table (§6), generalizing the teacher's
// PID-enumeration-with-per-PID-best-effort pattern
// (services/process_sensor.go) from a capped batch into an unbounded
// stream.
func (c *Collector) Processes(ctx context.Context, sink func(dbsync.Row) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StreamTimeout)
	defer cancel()

	return c.process.Stream(ctx, func(p services.ProcessInfo) error {
		return sink(dbsync.Row{
			"pid":            dbsync.Int32Value(p.PID),
			"name":           dbsync.TextValue(p.Name),
			"cpu_percent":    dbsync.DoubleValue(p.CPU),
			"memory_percent": dbsync.DoubleValue(float64(p.Memory)),
		})
	})
}

// dockerContainerCount best-effort extracts a container count out of the
// teacher's DockerResult shape without importing its concrete type here
// (kept loosely coupled since Docker enrichment is optional, best-effort
// hwinfo data, not a required column).
func dockerContainerCount(v any) (int, bool) {
	type counter interface{ ContainerCount() int }
	if c, ok := v.(counter); ok {
		return c.ContainerCount(), true
	}
	return 0, false
}
