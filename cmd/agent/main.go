// Command agent runs the endpoint agent daemon: a DBSync engine capturing
// host telemetry as row-level deltas, a Module Manager driving the one
// telemetry module on a poll loop, a MultiTypeQueue buffering its output
// durably, and an egress drainer best-effort delivering it onward.
// Grounded on the teacher's root main.go (numbered constructor-injection
// steps, defer Close/Stop, log.Fatalf on setup failure), generalized from
// its fixed Collector/Flagger/Repo/TUI pipeline to this spec's component
// set.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentcore/internal/agentmodule"
	"agentcore/internal/collector"
	"agentcore/internal/dbsync"
	"agentcore/internal/egress"
	"agentcore/internal/logging"
	"agentcore/internal/modulemgr"
	"agentcore/internal/mtqueue"
)

func main() {
	dbPath := flag.String("db-path", "agent.db", "path to the DBSync-managed database file (\":memory:\" for ephemeral)")
	queuePath := flag.String("queue-path", "agent-queue.db", "path to the MultiTypeQueue's database file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Open the DBSync backend and delta engine.
	backend, err := dbsync.Open(*dbPath, dbsync.WithLogger(logger))
	if err != nil {
		logger.Error("failed to open dbsync backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	engine := dbsync.NewDeltaEngine(backend)

	// 2. Bootstrap the telemetry tables this agent manages.
	if err := agentmodule.Bootstrap(ctx, engine); err != nil {
		logger.Error("failed to bootstrap telemetry tables", "error", err)
		os.Exit(1)
	}

	// 3. Open the durable work queue.
	queue, err := mtqueue.Open(mtqueue.NewConfig(mtqueue.WithPathData(*queuePath)), logger)
	if err != nil {
		logger.Error("failed to open queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	// 4. Wire the Module Manager's push callback onto the queue.
	push := func(msg modulemgr.Message) int32 {
		_, err := queue.Push(ctx, mtqueue.Message{
			Kind:       mtqueue.Kind(msg.Kind),
			Payload:    msg.Payload,
			ModuleName: msg.ModuleName,
			ModuleType: msg.ModuleType,
			Metadata:   msg.Metadata,
		}, false)
		if err != nil {
			logger.Error("failed to push module message", "module", msg.ModuleName, "error", err)
			return -1
		}
		return 0
	}

	// 5. Build the collector and its owning telemetry module.
	sensors := collector.New(collector.DefaultConfig(), logger)
	telemetry := agentmodule.New(sensors, engine, logger)

	// 6. Register and start the Module Manager.
	manager := modulemgr.New(push, logger)
	if err := manager.Register(telemetry); err != nil {
		logger.Error("failed to register telemetry module", "error", err)
		os.Exit(1)
	}
	manager.Start(ctx)

	// 7. Start egress drainers for each queue kind; no transport is
	// configured by default, so a NoopSink just logs what would ship.
	sink := &egress.NoopSink{Logger: logger}
	for _, kind := range mtqueue.AllKinds {
		drainer := egress.NewDrainer(queue, kind, sink, 100, 5*time.Second, logger)
		go func() {
			if err := drainer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("egress drainer exited", "kind", kind, "error", err)
			}
		}()
	}

	logger.Info("agent started", "db_path", *dbPath, "queue_path", *queuePath)
	<-ctx.Done()

	logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Stop(stopCtx); err != nil {
		logger.Warn("module manager stop returned error", "error", err)
	}
}
