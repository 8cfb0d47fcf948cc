// Package modulemgr implements the caller-contract-only Module Manager
// from spec §4.8: it owns and schedules long-running modules and wires
// their event output to a single injected push callback. Everything past
// that contract (which modules exist, what they collect) is out of scope.
package modulemgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Message is the payload a module pushes through the manager's callback;
// it is shaped identically to the queue's message tuple (§3) since the
// callback's entire purpose is to hand the module's output to
// mtqueue.Queue.Push without reinterpretation.
type Message struct {
	Kind       int
	Payload    []byte
	ModuleName string
	ModuleType string
	Metadata   string
}

// Module is the contract each long-running module fulfills: Start runs on
// its own goroutine until ctx is cancelled or it returns; Stop requests an
// orderly shutdown. Grounded on the teacher's `DataWorker` Start/Stop shape
// (internal/database/data_worker.go), generalized from one worker to N
// named modules.
type Module interface {
	Name() string
	Start(ctx context.Context, push func(Message) int32) error
	Stop(ctx context.Context) error
}

// Manager registers modules by unique name and fans Start/Stop out across
// them via an errgroup, per §4.8.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	modules map[string]Module

	push func(Message) int32

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a Manager. push is the single injected callback every
// module's events flow through (signature `fn(Message) -> i32` per §4.8),
// typically wired to mtqueue.Queue.Push by the caller assembling the
// agent.
func New(push func(Message) int32, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{modules: make(map[string]Module), push: push, logger: logger}
}

// Register adds a module under a unique name. Registering a second module
// under an already-used name is an error.
func (m *Manager) Register(mod Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := mod.Name()
	if _, exists := m.modules[name]; exists {
		return fmt.Errorf("modulemgr: module %q already registered", name)
	}
	m.modules[name] = mod
	return nil
}

// Start runs every registered module's Start on its own goroutine,
// generalizing the teacher's one-goroutine-per-worker DataWorker.loop
// pattern to N modules via errgroup.Group.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	m.group = g

	for name, mod := range m.modules {
		mod := mod
		name := name
		g.Go(func() error {
			if err := mod.Start(gctx, m.push); err != nil {
				m.logger.Error("module exited with error", "module", name, "error", err)
				return err
			}
			return nil
		})
	}
}

// Stop invokes Stop on every registered module, then waits for their Start
// goroutines to return. Per §5's shutdown semantics, per-module stop
// errors are logged but do not prevent the others from stopping.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	modules := make([]Module, 0, len(m.modules))
	for _, mod := range m.modules {
		modules = append(modules, mod)
	}
	group := m.group
	cancel := m.cancel
	m.mu.Unlock()

	for _, mod := range modules {
		if err := mod.Stop(ctx); err != nil {
			m.logger.Warn("module stop returned error", "module", mod.Name(), "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}
