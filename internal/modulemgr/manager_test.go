package modulemgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeModule is a minimal Module whose Start blocks until stopped or
// cancelled and whose Stop records that it was called.
type fakeModule struct {
	name      string
	pushed    int
	startErr  error
	stopped   bool
	stopErr   error
	mu        sync.Mutex
	startedCh chan struct{}
}

func newFakeModule(name string) *fakeModule {
	return &fakeModule{name: name, startedCh: make(chan struct{})}
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) Start(ctx context.Context, push func(Message) int32) error {
	if m.startErr != nil {
		return m.startErr
	}
	push(Message{ModuleName: m.name, Payload: []byte(`{"ok":true}`)})
	close(m.startedCh)
	<-ctx.Done()
	return nil
}

func (m *fakeModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return m.stopErr
}

func TestManagerStartStop(t *testing.T) {
	var mu sync.Mutex
	var received []Message

	push := func(msg Message) int32 {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		return 0
	}

	mgr := New(push, nil)
	mod := newFakeModule("alpha")
	if err := mgr.Register(mod); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mgr.Start(context.Background())

	select {
	case <-mod.startedCh:
	case <-time.After(time.Second):
		t.Fatal("module never started")
	}

	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mod.mu.Lock()
	stopped := mod.stopped
	mod.mu.Unlock()
	if !stopped {
		t.Fatal("expected module Stop to be called")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].ModuleName != "alpha" {
		t.Fatalf("expected 1 message from alpha, got %+v", received)
	}
}

func TestManagerRegisterDuplicateName(t *testing.T) {
	mgr := New(func(Message) int32 { return 0 }, nil)
	if err := mgr.Register(newFakeModule("dup")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := mgr.Register(newFakeModule("dup")); err == nil {
		t.Fatal("expected an error registering a second module under the same name")
	}
}

func TestManagerStartPropagatesModuleError(t *testing.T) {
	mgr := New(func(Message) int32 { return 0 }, nil)
	mod := newFakeModule("broken")
	mod.startErr = errors.New("boom")
	if err := mgr.Register(mod); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mgr.Start(context.Background())
	if err := mgr.Stop(context.Background()); err == nil {
		t.Fatal("expected Stop to surface the errgroup's recorded error")
	}
}
