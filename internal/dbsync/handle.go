package dbsync

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// HandleRegistry replaces the C++ original's global singleton + opaque
// pointer maps (dbsync_implementation.h's m_dbSyncContexts/
// m_transactionContexts) with an instance-owned map of handle-id → owned
// context, per §9's "Raw handle indirection" design note: typed handles
// owning their resource, no process-global singleton.
type HandleRegistry struct {
	mu      sync.Mutex
	engines map[string]*DeltaEngine
	txns    map[string]*Txn
}

// NewHandleRegistry returns an empty registry. Callers typically own one
// per process (analogous to DBSyncImplementation::instance(), but as a
// value they construct and pass around rather than a hidden singleton).
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{
		engines: make(map[string]*DeltaEngine),
		txns:    make(map[string]*Txn),
	}
}

// CreateEngine opens a backend at path and registers a new DeltaEngine
// under a freshly generated handle, returning the handle string
// (equivalent to a DBSYNC_HANDLE) for later lookup/release.
func (r *HandleRegistry) CreateEngine(path string, opts ...Option) (string, *DeltaEngine, error) {
	backend, err := Open(path, opts...)
	if err != nil {
		return "", nil, err
	}
	engine := NewDeltaEngine(backend)

	handle := uuid.NewString()
	r.mu.Lock()
	r.engines[handle] = engine
	r.mu.Unlock()
	return handle, engine, nil
}

// Engine looks up a previously created engine by handle.
func (r *HandleRegistry) Engine(handle string) (*DeltaEngine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[handle]
	if !ok {
		return nil, &InvalidHandle{Handle: handle}
	}
	return e, nil
}

// CloseEngine releases the backend behind handle and forgets it. Also
// closes any transactions still registered against it.
func (r *HandleRegistry) CloseEngine(handle string) error {
	r.mu.Lock()
	e, ok := r.engines[handle]
	if !ok {
		r.mu.Unlock()
		return &InvalidHandle{Handle: handle}
	}
	delete(r.engines, handle)
	var orphaned []*Txn
	for id, t := range r.txns {
		if t.engine == e {
			orphaned = append(orphaned, t)
			delete(r.txns, id)
		}
	}
	r.mu.Unlock()

	for _, t := range orphaned {
		t.Close()
	}
	e.stmtPool.closeAll()
	return e.backend.Close()
}

// OpenTxn opens a transaction against the engine behind dbHandle and
// registers it under a new TXN_HANDLE-equivalent string.
func (r *HandleRegistry) OpenTxn(ctx context.Context, dbHandle string, tables []string, threadCount, maxQueue int, sink Sink) (string, *Txn, error) {
	engine, err := r.Engine(dbHandle)
	if err != nil {
		return "", nil, err
	}
	txn, err := engine.OpenTxn(ctx, tables, threadCount, maxQueue, sink)
	if err != nil {
		return "", nil, err
	}
	handle := uuid.NewString()
	r.mu.Lock()
	r.txns[handle] = txn
	r.mu.Unlock()
	return handle, txn, nil
}

// Txn looks up a previously opened transaction by handle.
func (r *HandleRegistry) Txn(handle string) (*Txn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[handle]
	if !ok {
		return nil, &InvalidTransaction{Handle: handle}
	}
	return t, nil
}

// CloseTxn closes and forgets the transaction behind handle.
func (r *HandleRegistry) CloseTxn(handle string) error {
	r.mu.Lock()
	t, ok := r.txns[handle]
	if ok {
		delete(r.txns, handle)
	}
	r.mu.Unlock()
	if !ok {
		return &InvalidTransaction{Handle: handle}
	}
	t.Close()
	return nil
}
