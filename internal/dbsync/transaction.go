package dbsync

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Sink receives dispatched change events off the transaction's worker
// pool (or synchronously, under back-pressure). It never sees the engine
// lock held, per §5's locking discipline.
type Sink func(Event)

// Txn is a long-running transaction context (§3 "Transaction context"):
// a set of table names, a bounded worker pool, and a sink. It defers
// deletion detection until GetDeleted, using the hidden status column
// state machine from §4.3.
//
// The worker pool is an errgroup.Group of thread_count goroutines reading
// off one buffered channel of capacity max_queue, generalizing the
// teacher's single-goroutine DataWorker.wg loop (internal/database/data_worker.go)
// to N consumers.
type Txn struct {
	engine  *DeltaEngine
	tables  []string
	sink    Sink
	maxQ    int

	events chan Event
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// OpenTxn opens a transaction over the given tables. thread_count=0 means
// host parallelism (runtime.NumCPU()); max_queue=0 means synchronous
// dispatch with no background pool, per §4.4.
//
// Opening initializes the status column to 0 for every row of every table
// in scope (§4.3 "Deletion in transaction mode").
func (e *DeltaEngine) OpenTxn(ctx context.Context, tables []string, threadCount, maxQueue int, sink Sink) (*Txn, error) {
	if sink == nil {
		return nil, &InvalidParameters{Reason: "sink must not be nil"}
	}
	for _, t := range tables {
		if _, err := e.schemaFor(t); err != nil {
			return nil, err
		}
	}
	if threadCount <= 0 {
		threadCount = runtime.NumCPU()
	}

	txnCtx, cancel := context.WithCancel(ctx)
	t := &Txn{
		engine: e,
		tables: tables,
		sink:   sink,
		maxQ:   maxQueue,
		ctx:    txnCtx,
		cancel: cancel,
	}

	for _, name := range tables {
		if err := e.resetStatus(txnCtx, name); err != nil {
			cancel()
			return nil, err
		}
	}

	if maxQueue > 0 {
		t.events = make(chan Event, maxQueue)
		g, gctx := errgroup.WithContext(txnCtx)
		t.group = g
		for i := 0; i < threadCount; i++ {
			g.Go(func() error {
				for {
					select {
					case ev, ok := <-t.events:
						if !ok {
							return nil
						}
						t.sink(ev)
					case <-gctx.Done():
						return nil
					}
				}
			})
		}
	}

	return t, nil
}

func (e *DeltaEngine) resetStatus(ctx context.Context, table string) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.backend.Execute(ctx, fmt.Sprintf("UPDATE %s SET %s = 0", table, StatusColumn))
}

func (e *DeltaEngine) setRowStatus(ctx context.Context, schema *TableSchema, row Row, status int32) error {
	pk := schema.PKColumns()
	var where []string
	for _, p := range pk {
		where = append(where, p+" = ?")
	}
	sqlText := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s", schema.Name, StatusColumn, joinAnd(where))
	stmt, err := e.backend.Prepare(ctx, sqlText)
	if err != nil {
		return err
	}
	defer stmt.Close()
	if err := stmt.Bind(1, Int32Value(status)); err != nil {
		return err
	}
	idx := 2
	for _, p := range pk {
		if err := stmt.Bind(idx, row.Get(p)); err != nil {
			return err
		}
		idx++
	}
	_, _, err = stmt.Step(ctx)
	return err
}

func joinAnd(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " AND "
		}
		out += p
	}
	return out
}

// SyncRow runs syncTableRowData for one row against a table in this
// transaction's scope, marks the row status=1 (touched), and dispatches
// the resulting event to the worker pool — or synchronously on the
// calling goroutine if the pool's queue already holds >= max_queue
// entries (back-pressure, §4.4). Per-row sync errors become a DB_ERROR
// event rather than a returned error, per §7 propagation policy.
func (t *Txn) SyncRow(table string, r Row, ignore []string) {
	ev, err := t.engine.SyncTableRowData(t.ctx, table, r, ignore, false)
	if err != nil {
		t.dispatch(Event{Kind: DBErrorEvent, Table: table, Row: r, Exception: err.Error()})
		return
	}
	if ev == nil || ev.Kind == Inserted || ev.Kind == Modified {
		// An unchanged row is still touched by this transaction.
		if schema, serr := t.engine.schemaFor(table); serr == nil {
			_ = t.engine.setRowStatus(t.ctx, schema, r, 1)
		}
	}
	if ev == nil {
		return // checksum unchanged, no event
	}
	t.dispatch(*ev)
}

func (t *Txn) dispatch(ev Event) {
	if t.maxQ <= 0 {
		t.sink(ev)
		return
	}
	select {
	case t.events <- ev:
	default:
		// Back-pressure: queue at/over capacity, dispatch synchronously.
		t.sink(ev)
	}
}

// GetDeleted drains the worker pool to quiescence, then sweeps every
// in-scope table for rows still at status=0 — those untouched by any
// SyncRow call during this transaction's lifetime — emitting DELETED for
// each (invoked inline, not through the pool) and removing them, per
// §4.3's state machine.
func (t *Txn) GetDeleted(sink Sink) error {
	t.drain()

	for _, table := range t.tables {
		schema, err := t.engine.schemaFor(table)
		if err != nil {
			return err
		}
		if err := t.sweepTable(schema, sink); err != nil {
			return err
		}
	}
	return nil
}

func (t *Txn) sweepTable(schema *TableSchema, sink Sink) error {
	events, err := func() ([]Event, error) {
		t.engine.lock.Lock()
		defer t.engine.lock.Unlock()

		stmt, err := t.engine.backend.Prepare(t.ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = 0", schema.Name, StatusColumn))
		if err != nil {
			return nil, err
		}
		var toDelete []Row
		for {
			row, res, err := stmt.Step(t.ctx)
			if err != nil {
				_ = stmt.Close()
				return nil, err
			}
			if res == StepDone {
				break
			}
			toDelete = append(toDelete, row)
		}
		_ = stmt.Close()

		var events []Event
		for _, row := range toDelete {
			if err := t.engine.deleteRowByPK(t.ctx, schema, row); err != nil {
				events = append(events, Event{Kind: DBErrorEvent, Table: schema.Name, Row: row, Exception: err.Error()})
				continue
			}
			events = append(events, Event{Kind: Deleted, Table: schema.Name, Row: row})
		}
		return events, nil
	}()
	if err != nil {
		return err
	}

	// The sink runs after the engine lock is released.
	for _, ev := range events {
		sink(ev)
	}
	return nil
}

func (t *Txn) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events != nil && !t.closed {
		close(t.events)
		_ = t.group.Wait()
		t.closed = true
	}
}

// Close drains and destroys the worker pool and releases the transaction.
// Best-effort: any error encountered is swallowed so close always
// completes, per §7 "shutdown-time errors are swallowed."
func (t *Txn) Close() {
	defer func() { _ = recover() }()
	t.drain()
	t.cancel()
}
