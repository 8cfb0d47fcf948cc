package dbsync

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTxnSyncRowThenGetDeletedSweepsUntouched exercises §4.3's transaction
// deletion model: rows synced during the transaction survive, rows never
// touched are swept as DELETED once GetDeleted runs.
func TestTxnSyncRowThenGetDeletedSweepsUntouched(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)
	ctx := context.Background()

	require.NoError(t, e.InsertData(ctx, "agents", []Row{
		row("a1", "alpha", "1.0"),
		row("a2", "beta", "1.0"),
	}))

	var mu sync.Mutex
	var events []Event
	sink := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	txn, err := e.OpenTxn(ctx, []string{"agents"}, 2, 4, sink)
	require.NoError(t, err)
	defer txn.Close()

	// Only a1 is touched this transaction; a2 should be swept as deleted.
	txn.SyncRow("agents", row("a1", "alpha", "2.0"), nil)

	require.NoError(t, txn.GetDeleted(sink))

	mu.Lock()
	defer mu.Unlock()
	var sawModified, sawDeleted bool
	var deletedID string
	for _, ev := range events {
		switch ev.Kind {
		case Modified:
			sawModified = true
		case Deleted:
			sawDeleted = true
			deletedID = ev.Row.Get("id").Stringify()
		}
	}
	require.True(t, sawModified, "expected the synced row to report MODIFIED")
	require.True(t, sawDeleted, "expected the untouched row to be swept as DELETED")
	require.Equal(t, "a2", deletedID)

	count, err := e.currentRowCount(ctx, "agents")
	require.NoError(t, err)
	require.EqualValues(t, 1, count, "only a1 should remain after the sweep")
}

// TestTxnSynchronousDispatchWhenNoWorkerPool checks that maxQueue=0 runs
// the sink inline rather than spinning up a worker pool (§4.4).
func TestTxnSynchronousDispatchWhenNoWorkerPool(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)
	ctx := context.Background()

	var received []Event
	sink := func(ev Event) { received = append(received, ev) }

	txn, err := e.OpenTxn(ctx, []string{"agents"}, 1, 0, sink)
	require.NoError(t, err)
	defer txn.Close()

	txn.SyncRow("agents", row("a1", "alpha", "1.0"), nil)
	require.Len(t, received, 1)
	require.Equal(t, Inserted, received[0].Kind)
}

// TestOpenTxnRequiresSink checks the InvalidParameters guard on a nil sink.
func TestOpenTxnRequiresSink(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)

	_, err := e.OpenTxn(context.Background(), []string{"agents"}, 1, 4, nil)
	require.Error(t, err)
}

// TestOpenTxnRejectsUnknownTable checks that opening a transaction over a
// table that was never registered fails fast.
func TestOpenTxnRejectsUnknownTable(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)

	_, err := e.OpenTxn(context.Background(), []string{"ghost"}, 1, 4, func(Event) {})
	require.Error(t, err)
}

// TestTxnCloseIsIdempotentAfterGetDeleted checks that Close after a
// GetDeleted drain does not panic or block (the worker pool channel is
// already closed).
func TestTxnCloseIsIdempotentAfterGetDeleted(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)
	ctx := context.Background()
	require.NoError(t, e.InsertData(ctx, "agents", []Row{row("a1", "alpha", "1.0")}))

	txn, err := e.OpenTxn(ctx, []string{"agents"}, 1, 4, func(Event) {})
	require.NoError(t, err)

	require.NoError(t, txn.GetDeleted(func(Event) {}))
	txn.Close()
}
