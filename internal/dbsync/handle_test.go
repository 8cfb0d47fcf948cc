package dbsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHandleRegistryEngineLifecycle exercises create/lookup/close for an
// engine handle (the DBSYNC_HANDLE analogue).
func TestHandleRegistryEngineLifecycle(t *testing.T) {
	r := NewHandleRegistry()

	handle, engine, err := r.CreateEngine(":memory:")
	require.NoError(t, err)
	require.NotEmpty(t, handle)
	require.NotNil(t, engine)

	got, err := r.Engine(handle)
	require.NoError(t, err)
	require.Same(t, engine, got)

	require.NoError(t, r.CloseEngine(handle))

	_, err = r.Engine(handle)
	require.Error(t, err)
	var invalid *InvalidHandle
	require.ErrorAs(t, err, &invalid)
}

// TestHandleRegistryUnknownEngineHandle checks the InvalidHandle error on
// a handle that was never created.
func TestHandleRegistryUnknownEngineHandle(t *testing.T) {
	r := NewHandleRegistry()
	_, err := r.Engine("does-not-exist")
	require.Error(t, err)
}

// TestHandleRegistryCloseEngineOrphansTxns checks that closing an engine
// also closes any transaction handles still registered against it.
func TestHandleRegistryCloseEngineOrphansTxns(t *testing.T) {
	r := NewHandleRegistry()
	dbHandle, engine, err := r.CreateEngine(":memory:")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = engine.RegisterTable(ctx, `CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT,
		version TEXT
	)`)
	require.NoError(t, err)

	txnHandle, _, err := r.OpenTxn(ctx, dbHandle, []string{"agents"}, 1, 4, func(Event) {})
	require.NoError(t, err)

	require.NoError(t, r.CloseEngine(dbHandle))

	_, err = r.Txn(txnHandle)
	require.Error(t, err, "closing the owning engine should forget its transaction handles")
}

// TestHandleRegistryTxnLifecycle exercises open/lookup/close for a
// transaction handle.
func TestHandleRegistryTxnLifecycle(t *testing.T) {
	r := NewHandleRegistry()
	dbHandle, engine, err := r.CreateEngine(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.CloseEngine(dbHandle) })

	ctx := context.Background()
	_, err = engine.RegisterTable(ctx, `CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT,
		version TEXT
	)`)
	require.NoError(t, err)

	txnHandle, txn, err := r.OpenTxn(ctx, dbHandle, []string{"agents"}, 1, 4, func(Event) {})
	require.NoError(t, err)
	require.NotEmpty(t, txnHandle)

	got, err := r.Txn(txnHandle)
	require.NoError(t, err)
	require.Same(t, txn, got)

	require.NoError(t, r.CloseTxn(txnHandle))

	_, err = r.Txn(txnHandle)
	require.Error(t, err)
	var invalidTxn *InvalidTransaction
	require.ErrorAs(t, err, &invalidTxn)
}

// TestHandleRegistryOpenTxnUnknownDBHandle checks that opening a
// transaction against a nonexistent engine handle fails with
// InvalidHandle rather than panicking.
func TestHandleRegistryOpenTxnUnknownDBHandle(t *testing.T) {
	r := NewHandleRegistry()
	_, _, err := r.OpenTxn(context.Background(), "ghost", []string{"agents"}, 1, 4, func(Event) {})
	require.Error(t, err)
}
