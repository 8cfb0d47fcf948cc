package dbsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func registerOrders(t *testing.T, e *DeltaEngine) {
	t.Helper()
	ctx := context.Background()
	_, err := e.RegisterTable(ctx, `CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer TEXT,
		total DOUBLE
	)`)
	require.NoError(t, err)
	_, err = e.RegisterTable(ctx, `CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT PRIMARY KEY,
		sku TEXT PRIMARY KEY,
		qty INT32
	)`)
	require.NoError(t, err)
}

func orderRow(id, customer string, total float64) Row {
	return Row{
		"id":       TextValue(id),
		"customer": TextValue(customer),
		"total":    DoubleValue(total),
	}
}

func itemRow(orderID, sku string, qty int32) Row {
	return Row{
		"order_id": TextValue(orderID),
		"sku":      TextValue(sku),
		"qty":      Int32Value(qty),
	}
}

// TestInsertDataAndSelectRows exercises insert_data followed by a
// select_rows query descriptor with a WHERE filter and ORDER BY.
func TestInsertDataAndSelectRows(t *testing.T) {
	e := newTestEngine(t)
	registerOrders(t, e)
	ctx := context.Background()

	err := e.InsertData(ctx, "orders", []Row{
		orderRow("o1", "alice", 10),
		orderRow("o2", "bob", 20),
		orderRow("o3", "alice", 30),
	})
	require.NoError(t, err)

	var seen []string
	q := NewQuery("id").Where("customer = 'alice'").OrderBy("id")
	err = e.SelectRows(ctx, "orders", q, func(r Row) error {
		seen = append(seen, r.Get("id").Stringify())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"o1", "o3"}, seen)
}

// TestInsertDataRejectsOverMaxRows checks insert_data surfaces a
// MaxRowsError rather than silently truncating.
func TestInsertDataRejectsOverMaxRows(t *testing.T) {
	e := newTestEngine(t)
	registerOrders(t, e)
	e.SetMaxRows("orders", 2)
	ctx := context.Background()

	err := e.InsertData(ctx, "orders", []Row{
		orderRow("o1", "alice", 10),
		orderRow("o2", "bob", 20),
		orderRow("o3", "carol", 30),
	})
	require.Error(t, err)
	var maxErr *MaxRowsError
	require.ErrorAs(t, err, &maxErr)

	count, err := e.currentRowCount(ctx, "orders")
	require.NoError(t, err)
	require.EqualValues(t, 0, count, "a rejected batch must not partially apply")
}

// TestDeleteRowsByPKAndWhere covers both deletion modes: explicit PK rows
// and a raw WHERE predicate.
func TestDeleteRowsByPKAndWhere(t *testing.T) {
	e := newTestEngine(t)
	registerOrders(t, e)
	ctx := context.Background()

	require.NoError(t, e.InsertData(ctx, "orders", []Row{
		orderRow("o1", "alice", 10),
		orderRow("o2", "bob", 20),
		orderRow("o3", "alice", 30),
	}))

	n, err := e.DeleteRows(ctx, "orders", []Row{{"id": TextValue("o1")}}, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = e.DeleteRows(ctx, "orders", nil, "customer = 'alice'")
	require.NoError(t, err)
	require.Equal(t, 1, n, "only o3 remains under the alice predicate")

	count, err := e.currentRowCount(ctx, "orders")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

// TestDeleteRowsRequiresPksOrFilter checks the InvalidParameters guard.
func TestDeleteRowsRequiresPksOrFilter(t *testing.T) {
	e := newTestEngine(t)
	registerOrders(t, e)
	ctx := context.Background()

	_, err := e.DeleteRows(ctx, "orders", nil, "")
	require.Error(t, err)
	var invalid *InvalidParameters
	require.ErrorAs(t, err, &invalid)
}

// TestAddTableRelationshipCascadesDelete checks that deleting a parent row
// through UpdateWithSnapshot cascades to matching child rows.
func TestAddTableRelationshipCascadesDelete(t *testing.T) {
	e := newTestEngine(t)
	registerOrders(t, e)
	ctx := context.Background()

	require.NoError(t, e.InsertData(ctx, "orders", []Row{orderRow("o1", "alice", 10)}))
	require.NoError(t, e.InsertData(ctx, "order_items", []Row{
		itemRow("o1", "sku-1", 2),
		itemRow("o1", "sku-2", 1),
	}))

	require.NoError(t, e.AddTableRelationship(Relationship{
		ParentTable: "orders",
		ParentKey:   []string{"id"},
		ChildTable:  "order_items",
		ChildKey:    []string{"order_id"},
		OnDelete:    true,
	}))

	_, err := e.UpdateWithSnapshot(ctx, "orders", nil, nil, nil)
	require.NoError(t, err)

	count, err := e.currentRowCount(ctx, "order_items")
	require.NoError(t, err)
	require.EqualValues(t, 0, count, "cascade delete should remove every child row")
}

// TestAddTableRelationshipRejectsMismatchedKeys checks the equal-length,
// non-empty key validation.
func TestAddTableRelationshipRejectsMismatchedKeys(t *testing.T) {
	e := newTestEngine(t)
	registerOrders(t, e)

	err := e.AddTableRelationship(Relationship{
		ParentTable: "orders",
		ParentKey:   []string{"id"},
		ChildTable:  "order_items",
		ChildKey:    []string{"order_id", "sku"},
		OnDelete:    true,
	})
	require.Error(t, err)
}

// TestUpdateWithSnapshotStreamingMode checks that a non-nil sink switches
// UpdateWithSnapshot into streaming mode, where the aggregated
// SnapshotResult is not built.
func TestUpdateWithSnapshotStreamingMode(t *testing.T) {
	e := newTestEngine(t)
	registerOrders(t, e)
	ctx := context.Background()

	var streamed []Event
	result, err := e.UpdateWithSnapshot(ctx, "orders", []Row{orderRow("o1", "alice", 10)}, nil, func(ev Event) {
		streamed = append(streamed, ev)
	})
	require.NoError(t, err)
	require.Nil(t, result)
	require.Len(t, streamed, 1)
	require.Equal(t, Inserted, streamed[0].Kind)
}
