package dbsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *DeltaEngine {
	t.Helper()
	backend, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewDeltaEngine(backend)
}

func registerAgents(t *testing.T, e *DeltaEngine) {
	t.Helper()
	ctx := context.Background()
	_, err := e.RegisterTable(ctx, `CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT,
		version TEXT
	)`)
	require.NoError(t, err)
}

func row(id, name, version string) Row {
	return Row{
		"id":      TextValue(id),
		"name":    TextValue(name),
		"version": TextValue(version),
	}
}

// TestRefreshTableDataFullCycle exercises the insert/modify/delete cycle
// (§8 scenario 1): an initial snapshot inserts every row, a later snapshot
// that drops one row and edits another produces exactly one DELETED and
// one MODIFIED event, and a final empty snapshot deletes everything.
func TestRefreshTableDataFullCycle(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)
	ctx := context.Background()

	events, err := e.RefreshTableData(ctx, "agents", []Row{
		row("a1", "alpha", "1.0"),
		row("a2", "beta", "1.0"),
	}, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		require.Equal(t, Inserted, ev.Kind)
	}

	events, err = e.RefreshTableData(ctx, "agents", []Row{
		row("a1", "alpha", "2.0"),
	}, nil)
	require.NoError(t, err)
	require.Len(t, events, 2, "expected 1 deleted + 1 modified event, got %+v", events)

	var sawDeleted, sawModified bool
	for _, ev := range events {
		switch ev.Kind {
		case Deleted:
			sawDeleted = true
			require.Equal(t, "a2", ev.Row.Get("id").Stringify())
		case Modified:
			sawModified = true
			require.Equal(t, "2.0", ev.Row.Get("version").Stringify())
		default:
			t.Fatalf("unexpected event kind %s", ev.Kind)
		}
	}
	require.True(t, sawDeleted)
	require.True(t, sawModified)

	// Nothing is inserted this round, so the ordering guarantee reduces to
	// DELETED (step 4) before MODIFIED (step 5).
	require.Equal(t, Deleted, events[0].Kind)
	require.Equal(t, Modified, events[1].Kind)

	events, err = e.RefreshTableData(ctx, "agents", nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, Deleted, events[0].Kind)
}

// TestRefreshTableDataMaxRows exercises §8 scenario 2: once the table is
// at its configured bound, further inserts are reported as MAX_ROWS rather
// than applied.
func TestRefreshTableDataMaxRows(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)
	e.SetMaxRows("agents", 1)
	ctx := context.Background()

	events, err := e.RefreshTableData(ctx, "agents", []Row{
		row("a1", "alpha", "1.0"),
		row("a2", "beta", "1.0"),
	}, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)

	var inserted, maxRows int
	for _, ev := range events {
		switch ev.Kind {
		case Inserted:
			inserted++
		case MaxRows:
			maxRows++
		default:
			t.Fatalf("unexpected event kind %s", ev.Kind)
		}
	}
	require.Equal(t, 1, inserted)
	require.Equal(t, 1, maxRows)

	count, err := e.currentRowCount(ctx, "agents")
	require.NoError(t, err)
	require.EqualValues(t, 1, count, "expected row count to stay at the bound")
}

// TestChecksumIgnoresColumns exercises §8 scenario 6: a column named in
// the ignore list never contributes to the checksum, so changing only
// that column produces no MODIFIED event.
func TestChecksumIgnoresColumns(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)
	ctx := context.Background()

	_, err := e.RefreshTableData(ctx, "agents", []Row{row("a1", "alpha", "1.0")}, nil)
	require.NoError(t, err)

	events, err := e.RefreshTableData(ctx, "agents", []Row{row("a1", "alpha", "2.0")}, []string{"version"})
	require.NoError(t, err)
	require.Empty(t, events, "expected no events when the only change is an ignored column")

	// A change to a non-ignored column still produces MODIFIED.
	events, err = e.RefreshTableData(ctx, "agents", []Row{row("a1", "gamma", "2.0")}, []string{"version"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, Modified, events[0].Kind)
}

// TestSyncTableRowDataRoundTrip exercises §8 P2: inserting then
// re-syncing an identical row is idempotent (no event on the second
// call), and a changed field produces exactly one MODIFIED event (P1
// dedup).
func TestSyncTableRowDataRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)
	ctx := context.Background()

	ev, err := e.SyncTableRowData(ctx, "agents", row("a1", "alpha", "1.0"), nil, false)
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, Inserted, ev.Kind)

	ev, err = e.SyncTableRowData(ctx, "agents", row("a1", "alpha", "1.0"), nil, false)
	require.NoError(t, err)
	require.Nil(t, ev, "expected no event for an unchanged row")

	ev, err = e.SyncTableRowData(ctx, "agents", row("a1", "alpha", "1.1"), nil, false)
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, Modified, ev.Kind)
}

// TestSyncTableRowDataReturnOldData checks that the reserved "old" field
// is only populated when requested.
func TestSyncTableRowDataReturnOldData(t *testing.T) {
	e := newTestEngine(t)
	registerAgents(t, e)
	ctx := context.Background()

	_, err := e.SyncTableRowData(ctx, "agents", row("a1", "alpha", "1.0"), nil, false)
	require.NoError(t, err)

	ev, err := e.SyncTableRowData(ctx, "agents", row("a1", "alpha", "1.1"), nil, true)
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, Modified, ev.Kind)
	require.False(t, ev.Row.Get("old").IsNull())
}
