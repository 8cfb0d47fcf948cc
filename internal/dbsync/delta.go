package dbsync

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// EventKind classifies one row-level change emitted by the delta engine
// (§4.3 "Outputs").
type EventKind int

const (
	Inserted EventKind = iota
	Modified
	Deleted
	MaxRows
	DBErrorEvent
)

func (k EventKind) String() string {
	switch k {
	case Inserted:
		return "INSERTED"
	case Modified:
		return "MODIFIED"
	case Deleted:
		return "DELETED"
	case MaxRows:
		return "MAX_ROWS"
	case DBErrorEvent:
		return "DB_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one classified change, ready to be rendered as the §6 callback
// payload `{type, operation, data}`.
type Event struct {
	Kind      EventKind
	Table     string
	Row       Row
	Exception string // set only for DBErrorEvent
}

// checksum computes H = hex(SHA-1(concat(stringify(v)))) over the row's
// non-PK, non-ignored columns in declared column order, per §4.3 step 2 and
// the §8 P6 stability contract: null contributes the empty string, and
// ignored columns (even if reordered) never affect the digest because we
// always walk the schema's declared order and skip anything in `ignore`.
func checksum(schema *TableSchema, r Row, ignore map[string]bool) string {
	h := sha1.New()
	for _, c := range schema.NonPKColumns() {
		if ignore[c.Name] {
			continue
		}
		v, ok := r[c.Name]
		if !ok || v.IsNull() {
			continue // empty string contribution
		}
		h.Write([]byte(v.Stringify()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func ignoreSet(cols []string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// MaxRowsLimit holds a row-count bound for a table; a Limit <= 0 means
// unbounded, per §4.3 "Max rows".
type MaxRowsLimit struct {
	Limit int64
}

// DeltaEngine drives refreshTableData/syncTableRowData against one Backend
// connection. It owns the per-table schema cache and the max-rows table,
// and serializes access with a reader/writer lock per §5 ("select takes a
// shared lock; mutating calls take an exclusive lock"), grounded on
// original_source's std::shared_timed_mutex discipline in
// dbsync_implementation.h.
type DeltaEngine struct {
	backend       Backend
	schemas       map[string]*TableSchema
	maxRows       map[string]int64
	relationships []Relationship
	lock          rwMutex
	stmtPool      *statementCache
}

// NewDeltaEngine wraps a Backend with the schema/checksum/diff machinery.
func NewDeltaEngine(backend Backend) *DeltaEngine {
	return &DeltaEngine{
		backend:  backend,
		schemas:  make(map[string]*TableSchema),
		maxRows:  make(map[string]int64),
		stmtPool: newStatementCache(),
	}
}

// RegisterTable bootstraps a managed table from a CREATE TABLE DDL string
// (§6 "DBSync schema bootstrap"), creating it if absent and recording its
// parsed schema for subsequent diff operations.
func (e *DeltaEngine) RegisterTable(ctx context.Context, ddl string) (*TableSchema, error) {
	schema, err := ParseSchema(ddl)
	if err != nil {
		return nil, err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	createStmt := renderCreateTable(schema)
	if err := e.backend.Execute(ctx, createStmt); err != nil {
		return nil, err
	}
	e.schemas[schema.Name] = schema
	return schema, nil
}

func renderCreateTable(schema *TableSchema) string {
	var cols []string
	var pk []string
	for _, c := range schema.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", c.Name, ddlTypeName(c.Type)))
		if c.IsPK {
			pk = append(pk, c.Name)
		}
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s", schema.Name, strings.Join(cols, ", "))
	if len(pk) > 0 {
		ddl += fmt.Sprintf(", PRIMARY KEY (%s)", strings.Join(pk, ", "))
	}
	ddl += ")"
	return ddl
}

func ddlTypeName(t ColumnType) string {
	switch t {
	case ColText:
		return "TEXT"
	case ColInt32:
		return "INTEGER"
	case ColInt64:
		return "BIGINT"
	case ColUInt64:
		return "UBIGINT"
	case ColDouble:
		return "DOUBLE"
	case ColBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// SetMaxRows configures the bound used by bulk-insert paths; N<=0 disables
// it, per §4.3.
func (e *DeltaEngine) SetMaxRows(table string, n int64) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.maxRows[table] = n
}

func (e *DeltaEngine) schemaFor(table string) (*TableSchema, error) {
	s, ok := e.schemas[table]
	if !ok {
		return nil, &InvalidParameters{Reason: fmt.Sprintf("table %q is not registered", table)}
	}
	return s, nil
}

// currentRowCount selects count(*) from the live table.
func (e *DeltaEngine) currentRowCount(ctx context.Context, table string) (int64, error) {
	stmt, err := e.backend.Prepare(ctx, fmt.Sprintf("SELECT count(*) AS n FROM %s", table))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	row, res, err := stmt.Step(ctx)
	if err != nil {
		return 0, err
	}
	if res == StepDone {
		return 0, nil
	}
	return row.Get("n").i64, nil
}

// selectAll loads every persisted row of table, keyed by PK tuple.
func (e *DeltaEngine) selectAll(ctx context.Context, schema *TableSchema) (map[string]Row, error) {
	stmt, err := e.backend.Prepare(ctx, fmt.Sprintf("SELECT * FROM %s", schema.Name))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	out := make(map[string]Row)
	for {
		row, res, err := stmt.Step(ctx)
		if err != nil {
			return nil, err
		}
		if res == StepDone {
			break
		}
		key, err := row.PKKey(schema.PKColumns())
		if err != nil {
			return nil, err
		}
		out[key] = row
	}
	return out, nil
}

// RefreshTableData implements §4.3 `refreshTableData`: diffs snapshot S
// against the persisted table T and emits classified events in the order
// INSERTED, DELETED, MODIFIED, mutating T to match S as it goes (subject to
// max_rows on the insert phase).
func (e *DeltaEngine) RefreshTableData(ctx context.Context, table string, snapshot []Row, ignore []string) ([]Event, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	schema, err := e.schemaFor(table)
	if err != nil {
		return nil, err
	}
	ign := ignoreSet(ignore)

	staged := make(map[string]Row, len(snapshot))
	stagedOrder := make([]string, 0, len(snapshot))
	for _, r := range snapshot {
		key, err := r.PKKey(schema.PKColumns())
		if err != nil {
			return nil, err
		}
		if _, exists := staged[key]; !exists {
			stagedOrder = append(stagedOrder, key)
		}
		staged[key] = r
	}

	persisted, err := e.selectAll(ctx, schema)
	if err != nil {
		return nil, err
	}

	limit := e.maxRows[table]
	currentCount, err := e.currentRowCount(ctx, table)
	if err != nil {
		return nil, err
	}

	var events []Event

	// Step 3: inserted = PK(staged) \ PK(persisted).
	for _, key := range stagedOrder {
		if _, exists := persisted[key]; exists {
			continue
		}
		row := staged[key]
		if limit > 0 && currentCount+1 > limit {
			events = append(events, Event{Kind: MaxRows, Table: table, Row: row})
			continue
		}
		row = withChecksum(schema, row, ign)
		if err := e.insertRow(ctx, schema, row); err != nil {
			events = append(events, Event{Kind: DBErrorEvent, Table: table, Row: row, Exception: err.Error()})
			continue
		}
		events = append(events, Event{Kind: Inserted, Table: table, Row: row})
		currentCount++
	}

	// Step 4: deleted = PK(persisted) \ PK(staged), in deterministic order.
	deletedKeys := make([]string, 0)
	for key := range persisted {
		if _, exists := staged[key]; !exists {
			deletedKeys = append(deletedKeys, key)
		}
	}
	sort.Strings(deletedKeys)
	for _, key := range deletedKeys {
		row := persisted[key]
		if err := e.deleteRowByPK(ctx, schema, row); err != nil {
			events = append(events, Event{Kind: DBErrorEvent, Table: table, Row: row, Exception: err.Error()})
			continue
		}
		events = append(events, Event{Kind: Deleted, Table: table, Row: row})
		currentCount--
	}

	// Step 5: modified = common PKs whose checksum differs.
	modifiedKeys := make([]string, 0)
	for key := range persisted {
		if _, exists := staged[key]; exists {
			modifiedKeys = append(modifiedKeys, key)
		}
	}
	sort.Strings(modifiedKeys)
	for _, key := range modifiedKeys {
		oldRow := persisted[key]
		newRow := staged[key]
		oldSum := checksum(schema, oldRow, ign)
		newSum := checksum(schema, newRow, ign)
		if oldSum == newSum {
			continue
		}
		merged := overlay(oldRow, newRow)
		merged = withChecksum(schema, merged, ign)
		if err := e.updateRow(ctx, schema, merged); err != nil {
			events = append(events, Event{Kind: DBErrorEvent, Table: table, Row: merged, Exception: err.Error()})
			continue
		}
		events = append(events, Event{Kind: Modified, Table: table, Row: merged})
	}

	return events, nil
}

// withChecksum returns a copy of row with its checksum column set.
func withChecksum(schema *TableSchema, row Row, ign map[string]bool) Row {
	out := row.Clone()
	out["checksum"] = TextValue(checksum(schema, row, ign))
	return out
}

// overlay returns base overlaid by patch's non-null, explicitly-present
// non-PK fields, per §4.3 step 5 / syncTableRowData's merge rule.
func overlay(base, patch Row) Row {
	out := base.Clone()
	for k, v := range patch {
		if v.IsNull() {
			continue
		}
		out[k] = v
	}
	return out
}

// cachedStatement returns a prepared statement for sqlText from the
// engine's LRU pool (§4.2), preparing it on first use. Callers must only
// use cachedStatement for mutating statements executed while holding the
// engine's exclusive lock — the cache does not itself guard against
// concurrent use of the same cached *Statement.
func (e *DeltaEngine) cachedStatement(ctx context.Context, sqlText string) (*Statement, error) {
	return e.stmtPool.getOrPrepare(sqlText, func() (*Statement, error) {
		return e.backend.Prepare(ctx, sqlText)
	})
}

func (e *DeltaEngine) insertRow(ctx context.Context, schema *TableSchema, row Row) error {
	cols := make([]string, 0, len(schema.Columns))
	placeholders := make([]string, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		if c.Name == StatusColumn {
			continue
		}
		cols = append(cols, c.Name)
		placeholders = append(placeholders, "?")
	}
	sqlText := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	stmt, err := e.cachedStatement(ctx, sqlText)
	if err != nil {
		return err
	}
	defer stmt.Reset()
	for i, col := range cols {
		v := row.Get(col)
		if err := stmt.Bind(i+1, v); err != nil {
			return err
		}
	}
	_, _, err = stmt.Step(ctx)
	return err
}

func (e *DeltaEngine) updateRow(ctx context.Context, schema *TableSchema, row Row) error {
	pk := schema.PKColumns()
	var setCols []string
	for _, c := range schema.Columns {
		if c.IsPK || c.Name == StatusColumn {
			continue
		}
		setCols = append(setCols, c.Name)
	}
	var whereParts []string
	for _, p := range pk {
		whereParts = append(whereParts, p+" = ?")
	}
	sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE %s", schema.Name,
		strings.Join(assignList(setCols), ", "), strings.Join(whereParts, " AND "))
	stmt, err := e.cachedStatement(ctx, sqlText)
	if err != nil {
		return err
	}
	defer stmt.Reset()
	idx := 1
	for _, col := range setCols {
		if err := stmt.Bind(idx, row.Get(col)); err != nil {
			return err
		}
		idx++
	}
	for _, p := range pk {
		if err := stmt.Bind(idx, row.Get(p)); err != nil {
			return err
		}
		idx++
	}
	_, _, err = stmt.Step(ctx)
	return err
}

func assignList(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c + " = ?"
	}
	return out
}

func (e *DeltaEngine) deleteRowByPK(ctx context.Context, schema *TableSchema, row Row) error {
	pk := schema.PKColumns()
	var whereParts []string
	for _, p := range pk {
		whereParts = append(whereParts, p+" = ?")
	}
	sqlText := fmt.Sprintf("DELETE FROM %s WHERE %s", schema.Name, strings.Join(whereParts, " AND "))
	stmt, err := e.cachedStatement(ctx, sqlText)
	if err != nil {
		return err
	}
	defer stmt.Reset()
	for i, p := range pk {
		if err := stmt.Bind(i+1, row.Get(p)); err != nil {
			return err
		}
	}
	_, _, err = stmt.Step(ctx)
	return err
}

// SyncTableRowData implements §4.3 `syncTableRowData`: upsert a single row,
// emitting INSERTED or MODIFIED (or nothing, if the merged checksum is
// unchanged).
func (e *DeltaEngine) SyncTableRowData(ctx context.Context, table string, r Row, ignore []string, returnOldData bool) (*Event, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	schema, err := e.schemaFor(table)
	if err != nil {
		return nil, err
	}
	ign := ignoreSet(ignore)

	key, err := r.PKKey(schema.PKColumns())
	if err != nil {
		return nil, err
	}

	old, err := e.selectOne(ctx, schema, key)
	if err != nil {
		return nil, err
	}

	if old == nil {
		row := withChecksum(schema, r, ign)
		if err := e.insertRow(ctx, schema, row); err != nil {
			return &Event{Kind: DBErrorEvent, Table: table, Row: row, Exception: err.Error()}, nil
		}
		return &Event{Kind: Inserted, Table: table, Row: row}, nil
	}

	merged := overlay(*old, r)
	oldSum := checksum(schema, *old, ign)
	newSum := checksum(schema, merged, ign)
	if oldSum == newSum {
		return nil, nil
	}
	merged = withChecksum(schema, merged, ign)
	if err := e.updateRow(ctx, schema, merged); err != nil {
		return &Event{Kind: DBErrorEvent, Table: table, Row: merged, Exception: err.Error()}, nil
	}
	if returnOldData {
		merged = merged.Clone()
		merged["old"] = TextValue(encodeOldRow(*old))
	}
	return &Event{Kind: Modified, Table: table, Row: merged}, nil
}

// encodeOldRow renders the pre-image row as a compact key=value list for
// the reserved "old" payload field (§4.3 syncTableRowData, return_old_data).
func encodeOldRow(r Row) string {
	var parts []string
	for k, v := range r {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v.Stringify()))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (e *DeltaEngine) selectOne(ctx context.Context, schema *TableSchema, pkKey string) (*Row, error) {
	all, err := e.selectAll(ctx, schema)
	if err != nil {
		return nil, err
	}
	if r, ok := all[pkKey]; ok {
		return &r, nil
	}
	return nil, nil
}
