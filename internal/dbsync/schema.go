package dbsync

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// StatusColumn is the hidden per-row integer marker added to every managed
// table (§3 "hidden status column", §4.3 "Deletion in transaction mode").
const StatusColumn = "_status"

// Column is one column's typed metadata.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	IsPK     bool
}

// TableSchema is the parsed, typed shape of one managed table.
type TableSchema struct {
	Name    string
	Columns []Column
}

// PKColumns returns the ordered list of primary-key column names.
func (t *TableSchema) PKColumns() []string {
	var out []string
	for _, c := range t.Columns {
		if c.IsPK {
			out = append(out, c.Name)
		}
	}
	return out
}

// NonPKColumns returns columns that are not part of the primary key and are
// not the hidden status column, in declared order — the exact set the
// checksum (§4.3) is computed over once ignored columns are also excluded.
func (t *TableSchema) NonPKColumns() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.IsPK || c.Name == StatusColumn {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Column looks up a column by name.
func (t *TableSchema) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ddlColumnRe matches one column definition inside a CREATE TABLE body:
// name TYPE [PRIMARY KEY] [NOT NULL]. This is intentionally small — the
// spec's schema bootstrap (§6) is a CREATE-like DDL string, not a full SQL
// grammar, and every example repo in the retrieval pack hand-rolls its own
// schema representation rather than pulling in a SQL parser (see
// DESIGN.md).
var ddlColumnRe = regexp.MustCompile(`(?i)^\s*([A-Za-z_][A-Za-z0-9_]*)\s+([A-Za-z0-9_]+)((?:\s+(?:PRIMARY\s+KEY|NOT\s+NULL))*)\s*$`)

var createTableRe = regexp.MustCompile(`(?is)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)\s*;?\s*$`)

func typeFromDDL(token string) (ColumnType, error) {
	switch strings.ToUpper(token) {
	case "TEXT", "VARCHAR", "STRING", "CHAR":
		return ColText, nil
	case "INT32", "INTEGER", "INT":
		return ColInt32, nil
	case "INT64", "BIGINT", "LONG":
		return ColInt64, nil
	case "UINT64", "UBIGINT", "UNSIGNED":
		return ColUInt64, nil
	case "DOUBLE", "FLOAT", "REAL":
		return ColDouble, nil
	case "BLOB", "BYTEA", "BINARY":
		return ColBlob, nil
	default:
		return 0, fmt.Errorf("unrecognized column type %q", token)
	}
}

// ParseSchema parses a CREATE-like DDL string (§6 "Schema bootstrap") into
// typed column metadata for one table and appends the hidden status
// column.
func ParseSchema(ddl string) (*TableSchema, error) {
	m := createTableRe.FindStringSubmatch(strings.TrimSpace(ddl))
	if m == nil {
		return nil, &FactoryInstantiation{Reason: "DDL does not match CREATE TABLE (...) shape"}
	}
	tableName := m[1]
	body := m[2]

	schema := &TableSchema{Name: tableName}
	for _, rawCol := range splitTopLevel(body) {
		rawCol = strings.TrimSpace(rawCol)
		if rawCol == "" {
			continue
		}
		sub := ddlColumnRe.FindStringSubmatch(rawCol)
		if sub == nil {
			return nil, &FactoryInstantiation{Reason: fmt.Sprintf("cannot parse column definition %q", rawCol)}
		}
		typ, err := typeFromDDL(sub[2])
		if err != nil {
			return nil, &FactoryInstantiation{Reason: err.Error()}
		}
		modifiers := strings.ToUpper(sub[3])
		col := Column{
			Name:     sub[1],
			Type:     typ,
			Nullable: !strings.Contains(modifiers, "NOT NULL") && !strings.Contains(modifiers, "PRIMARY KEY"),
			IsPK:     strings.Contains(modifiers, "PRIMARY KEY"),
		}
		schema.Columns = append(schema.Columns, col)
	}

	if len(schema.PKColumns()) == 0 {
		return nil, &FactoryInstantiation{Reason: fmt.Sprintf("table %q declares no primary key column", tableName)}
	}

	schema.Columns = append(schema.Columns, Column{Name: StatusColumn, Type: ColInt32, Nullable: false})
	return schema, nil
}

// splitTopLevel splits a comma-separated column list, respecting nested
// parens (e.g. DECIMAL(10,2) style type args, even though we don't use them
// today — keeps the splitter correct if one shows up).
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// statementCache is a small LRU of prepared statements bound per table,
// capped at maxCachedStatements entries globally, per spec §4.2 ("an
// LRU-style deque of recently prepared statements, bound to at most ~30
// entries globally"). Grounded on the teacher's orm.go dimension-cache
// pattern (map + mutex), generalized to an eviction-ordered structure.
const maxCachedStatements = 30

type statementCache struct {
	mu    sync.Mutex
	order []string
	byKey map[string]*Statement
}

func newStatementCache() *statementCache {
	return &statementCache{byKey: make(map[string]*Statement)}
}

// getOrPrepare returns a cached *Statement for key, preparing (and caching)
// it via prepare if absent. Eviction closes the oldest statement once the
// cache would exceed maxCachedStatements.
func (c *statementCache) getOrPrepare(key string, prepare func() (*Statement, error)) (*Statement, error) {
	c.mu.Lock()
	if st, ok := c.byKey[key]; ok {
		c.touch(key)
		c.mu.Unlock()
		return st, nil
	}
	c.mu.Unlock()

	st, err := prepare()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byKey[key]; ok {
		// Lost the race with a concurrent prepare of the same key: close
		// the one we just built and keep the already-cached one.
		_ = st.Close()
		c.touch(key)
		return existing, nil
	}
	c.byKey[key] = st
	c.order = append(c.order, key)
	c.evictLocked()
	return st, nil
}

func (c *statementCache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

func (c *statementCache) evictLocked() {
	for len(c.order) > maxCachedStatements {
		oldest := c.order[0]
		c.order = c.order[1:]
		if st, ok := c.byKey[oldest]; ok {
			_ = st.Close()
			delete(c.byKey, oldest)
		}
	}
}

func (c *statementCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.byKey {
		_ = st.Close()
	}
	c.byKey = make(map[string]*Statement)
	c.order = nil
}
