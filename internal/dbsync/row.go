package dbsync

import (
	"fmt"
	"strconv"
)

// ColumnType is the semantic type of a table column (§3 Data Model).
type ColumnType int

const (
	ColText ColumnType = iota
	ColInt32
	ColInt64
	ColUInt64
	ColDouble
	ColBlob
)

func (t ColumnType) String() string {
	switch t {
	case ColText:
		return "text"
	case ColInt32:
		return "int32"
	case ColInt64:
		return "int64"
	case ColUInt64:
		return "uint64"
	case ColDouble:
		return "double"
	case ColBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Value is a typed, nullable scalar — the same bind-variant shape spec §4.1
// describes for Statement.bind, reused here as the in-memory row
// representation so encode/decode never has to juggle `any` type-switches
// at every call site.
type Value struct {
	typ   ColumnType
	null  bool
	text  string
	i64   int64
	u64   uint64
	f64   float64
	blob  []byte
}

// NullValue returns a null value of the given semantic type.
func NullValue(t ColumnType) Value { return Value{typ: t, null: true} }

func TextValue(s string) Value   { return Value{typ: ColText, text: s} }
func Int32Value(v int32) Value   { return Value{typ: ColInt32, i64: int64(v)} }
func Int64Value(v int64) Value   { return Value{typ: ColInt64, i64: v} }
func UInt64Value(v uint64) Value { return Value{typ: ColUInt64, u64: v} }
func DoubleValue(v float64) Value { return Value{typ: ColDouble, f64: v} }
func BlobValue(b []byte) Value   { return Value{typ: ColBlob, blob: b} }

// IsNull reports whether the value is absent/null.
func (v Value) IsNull() bool { return v.null }

// Type returns the value's declared semantic type.
func (v Value) Type() ColumnType { return v.typ }

// Any returns the value boxed as the matching Go type, or nil if null.
// Used when binding to database/sql, which already knows how to marshal
// int64/uint64/float64/string/[]byte/nil.
func (v Value) Any() any {
	if v.null {
		return nil
	}
	switch v.typ {
	case ColText:
		return v.text
	case ColInt32:
		return int32(v.i64)
	case ColInt64:
		return v.i64
	case ColUInt64:
		return v.u64
	case ColDouble:
		return v.f64
	case ColBlob:
		return v.blob
	default:
		return nil
	}
}

// Stringify renders the value the way the checksum algorithm (§4.3) wants
// it: the empty string for null, otherwise a canonical textual form. This
// must be stable across processes/restarts, so it never uses %v/fmt.Stringer
// on floats (whose default formatting can vary with build tags).
func (v Value) Stringify() string {
	if v.null {
		return ""
	}
	switch v.typ {
	case ColText:
		return v.text
	case ColInt32, ColInt64:
		return strconv.FormatInt(v.i64, 10)
	case ColUInt64:
		return strconv.FormatUint(v.u64, 10)
	case ColDouble:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	case ColBlob:
		return string(v.blob)
	default:
		return ""
	}
}

// Equal compares two values for the purposes of PK identity (§3
// "Primary-key identity"): same null-ness and same underlying scalar.
// Values of different types are equal when their Stringify forms match.
func (v Value) Equal(other Value) bool {
	if v.null != other.null {
		return false
	}
	if v.null {
		return true
	}
	if v.typ != other.typ {
		return v.Stringify() == other.Stringify()
	}
	switch v.typ {
	case ColText, ColBlob:
		return v.Stringify() == other.Stringify()
	case ColInt32, ColInt64:
		return v.i64 == other.i64
	case ColUInt64:
		return v.u64 == other.u64
	case ColDouble:
		return v.f64 == other.f64
	default:
		return false
	}
}

// Row is a mapping from column name to typed optional value; an absent key
// means null (§3 "Row").
type Row map[string]Value

// Clone returns a shallow copy of the row (Value is itself a value type, so
// this is a deep-enough copy for our purposes).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get returns the value for a column, or a null Text value if absent.
func (r Row) Get(col string) Value {
	if v, ok := r[col]; ok {
		return v
	}
	return Value{typ: ColText, null: true}
}

// PKKey renders the row's primary-key tuple as a stable map key, used to
// compare PK sets between the staging table and the persisted table (§4.3
// step 3-5). pkCols must be in the schema's declared order so two rows with
// the same PK tuple always render the same key regardless of how the row
// map was populated.
func (r Row) PKKey(pkCols []string) (string, error) {
	key := ""
	for i, c := range pkCols {
		v, ok := r[c]
		if !ok || v.IsNull() {
			return "", fmt.Errorf("row missing primary key column %q", c)
		}
		if i > 0 {
			key += "\x1f"
		}
		key += v.Stringify()
	}
	return key, nil
}
