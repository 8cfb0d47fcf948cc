package dbsync

import "fmt"

// DbError wraps an unexpected status/result code surfaced by the backend.
// It always carries a numeric code and a human-readable message, mirroring
// the embedded store's own error shape (see original_source's
// dbsync_error/sqlite_error) instead of flattening everything to a string.
type DbError struct {
	Code    int
	Message string
}

func (e *DbError) Error() string {
	return fmt.Sprintf("dbsync: db error %d: %s", e.Code, e.Message)
}

// NewDbError builds a DbError from a backend result code and message.
func NewDbError(code int, message string) *DbError {
	return &DbError{Code: code, Message: message}
}

// MaxRowsError signals that a bulk insert would push a table's row count
// past its configured bound (§4.3 "Max rows"). Callers of InsertData see
// this returned directly; the snapshot-refresh path converts it into a
// MAX_ROWS event instead of aborting.
type MaxRowsError struct {
	Table string
	Limit int64
}

func (e *MaxRowsError) Error() string {
	return fmt.Sprintf("dbsync: table %q exceeded max_rows=%d", e.Table, e.Limit)
}

// InvalidHandle is returned when an operation references a DBSYNC_HANDLE
// equivalent that was never created or was already released.
type InvalidHandle struct {
	Handle string
}

func (e *InvalidHandle) Error() string {
	return fmt.Sprintf("dbsync: invalid handle %q", e.Handle)
}

// InvalidTransaction is returned when an operation references a TXN_HANDLE
// equivalent that was never created or was already closed.
type InvalidTransaction struct {
	Handle string
}

func (e *InvalidTransaction) Error() string {
	return fmt.Sprintf("dbsync: invalid transaction %q", e.Handle)
}

// InvalidParameters is returned for malformed caller input: missing
// required fields, unknown table names, wrong value types for a column.
type InvalidParameters struct {
	Reason string
}

func (e *InvalidParameters) Error() string {
	return fmt.Sprintf("dbsync: invalid parameters: %s", e.Reason)
}

// FactoryInstantiation is returned when the engine cannot be constructed
// (e.g. an unsupported backend type or a DDL string that fails to parse).
type FactoryInstantiation struct {
	Reason string
}

func (e *FactoryInstantiation) Error() string {
	return fmt.Sprintf("dbsync: cannot instantiate: %s", e.Reason)
}

// JsonError wraps a JSON parse/shape error with the numeric id the original
// implementation attaches to such failures.
type JsonError struct {
	ID      int
	Message string
}

func (e *JsonError) Error() string {
	return fmt.Sprintf("dbsync: json error %d: %s", e.ID, e.Message)
}
