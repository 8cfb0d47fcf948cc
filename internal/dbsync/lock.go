package dbsync

import "sync"

// rwMutex is the engine-level reader/writer lock from §5: "select takes a
// shared lock; sync_row, refresh_table_data, update_with_snapshot, and
// deletion sweep take an exclusive lock." It's a thin named wrapper (rather
// than embedding sync.RWMutex directly) purely so call sites document
// intent: e.lock.RLock() for select_data readers, e.lock.Lock() for every
// mutating entry point, including the get_deleted sweep. Grounded on
// original_source's std::shared_timed_mutex m_syncMutex in
// dbsync_implementation.h.
type rwMutex struct {
	mu sync.RWMutex
}

func (m *rwMutex) Lock()    { m.mu.Lock() }
func (m *rwMutex) Unlock()  { m.mu.Unlock() }
func (m *rwMutex) RLock()   { m.mu.RLock() }
func (m *rwMutex) RUnlock() { m.mu.RUnlock() }
