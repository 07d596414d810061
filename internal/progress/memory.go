package progress

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/sightline/internal/model"
)

// MemoryStore is an in-process Store. Records are stored by value so a
// reader always gets its own copy.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.Progress
	ttl     time.Duration

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{records: make(map[string]model.Progress), ttl: ttl, nowFunc: time.Now}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, p model.Progress) error {
	stamp(&p, m.nowFunc(), m.ttl)
	m.mu.Lock()
	m.records[p.TaskID] = p
	m.mu.Unlock()
	return nil
}

// Get implements Store. Expired records are removed on read.
func (m *MemoryStore) Get(_ context.Context, taskID string) (*model.Progress, error) {
	m.mu.RLock()
	p, ok := m.records[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if p.Expired(m.nowFunc()) {
		m.mu.Lock()
		if cur, ok := m.records[taskID]; ok && cur.Expired(m.nowFunc()) {
			delete(m.records, taskID)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return &p, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, taskID string) error {
	m.mu.Lock()
	delete(m.records, taskID)
	m.mu.Unlock()
	return nil
}

// Sweep removes every expired record and returns how many were removed.
func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := m.nowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.records {
		if p.Expired(now) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
