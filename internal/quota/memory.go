package quota

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/sightline/internal/model"
)

// MemoryLedger is an in-process Ledger guarded by a single mutex. It backs
// tests and single-instance development runs.
type MemoryLedger struct {
	mu     sync.Mutex
	events []model.UsageEvent
	holds  map[string]model.UsageHold
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{holds: make(map[string]model.UsageHold)}
}

// Hold implements Ledger.
func (m *MemoryLedger) Hold(_ context.Context, req model.HoldRequest) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := req.Hold.CreatedAt
	m.purgeLocked(now)

	used := 0
	if req.Limit >= 0 {
		for _, ev := range m.events {
			if matches(req, ev.IdentityKey, ev.Origin) && req.Window.Contains(ev.OccurredAt) {
				used++
			}
		}
		for _, h := range m.holds {
			if matches(req, h.IdentityKey, h.Origin) {
				used++
			}
		}
		if used >= req.Limit {
			return used, ErrLimitReached
		}
	}

	m.holds[req.Hold.ID] = req.Hold
	return used, nil
}

// Commit implements Ledger. The event is appended even when the hold has
// already expired so a finished job is never lost from the ledger.
func (m *MemoryLedger) Commit(_ context.Context, holdID string, ev model.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holds, holdID)
	m.events = append(m.events, ev)
	return nil
}

// Release implements Ledger.
func (m *MemoryLedger) Release(_ context.Context, holdID string) error {
	m.mu.Lock()
	delete(m.holds, holdID)
	m.mu.Unlock()
	return nil
}

// Count implements Ledger. Only committed events are counted.
func (m *MemoryLedger) Count(_ context.Context, identityKey string, w model.Window) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.IdentityKey == identityKey && w.Contains(ev.OccurredAt) {
			n++
		}
	}
	return n, nil
}

// DeleteExpiredHolds implements HoldSweeper.
func (m *MemoryLedger) DeleteExpiredHolds(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.purgeLocked(now)), nil
}

// Events returns a copy of the committed events.
func (m *MemoryLedger) Events() []model.UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.UsageEvent(nil), m.events...)
}

// Holds returns the number of holds currently stored.
func (m *MemoryLedger) Holds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holds)
}

func (m *MemoryLedger) purgeLocked(now time.Time) int {
	n := 0
	for id, h := range m.holds {
		if !now.Before(h.ExpiresAt) {
			delete(m.holds, id)
			n++
		}
	}
	return n
}

func matches(req model.HoldRequest, key, origin string) bool {
	if key == req.Hold.IdentityKey {
		return true
	}
	return req.MatchOrigin && req.Hold.Origin != "" && origin == req.Hold.Origin
}
