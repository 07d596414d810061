package model

import "time"

// UsageEvent is one row of the append-only usage ledger. Events are never
// updated or deleted; quota is always counted from them.
type UsageEvent struct {
	ID           string       `json:"id"`
	IdentityKey  string       `json:"identity_key"`
	IdentityKind IdentityKind `json:"identity_kind"`
	Origin       string       `json:"origin,omitempty"`
	SourceID     string       `json:"source_id"`
	TaskID       string       `json:"task_id"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

// Window is a half-open time range [Start, End) used for counting events.
// A zero Start and End means the whole ledger.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Lifetime reports whether the window spans the whole ledger.
func (w Window) Lifetime() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Lifetime() {
		return true
	}
	return !t.Before(w.Start) && t.Before(w.End)
}

// UsageHold is a pending reservation against the ledger. A hold counts
// toward the limit until it is committed as a UsageEvent, released, or
// expires.
type UsageHold struct {
	ID          string    `json:"id"`
	IdentityKey string    `json:"identity_key"`
	Origin      string    `json:"origin,omitempty"`
	SourceID    string    `json:"source_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// HoldRequest asks the ledger to place a hold if the identity is below Limit
// inside Window. Limit < 0 disables the count.
type HoldRequest struct {
	Hold   UsageHold
	Limit  int
	Window Window
	// MatchOrigin also counts events and holds recorded for Hold.Origin.
	MatchOrigin bool
}
