// Package quota decides whether an identity may start a new job. Usage is
// always counted from the append-only ledger, never from a counter column,
// so deleting a summary cannot give a slot back.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/model"
)

// DefaultHoldTTL bounds how long an abandoned reservation keeps its slot.
const DefaultHoldTTL = 30 * time.Minute

// Error codes carried by quota-exceeded errors.
const (
	CodeSignInRequired  = "sign_in_required"
	CodeUpgradeRequired = "upgrade_required"
)

// ErrReservationClosed is returned when a reservation is committed after it
// was already committed or released.
var ErrReservationClosed = eris.New("quota: reservation already closed")

// Engine evaluates quota policies against a Ledger.
type Engine struct {
	ledger      Ledger
	policies    map[model.IdentityKind]model.QuotaPolicy
	loc         *time.Location
	holdTTL     time.Duration
	matchOrigin bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the zone used for the monthly window boundary.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithHoldTTL sets the reservation hold lifetime.
func WithHoldTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.holdTTL = d
		}
	}
}

// WithLimits overrides per-kind limits keyed by identity kind name.
// Unknown kinds and negative values are ignored.
func WithLimits(limits map[string]int) Option {
	return func(e *Engine) {
		for name, n := range limits {
			kind := model.IdentityKind(name)
			p, ok := e.policies[kind]
			if !ok || n < 0 {
				continue
			}
			p.Limit = n
			e.policies[kind] = p
		}
	}
}

// WithOriginMatch makes anonymous reservations also count usage recorded
// from the same network origin.
func WithOriginMatch(on bool) Option {
	return func(e *Engine) { e.matchOrigin = on }
}

// NewEngine creates an Engine with the default policies, UTC month
// boundaries and origin matching enabled.
func NewEngine(ledger Ledger, opts ...Option) *Engine {
	e := &Engine{
		ledger:      ledger,
		policies:    make(map[model.IdentityKind]model.QuotaPolicy, len(model.DefaultPolicies)),
		loc:         time.UTC,
		holdTTL:     DefaultHoldTTL,
		matchOrigin: true,
		nowFunc:     time.Now,
	}
	for k, p := range model.DefaultPolicies {
		e.policies[k] = p
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the policy for kind. Unknown kinds get the none scope.
func (e *Engine) Policy(kind model.IdentityKind) model.QuotaPolicy {
	if p, ok := e.policies[kind]; ok {
		return p
	}
	return model.QuotaPolicy{Scope: model.QuotaScopeNone}
}

// MonthWindow returns [start of month, start of next month) around now in loc.
func MonthWindow(now time.Time, loc *time.Location) model.Window {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return model.Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// Window returns the counting window for a policy at now.
func (e *Engine) Window(p model.QuotaPolicy, now time.Time) model.Window {
	if p.Scope == model.QuotaScopeMonthly {
		return MonthWindow(now, e.loc)
	}
	return model.Window{}
}

// Reservation is a held quota slot. Exactly one of Commit or Release should
// follow a successful Reserve.
type Reservation struct {
	engine   *Engine
	hold     model.UsageHold
	identity model.Identity

	mu     sync.Mutex
	closed bool
}

// ID returns the hold id.
func (r *Reservation) ID() string { return r.hold.ID }

// ExpiresAt returns when the hold stops counting toward the limit.
func (r *Reservation) ExpiresAt() time.Time { return r.hold.ExpiresAt }

// Reserve atomically takes a slot for identity. It returns a *model.JobError
// of kind quota_exceeded when no slot is left.
func (e *Engine) Reserve(ctx context.Context, id model.Identity, sourceID string) (*Reservation, error) {
	policy := e.Policy(id.Kind)
	now := e.nowFunc()

	if policy.Scope == model.QuotaScopeNone {
		return nil, exceeded(id, policy, 0, model.Window{})
	}

	req := model.HoldRequest{
		Hold: model.UsageHold{
			ID:          uuid.NewString(),
			IdentityKey: id.Key,
			Origin:      id.Origin,
			SourceID:    sourceID,
			CreatedAt:   now,
			ExpiresAt:   now.Add(e.holdTTL),
		},
		Limit:       policy.Limit,
		Window:      e.Window(policy, now),
		MatchOrigin: e.matchOrigin && id.Kind == model.IdentityAnonymous,
	}
	if policy.Scope == model.QuotaScopeUnbounded {
		req.Limit = -1
	}

	used, err := e.ledger.Hold(ctx, req)
	if errors.Is(err, ErrLimitReached) {
		zap.L().Info("quota: reservation rejected",
			zap.String("identity_kind", string(id.Kind)),
			zap.String("scope", string(policy.Scope)),
			zap.Int("used", used),
			zap.Int("limit", policy.Limit),
		)
		return nil, exceeded(id, policy, used, req.Window)
	}
	if err != nil {
		return nil, eris.Wrap(err, "quota: hold")
	}

	return &Reservation{engine: e, hold: req.Hold, identity: id}, nil
}

// Commit appends the usage event for taskID and frees the hold.
func (r *Reservation) Commit(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrReservationClosed
	}
	ev := model.UsageEvent{
		ID:           uuid.NewString(),
		IdentityKey:  r.identity.Key,
		IdentityKind: r.identity.Kind,
		Origin:       r.identity.Origin,
		SourceID:     r.hold.SourceID,
		TaskID:       taskID,
		OccurredAt:   r.engine.nowFunc(),
	}
	if err := r.engine.ledger.Commit(ctx, r.hold.ID, ev); err != nil {
		return eris.Wrap(err, "quota: commit")
	}
	r.closed = true
	return nil
}

// Release drops the hold without recording usage. Releasing a closed
// reservation is a no-op.
func (r *Reservation) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if err := r.engine.ledger.Release(ctx, r.hold.ID); err != nil {
		return eris.Wrap(err, "quota: release")
	}
	r.closed = true
	return nil
}

// Usage summarizes an identity's consumption under its policy.
type Usage struct {
	Kind     model.IdentityKind `json:"kind"`
	Scope    model.QuotaScope   `json:"scope"`
	Used     int                `json:"used"`
	Limit    int                `json:"limit"`
	ResetsAt time.Time          `json:"resets_at,omitzero"`
}

// Remaining returns the slots left, or -1 for unbounded policies.
func (u Usage) Remaining() int {
	switch u.Scope {
	case model.QuotaScopeUnbounded:
		return -1
	case model.QuotaScopeNone:
		return 0
	}
	return max(u.Limit-u.Used, 0)
}

// Usage reports committed usage for id in its current window.
func (e *Engine) Usage(ctx context.Context, id model.Identity) (*Usage, error) {
	policy := e.Policy(id.Kind)
	w := e.Window(policy, e.nowFunc())
	n, err := e.ledger.Count(ctx, id.Key, w)
	if err != nil {
		return nil, eris.Wrap(err, "quota: count usage")
	}
	return &Usage{Kind: id.Kind, Scope: policy.Scope, Used: n, Limit: policy.Limit, ResetsAt: w.End}, nil
}

func exceeded(id model.Identity, p model.QuotaPolicy, used int, w model.Window) error {
	var je *model.JobError
	switch {
	case id.Kind == model.IdentityAnonymous:
		je = model.QuotaExceeded(
			fmt.Sprintf("You've used %d of %d free summaries. Sign in to keep summarizing.", min(used, p.Limit), p.Limit),
			CodeSignInRequired)
	case p.Scope == model.QuotaScopeMonthly:
		je = model.QuotaExceeded(
			fmt.Sprintf("You've used %d of %d summaries this month. Upgrade your plan or wait until %s.",
				min(used, p.Limit), p.Limit, w.End.Format("January 2, 2006")),
			CodeUpgradeRequired)
	case p.Scope == model.QuotaScopeNone:
		je = model.QuotaExceeded("Your account can't start summaries. Upgrade your plan to continue.", CodeUpgradeRequired)
	default:
		je = model.QuotaExceeded(
			fmt.Sprintf("You've used %d of %d free summaries. Upgrade your plan to keep summarizing.", min(used, p.Limit), p.Limit),
			CodeUpgradeRequired)
	}
	je.Err = ErrLimitReached
	return je
}
