package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultInterval  = time.Second
	defaultGrace     = 3
	defaultStep      = 5
	defaultMaxErrors = 5

	// SimulatedCap is the highest percent a local estimate will show.
	SimulatedCap = 90
)

// ErrCancelled is returned by Wait after Cancel. The server job keeps
// running; only this client stops listening.
var ErrCancelled = eris.New("poller: cancelled")

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithInterval sets the fixed poll interval.
func WithInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithGrace sets how many not-found readings are tolerated after the
// canonical id is known.
func WithGrace(n int) SessionOption {
	return func(s *Session) { s.grace = n }
}

// WithStep sets the percent added per simulated reading.
func WithStep(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.step = n
		}
	}
}

// WithMaxErrors sets how many consecutive transport errors Wait tolerates.
func WithMaxErrors(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxErrors = n
		}
	}
}

// WithOnUpdate registers a callback for every reading Wait takes.
func WithOnUpdate(fn func(Progress)) SessionOption {
	return func(s *Session) { s.onUpdate = fn }
}

// Session polls one task. It starts on a client-generated provisional id
// and switches to the server's id once Reconcile is called. Until then, and
// for a few ticks after, a not-found reading is answered with a local
// estimate instead of an error.
type Session struct {
	client    Client
	interval  time.Duration
	grace     int
	step      int
	maxErrors int
	onUpdate  func(Progress)

	mu          sync.Mutex
	provisional string
	canonical   string
	misses      int
	shown       int
	last        *Progress

	cancelOnce sync.Once
	done       chan struct{}
}

// NewSession creates a Session for provisionalID.
func NewSession(client Client, provisionalID string, opts ...SessionOption) *Session {
	s := &Session{
		client:      client,
		interval:    defaultInterval,
		grace:       defaultGrace,
		step:        defaultStep,
		maxErrors:   defaultMaxErrors,
		provisional: provisionalID,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile switches the session to the server-issued id.
func (s *Session) Reconcile(canonicalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if canonicalID == "" || canonicalID == s.canonical {
		return
	}
	s.canonical = canonicalID
	s.misses = 0
}

// ID returns the id currently polled.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idLocked()
}

func (s *Session) idLocked() string {
	if s.canonical != "" {
		return s.canonical
	}
	return s.provisional
}

// Reconciled reports whether the server id is known.
func (s *Session) Reconciled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canonical != ""
}

// Last returns the most recent reading, or nil.
func (s *Session) Last() *Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	p := *s.last
	return &p
}

// Cancel stops Wait. It is safe to call more than once.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.done) })
}

// Poll takes one reading. The percent it reports never decreases across
// calls while the task is running.
func (s *Session) Poll(ctx context.Context) (*Progress, error) {
	id := s.ID()
	p, err := s.client.GetProgress(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if errors.Is(err, ErrNotFound) {
		if s.canonical != "" {
			if s.misses >= s.grace {
				return nil, eris.Wrapf(ErrNotFound, "poller: task %s", id)
			}
			s.misses++
		}
		return s.simulateLocked(id), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "poller: read %s", id)
	}

	if s.canonical != "" {
		s.misses = 0
	}
	if !p.Terminal() && p.Percent < s.shown {
		p.Percent = s.shown
	}
	if p.Status != StatusFailed {
		s.shown = p.Percent
	}
	s.last = p
	out := *p
	return &out, nil
}

func (s *Session) simulateLocked(id string) *Progress {
	next := min(s.shown+s.step, SimulatedCap)
	s.shown = max(s.shown, next)
	p := &Progress{
		TaskID:    id,
		Status:    StatusQueued,
		Stage:     "Starting",
		Percent:   s.shown,
		Simulated: true,
	}
	s.last = p
	out := *p
	return &out
}

// Wait polls at the fixed interval until the task is terminal, the
// session is cancelled, or ctx is done. A failed task is returned without
// an error; callers inspect Status.
func (s *Session) Wait(ctx context.Context) (*Progress, error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	errs := 0
	for {
		select {
		case <-s.done:
			return s.Last(), ErrCancelled
		default:
		}

		p, err := s.Poll(ctx)
		switch {
		case err == nil:
			errs = 0
			if s.onUpdate != nil {
				s.onUpdate(*p)
			}
			if p.Terminal() {
				return p, nil
			}
		case errors.Is(err, ErrNotFound):
			return s.Last(), err
		case ctx.Err() != nil:
			return s.Last(), eris.Wrap(ctx.Err(), "poller: wait")
		default:
			errs++
			if errs >= s.maxErrors {
				return s.Last(), err
			}
		}

		select {
		case <-s.done:
			return s.Last(), ErrCancelled
		case <-ctx.Done():
			return s.Last(), eris.Wrap(ctx.Err(), "poller: wait")
		case <-ticker.C:
		}
	}
}
