package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/model"
)

// ErrTerminal is returned for writes after a task completed or failed.
var ErrTerminal = eris.New("progress: task already terminal")

// Tracker is the single writer of one task's progress record. It keeps
// percent non-decreasing and refuses transitions out of a terminal state.
type Tracker struct {
	store Store

	mu  sync.Mutex
	rec model.Progress

	nowFunc func() time.Time
}

// NewTracker creates a Tracker for a new task. Nothing is written until
// Start.
func NewTracker(store Store, taskID, sourceID, correlationID string) *Tracker {
	return &Tracker{
		store: store,
		rec: model.Progress{
			TaskID:        taskID,
			SourceID:      sourceID,
			CorrelationID: correlationID,
		},
		nowFunc: time.Now,
	}
}

// TaskID returns the tracked task id.
func (t *Tracker) TaskID() string { return t.rec.TaskID }

// Snapshot returns a copy of the last record written.
func (t *Tracker) Snapshot() model.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec
}

// Start writes the Queued record.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.CreatedAt = t.nowFunc()
	return t.writeLocked(ctx, StageQueued.Name, StageQueued.Percent, model.TaskStatusQueued)
}

// Advance moves to stage at its nominal percent.
func (t *Tracker) Advance(ctx context.Context, s Stage) error {
	return t.AdvanceTo(ctx, s, s.Percent)
}

// AdvanceTo moves to stage at an explicit percent. A percent lower than the
// current one is raised to the current one.
func (t *Tracker) AdvanceTo(ctx context.Context, s Stage, percent int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rec.Status.Terminal() {
		return ErrTerminal
	}
	percent = min(max(percent, t.rec.Percent, 0), 100)
	status := s.Status
	if status == "" {
		status = model.TaskStatusProcessing
	}
	return t.writeLocked(ctx, s.Name, percent, status)
}

// Complete writes the terminal Completed record.
func (t *Tracker) Complete(ctx context.Context) error {
	return t.Advance(ctx, StageCompleted)
}

// Fail writes the terminal Failed record. Percent stays where it was and
// only the user-safe message of cause is recorded.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rec.Status.Terminal() {
		return ErrTerminal
	}
	return t.writeLocked(ctx, FailedStage, t.rec.Percent, model.TaskStatusFailed, func(p *model.Progress) {
		p.ErrorKind = model.KindOf(cause)
		p.Error = model.PublicMessage(cause)
	})
}

func (t *Tracker) writeLocked(ctx context.Context, stage string, percent int, status model.TaskStatus, edits ...func(*model.Progress)) error {
	next := t.rec
	next.Stage = stage
	next.Percent = percent
	next.Status = status
	for _, edit := range edits {
		edit(&next)
	}
	if err := t.store.Put(ctx, next); err != nil {
		zap.L().Warn("progress: write failed",
			zap.String("task_id", next.TaskID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return eris.Wrapf(err, "progress: write %s", stage)
	}
	t.rec = next
	return nil
}
