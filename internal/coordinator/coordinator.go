// Package coordinator runs a summarization job end to end: authorize
// against quota, acquire a transcript, summarize, persist, and charge.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/quota"
	"github.com/sells-group/sightline/internal/summarize"
)

// DefaultMaxDuration is the longest video accepted.
const DefaultMaxDuration = 6 * time.Hour

// ErrAlreadyRun is returned when Run is called twice on one job.
var ErrAlreadyRun = eris.New("coordinator: job already run")

// Summaries is the persistence the coordinator needs. DeleteSummary undoes
// an upsert whose usage could not be charged.
type Summaries interface {
	GetSummary(ctx context.Context, identityKey, sourceID string) (*model.Summary, error)
	UpsertSummary(ctx context.Context, s *model.Summary) (*model.Summary, error)
	DeleteSummary(ctx context.Context, identityKey, sourceID string) error
}

// Reserver authorizes a job against the caller's quota.
type Reserver interface {
	Reserve(ctx context.Context, id model.Identity, sourceID string) (*quota.Reservation, error)
}

// Acquirer fetches a transcript through the provider chain.
type Acquirer interface {
	Acquire(ctx context.Context, sourceID string) (*model.TranscriptResult, error)
}

// Coordinator wires the job dependencies together.
type Coordinator struct {
	summaries  Summaries
	quota      Reserver
	chain      Acquirer
	summarizer summarize.Summarizer
	progress   progress.Store
	metadata   MetadataSource

	maxDuration time.Duration
	jobTimeout  time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetadata enables the metadata step.
func WithMetadata(m MetadataSource) Option {
	return func(c *Coordinator) { c.metadata = m }
}

// WithMaxDuration rejects videos longer than d. Zero disables the check.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Coordinator) { c.maxDuration = d }
}

// WithJobTimeout bounds the whole Run. Zero means no bound beyond the
// chain's own per-provider timeouts.
func WithJobTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.jobTimeout = d }
}

// New creates a Coordinator.
func New(st Summaries, q Reserver, chain Acquirer, s summarize.Summarizer, ps progress.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		summaries:   st,
		quota:       q,
		chain:       chain,
		summarizer:  s,
		progress:    ps,
		maxDuration: DefaultMaxDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRequest is one inbound summarize call.
type StartRequest struct {
	Identity      model.Identity
	SourceURL     string
	CorrelationID string
	// ProvisionalID is the client's throwaway id, echoed back so the
	// client can reconcile it to TaskID.
	ProvisionalID string
}

// Job is a started task. A cached job already carries its Summary and Run
// returns it without doing any work.
type Job struct {
	TaskID        string
	ProvisionalID string
	SourceID      string
	Identity      model.Identity
	Cached        bool

	c           *Coordinator
	reservation *quota.Reservation
	tracker     *progress.Tracker
	log         *zap.Logger

	once    sync.Once
	summary *model.Summary
}

// Start validates the request, returns an existing summary if there is one,
// otherwise reserves quota and writes the Queued record. Validation and
// quota errors are returned before any task state is created.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*Job, error) {
	sourceID, err := model.ParseSourceID(req.SourceURL)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("source_id", sourceID),
		zap.String("identity_kind", string(req.Identity.Kind)),
		zap.String("correlation_id", req.CorrelationID),
	)

	existing, err := c.summaries.GetSummary(ctx, req.Identity.Key, sourceID)
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: look up existing summary")
	}
	if existing != nil {
		return c.cachedJob(ctx, req, sourceID, existing, log), nil
	}

	res, err := c.quota.Reserve(ctx, req.Identity, sourceID)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	tracker := progress.NewTracker(c.progress, taskID, sourceID, req.CorrelationID)
	if err := tracker.Start(ctx); err != nil {
		if rerr := res.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Error("coordinator: release after failed start", zap.Error(rerr))
		}
		return nil, eris.Wrap(err, "coordinator: write queued")
	}

	log = log.With(zap.String("task_id", taskID))
	log.Info("coordinator: job queued")

	return &Job{
		TaskID:        taskID,
		ProvisionalID: req.ProvisionalID,
		SourceID:      sourceID,
		Identity:      req.Identity,
		c:             c,
		reservation:   res,
		tracker:       tracker,
		log:           log,
	}, nil
}

// Summarize is Start followed by Run.
func (c *Coordinator) Summarize(ctx context.Context, req StartRequest) (*Job, *model.Summary, error) {
	job, err := c.Start(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	sum, err := job.Run(ctx)
	return job, sum, err
}

func (c *Coordinator) cachedJob(ctx context.Context, req StartRequest, sourceID string, s *model.Summary, log *zap.Logger) *Job {
	taskID := uuid.NewString()
	tracker := progress.NewTracker(c.progress, taskID, sourceID, req.CorrelationID)
	if err := tracker.Complete(ctx); err != nil {
		log.Warn("coordinator: write completed for cached summary", zap.Error(err))
	}
	log.Info("coordinator: returning existing summary", zap.String("task_id", taskID))

	j := &Job{
		TaskID:        taskID,
		ProvisionalID: req.ProvisionalID,
		SourceID:      sourceID,
		Identity:      req.Identity,
		Cached:        true,
		c:             c,
		tracker:       tracker,
		log:           log,
		summary:       s,
	}
	return j
}

// Run drives the job to a terminal state. It always writes Completed or
// Failed, and either commits or releases the reservation, even when ctx is
// cancelled part way.
func (j *Job) Run(ctx context.Context) (*model.Summary, error) {
	if j.Cached {
		return j.summary, nil
	}

	ran := false
	var (
		sum *model.Summary
		err error
	)
	j.once.Do(func() {
		ran = true
		sum, err = j.run(ctx)
	})
	if !ran {
		return nil, ErrAlreadyRun
	}
	return sum, err
}

func (j *Job) run(ctx context.Context) (*model.Summary, error) {
	start := time.Now()
	if j.c.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.c.jobTimeout)
		defer cancel()
	}

	sum, err := j.execute(ctx)

	// Terminal bookkeeping must survive a cancelled job context.
	final := context.WithoutCancel(ctx)
	if err != nil {
		j.log.Error("coordinator: job failed",
			zap.String("error_kind", string(model.KindOf(err))),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		if ferr := j.tracker.Fail(final, err); ferr != nil {
			j.log.Warn("coordinator: write failed state", zap.Error(ferr))
		}
		if rerr := j.reservation.Release(final); rerr != nil {
			j.log.Error("coordinator: release reservation", zap.Error(rerr))
		}
		return nil, err
	}

	if cerr := j.reservation.Commit(final, j.TaskID); cerr != nil {
		j.log.Error("coordinator: commit usage", zap.Error(cerr))
		// An uncharged summary must not be served from the cache later.
		if derr := j.c.summaries.DeleteSummary(final, j.Identity.Key, j.SourceID); derr != nil {
			j.log.Error("coordinator: remove uncharged summary", zap.Error(derr))
		}
		if ferr := j.tracker.Fail(final, cerr); ferr != nil {
			j.log.Warn("coordinator: write failed state", zap.Error(ferr))
		}
		if rerr := j.reservation.Release(final); rerr != nil {
			j.log.Error("coordinator: release reservation", zap.Error(rerr))
		}
		return nil, eris.Wrap(cerr, "coordinator: commit usage")
	}
	if terr := j.tracker.Complete(final); terr != nil {
		j.log.Warn("coordinator: write completed", zap.Error(terr))
	}

	j.summary = sum
	j.log.Info("coordinator: job completed",
		zap.String("transcript_provider", sum.Artifact.TranscriptProvider),
		zap.String("summarizer", sum.Artifact.Summarizer),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sum, nil
}

// execute runs the stages. Progress writes are best effort; the tracker
// logs its own write failures.
func (j *Job) execute(ctx context.Context) (*model.Summary, error) {
	_ = j.tracker.Advance(ctx, progress.StageConnecting)

	_ = j.tracker.Advance(ctx, progress.StageFetchingMetadata)
	meta, err := j.fetchMetadata(ctx)
	if err != nil {
		return nil, err
	}

	_ = j.tracker.Advance(ctx, progress.StageAcquiringTranscript)
	tr, err := j.c.chain.Acquire(ctx, j.SourceID)
	if err != nil {
		if cerr := interrupted(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, model.TranscriptUnavailable(err)
	}
	j.log.Info("coordinator: transcript acquired",
		zap.String("provider", tr.Provider),
		zap.Int("attempts_before_success", tr.AttemptsBeforeSuccess),
		zap.Int("chars", len(tr.Text)),
	)

	_ = j.tracker.Advance(ctx, progress.StageSummarizing)
	in := summarize.Input{SourceID: j.SourceID, Transcript: tr.Text}
	if meta != nil {
		in.Title = meta.Title
		in.Channel = meta.Channel
	}
	out, err := j.c.summarizer.Summarize(ctx, in)
	if err != nil {
		if cerr := interrupted(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, model.Summarization(err)
	}

	_ = j.tracker.Advance(ctx, progress.StageGeneratingSummary)
	artifact := model.Artifact{
		SourceURL:          model.WatchURL(j.SourceID),
		Content:            out.Content,
		KeyPoints:          out.KeyPoints,
		Sections:           out.Sections,
		TranscriptProvider: tr.Provider,
		Summarizer:         out.Summarizer,
		Model:              out.Model,
		Metadata:           meta,
	}
	if meta != nil {
		artifact.Title = meta.Title
		artifact.Channel = meta.Channel
	}

	_ = j.tracker.Advance(ctx, progress.StageFinalizing)
	sum, err := j.c.summaries.UpsertSummary(ctx, &model.Summary{
		IdentityKey: j.Identity.Key,
		SourceID:    j.SourceID,
		Artifact:    artifact,
	})
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: persist summary")
	}
	return sum, nil
}

// interrupted reports a job stopped by its own deadline or by shutdown. It
// is an internal failure, not a statement about the video.
func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "coordinator: job interrupted")
	}
	return nil
}

// fetchMetadata is a soft step except for the duration gate.
func (j *Job) fetchMetadata(ctx context.Context) (*model.VideoMetadata, error) {
	if j.c.metadata == nil {
		return nil, nil
	}
	meta, err := j.c.metadata.Lookup(ctx, j.SourceID)
	if err != nil {
		if cerr := interrupted(ctx); cerr != nil {
			return nil, cerr
		}
		j.log.Warn("coordinator: metadata unavailable", zap.Error(err))
		return nil, nil
	}
	if j.c.maxDuration > 0 && meta.Duration > j.c.maxDuration {
		return nil, model.Validation(
			fmt.Sprintf("This video is longer than %d hours, which is the longest we can summarize.", int(j.c.maxDuration.Hours())),
			eris.Errorf("coordinator: duration %s exceeds %s", meta.Duration, j.c.maxDuration),
		)
	}
	return meta, nil
}

// Summary returns the job's summary once Run has succeeded, or the
// existing summary for a cached job.
func (j *Job) Summary() *model.Summary {
	return j.summary
}
