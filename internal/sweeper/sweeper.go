// Package sweeper periodically purges expired progress records and stale
// quota holds.
package sweeper

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sightline/internal/config"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/quota"
)

// DefaultInterval is used when the configured interval is not positive.
const DefaultInterval = 5 * time.Minute

// Result counts what one pass removed.
type Result struct {
	Progress int   `json:"progress"`
	Holds    int64 `json:"holds"`
}

// Sweeper purges on a ticker. Either target may be nil.
type Sweeper struct {
	progress progress.Sweeper
	holds    quota.HoldSweeper
	interval time.Duration
	nowFunc  func() time.Time
}

// New creates a Sweeper.
func New(ps progress.Sweeper, holds quota.HoldSweeper, cfg config.SweeperConfig) *Sweeper {
	interval := time.Duration(cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{progress: ps, holds: holds, interval: interval, nowFunc: time.Now}
}

// Interval returns the tick interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "sweeper"))
	log.Info("sweeper: starting", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper: stopped")
			return
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				log.Error("sweeper: pass failed", zap.Error(err))
				continue
			}
			if res.Progress > 0 || res.Holds > 0 {
				log.Info("sweeper: purged",
					zap.Int("progress", res.Progress),
					zap.Int64("holds", res.Holds),
				)
			}
		}
	}
}

// SweepOnce runs both purges concurrently.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	var res Result
	g, gctx := errgroup.WithContext(ctx)

	if s.progress != nil {
		g.Go(func() error {
			n, err := s.progress.Sweep(gctx)
			if err != nil {
				return eris.Wrap(err, "sweeper: progress")
			}
			res.Progress = n
			return nil
		})
	}
	if s.holds != nil {
		g.Go(func() error {
			n, err := s.holds.DeleteExpiredHolds(gctx, s.nowFunc())
			if err != nil {
				return eris.Wrap(err, "sweeper: holds")
			}
			res.Holds = n
			return nil
		})
	}

	err := g.Wait()
	return res, err
}
