package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sightline/internal/config"
	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/quota"
)

type fakeProgress struct {
	n     int
	err   error
	calls atomic.Int32
}

func (f *fakeProgress) Sweep(context.Context) (int, error) {
	f.calls.Add(1)
	return f.n, f.err
}

func TestSweepOnce(t *testing.T) {
	now := time.Date(2026, 5, 14, 10, 0, 0, 0, time.UTC)
	ledger := quota.NewMemoryLedger()
	_, err := ledger.Hold(context.Background(), model.HoldRequest{
		Hold:  model.UsageHold{ID: "live", IdentityKey: "k", CreatedAt: now, ExpiresAt: now.Add(30 * time.Minute)},
		Limit: -1,
	})
	require.NoError(t, err)
	_, err = ledger.Hold(context.Background(), model.HoldRequest{
		Hold:  model.UsageHold{ID: "stale", IdentityKey: "k", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-30 * time.Minute)},
		Limit: -1,
	})
	require.NoError(t, err)

	ps := &fakeProgress{n: 4}
	s := New(ps, ledger, config.SweeperConfig{IntervalSecs: 60})
	s.nowFunc = func() time.Time { return now }

	res, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Progress)
	assert.Equal(t, int64(1), res.Holds)
	assert.Equal(t, 1, ledger.Holds())
}

func TestSweepOnce_Error(t *testing.T) {
	s := New(&fakeProgress{err: errors.New("db gone")}, nil, config.SweeperConfig{})
	_, err := s.SweepOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweeper: progress")
}

func TestSweepOnce_NothingConfigured(t *testing.T) {
	res, err := New(nil, nil, config.SweeperConfig{}).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestNew_DefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(nil, nil, config.SweeperConfig{}).Interval())
	assert.Equal(t, 2*time.Second, New(nil, nil, config.SweeperConfig{IntervalSecs: 2}).Interval())
}

func TestRun_TicksAndStops(t *testing.T) {
	ps := &fakeProgress{n: 1}
	s := New(ps, nil, config.SweeperConfig{})
	s.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ps.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
