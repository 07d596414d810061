package transcript

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sightline/internal/model"
)

var longText = strings.Repeat("a sentence about the video. ", 10)

// stubProvider implements Provider for testing.
type stubProvider struct {
	name    string
	text    string
	err     error
	delay   time.Duration
	skip    bool
	calls   int
	lastCtx context.Context
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return !s.skip }
func (s *stubProvider) Fetch(ctx context.Context, _ string) (string, error) {
	s.calls++
	s.lastCtx = ctx
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func TestChain_FirstSuccess(t *testing.T) {
	p1 := &stubProvider{name: "p1", text: longText}
	p2 := &stubProvider{name: "p2", text: longText}

	res, err := NewChain([]Provider{p1, p2}).Acquire(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "p1", res.Provider)
	assert.Equal(t, 1, res.AttemptsBeforeSuccess)
	assert.Equal(t, 0, p2.calls)
}

func TestChain_SucceedsAtK(t *testing.T) {
	p1 := &stubProvider{name: "p1", err: errors.New("boom")}
	p2 := &stubProvider{name: "p2", err: ErrNoTranscript}
	p3 := &stubProvider{name: "p3", text: longText}
	p4 := &stubProvider{name: "p4", text: longText}

	res, err := NewChain([]Provider{p1, p2, p3, p4}).Acquire(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "p3", res.Provider)
	assert.Equal(t, 3, res.AttemptsBeforeSuccess)
	assert.Equal(t, 1, p1.calls)
	assert.Equal(t, 1, p2.calls)
	assert.Equal(t, 0, p4.calls, "no calls after the successful provider")
}

func TestChain_TimeoutIsSoftFailure(t *testing.T) {
	slow := &stubProvider{name: "slow", text: longText, delay: time.Second}
	fast := &stubProvider{name: "fast", text: longText}

	chain := NewChain([]Provider{slow, fast},
		WithTimeout(time.Minute),
		WithProviderTimeout("slow", 10*time.Millisecond),
	)
	res, err := chain.Acquire(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Provider)
	assert.Equal(t, 2, res.AttemptsBeforeSuccess)

	deadline, ok := fast.lastCtx.Deadline()
	require.True(t, ok)
	assert.Greater(t, time.Until(deadline), 30*time.Second)
}

func TestChain_ShortTextIsMalformed(t *testing.T) {
	short := &stubProvider{name: "short", text: "too short"}
	good := &stubProvider{name: "good", text: longText}

	res, err := NewChain([]Provider{short, good}).Acquire(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "good", res.Provider)

	res, err = NewChain([]Provider{short}, WithMinChars(5)).Acquire(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "too short", res.Text)
}

func TestChain_SkipsUnavailable(t *testing.T) {
	off := &stubProvider{name: "off", text: longText, skip: true}
	on := &stubProvider{name: "on", text: longText}

	res, err := NewChain([]Provider{off, on}).Acquire(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "on", res.Provider)
	assert.Equal(t, 2, res.AttemptsBeforeSuccess)
	assert.Equal(t, 0, off.calls)
}

func TestChain_Exhausted(t *testing.T) {
	p1 := &stubProvider{name: "p1", err: errors.New("p1 broke")}
	p2 := &stubProvider{name: "p2", err: ErrNoTranscript}

	res, err := NewChain([]Provider{p1, p2}).Acquire(context.Background(), "abc123")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainExhausted)
	assert.Contains(t, err.Error(), "p1 broke")

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Len(t, ex.Attempts, 2)
	assert.Equal(t, "p2", ex.Attempts[1].Provider)

	assert.Equal(t, model.ErrorKindTranscriptUnavailable, model.KindOf(model.TranscriptUnavailable(err)))
}

func TestChain_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &stubProvider{name: "p1", text: longText}

	_, err := NewChain([]Provider{p1}).Acquire(ctx, "abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p1.calls)
}

func TestChain_Providers(t *testing.T) {
	chain := NewChain([]Provider{&stubProvider{name: "a"}, &stubProvider{name: "b"}})
	assert.Equal(t, []string{"a", "b"}, chain.Providers())
}

func TestReason(t *testing.T) {
	assert.Equal(t, "timeout", reason(context.DeadlineExceeded))
	assert.Equal(t, "not_found", reason(ErrNoTranscript))
	assert.Equal(t, "unavailable", reason(ErrUnavailable))
	assert.Equal(t, "error", reason(errors.New("x")))
}
