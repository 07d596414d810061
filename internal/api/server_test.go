package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sightline/internal/config"
	"github.com/sells-group/sightline/internal/coordinator"
	"github.com/sells-group/sightline/internal/identity"
	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/quota"
	"github.com/sells-group/sightline/internal/resilience"
	"github.com/sells-group/sightline/internal/store"
	"github.com/sells-group/sightline/internal/summarize"
	"github.com/sells-group/sightline/internal/transcript"
)

const (
	secret = "test-secret"
	video  = "abc123abc12"
)

type stubProvider struct {
	text  string
	err   error
	delay time.Duration
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Fetch(ctx context.Context, _ string) (string, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.text, p.err
}

type stubSummarizer struct{}

func (stubSummarizer) Name() string { return "stub" }

func (stubSummarizer) Summarize(context.Context, summarize.Input) (*summarize.Output, error) {
	return &summarize.Output{Content: "## TL;DR\nShort.", Summarizer: "stub", Model: "stub-1"}, nil
}

type fixture struct {
	srv      *Server
	handler  http.Handler
	store    *store.SQLiteStore
	progress *progress.MemoryStore
	provider *stubProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	provider := &stubProvider{text: strings.Repeat("a line of the transcript. ", 10)}
	chain := transcript.NewChain([]transcript.Provider{provider})
	ps := progress.NewMemoryStore(time.Hour)
	engine := quota.NewEngine(st)
	coord := coordinator.New(st, engine, chain, stubSummarizer{}, ps)

	breakers := resilience.NewRegistry(resilience.NewBreakerConfig(3, 30))
	breakers.Get("oxylabs")

	srv := New(coord, ps, st, identity.NewResolver(config.AuthConfig{JWTSecret: secret}),
		WithUsage(engine), WithBreakers(breakers))
	return &fixture{srv: srv, handler: srv.Handler(), store: st, progress: ps, provider: provider}
}

func token(t *testing.T, sub, tier string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "tier": tier}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

var anonHeaders = map[string]string{identity.FingerprintHeader: "fp-1"}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"store": "ok"}, body["checks"])
	breakers, ok := body["breakers"].([]any)
	require.True(t, ok)
	assert.Len(t, breakers, 1)
}

func TestSummarize_SyncThenCached(t *testing.T) {
	f := newFixture(t)
	headers := map[string]string{identity.FingerprintHeader: "fp-1", CorrelationHeader: "corr-42"}

	rec := f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: "https://www.youtube.com/watch?v=" + video, TaskID: "tmp-1"}, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "corr-42", rec.Header().Get(CorrelationHeader))

	first := decode[summarizeResponse](t, rec)
	assert.Equal(t, "tmp-1", first.ProvisionalID)
	assert.NotEmpty(t, first.TaskID)
	assert.False(t, first.Cached)
	require.NotNil(t, first.Summary)
	assert.Equal(t, video, first.Summary.SourceID)

	p, err := f.progress.Get(context.Background(), first.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "corr-42", p.CorrelationID)

	rec = f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: video}, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[summarizeResponse](t, rec)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Summary.ID, second.Summary.ID)
}

func TestSummarize_SyncSurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t)
	f.provider.delay = 300 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	body, err := json.Marshal(summarizeRequest{URL: video})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/summarize", bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set(identity.FingerprintHeader, "fp-1")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[summarizeResponse](t, rec)
	require.NotNil(t, resp.Summary)

	p, err := f.progress.Get(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, p.Status)

	n, err := f.store.Count(context.Background(), model.AnonymousKey("fp-1"), model.Window{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSummarize_ForwardedForIgnoredByDefault(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: video},
		map[string]string{identity.FingerprintHeader: "fp-1", "X-Forwarded-For": "203.0.113.1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: "dQw4w9WgXcQ"},
		map[string]string{identity.FingerprintHeader: "fp-2", "X-Forwarded-For": "203.0.113.2"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "same RemoteAddr is the same origin")
}

func TestSummarize_TrustedProxyUsesForwardedFor(t *testing.T) {
	f := newFixture(t)
	handler := New(f.srv.jobs, f.progress, f.store, f.srv.resolver, WithTrustedProxy(true)).Handler()

	for i, fp := range []string{"fp-1", "fp-2"} {
		body, err := json.Marshal(summarizeRequest{URL: []string{video, "dQw4w9WgXcQ"}[i]})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/summarize", bytes.NewReader(body))
		req.Header.Set(identity.FingerprintHeader, fp)
		req.Header.Set("X-Forwarded-For", []string{"203.0.113.1", "203.0.113.2"}[i])
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestSummarize_QuotaExceeded(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: video}, anonHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: "dQw4w9WgXcQ"}, anonHeaders)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, quota.CodeSignInRequired, body.Code)
	assert.Equal(t, model.ErrorKindQuotaExceeded, body.Kind)
	assert.NotEmpty(t, body.Error)
}

func TestSummarize_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: "https://example.com/video"}, anonHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: video}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing fingerprint")

	req := httptest.NewRequest(http.MethodPost, "/api/summarize", strings.NewReader("{not json"))
	req.Header.Set(identity.FingerprintHeader, "fp-1")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummarize_InvalidToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: video},
		map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSummarize_TranscriptUnavailable(t *testing.T) {
	f := newFixture(t)
	f.provider.text = ""
	f.provider.err = errors.New("captions disabled")

	rec := f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: video}, anonHeaders)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.NotEmpty(t, body.TaskID)
	assert.NotContains(t, body.Error, "captions disabled")

	p, err := f.progress.Get(context.Background(), body.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, p.Status)
}

func TestSummarize_Async(t *testing.T) {
	f := newFixture(t)
	headers := map[string]string{"Authorization": "Bearer " + token(t, "user-1", "pro")}

	rec := f.do(t, http.MethodPost, "/api/summarize?async=true", summarizeRequest{URL: video, TaskID: "tmp-9"}, headers)
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[summarizeResponse](t, rec)
	assert.Equal(t, "tmp-9", resp.ProvisionalID)
	assert.Nil(t, resp.Summary)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Wait(ctx))

	rec = f.do(t, http.MethodGet, "/api/progress/"+resp.TaskID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[model.Progress](t, rec)
	assert.Equal(t, model.TaskStatusCompleted, p.Status)
	assert.Equal(t, 100, p.Percent)
}

func TestGetSummary_Anonymous(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/summaries/"+video, nil, anonHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: video}, anonHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/summaries/"+video, nil, anonHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[model.Summary](t, rec)
	assert.Equal(t, "anon:fp-1", sum.IdentityKey)

	rec = f.do(t, http.MethodGet, "/api/summaries/"+video, nil, map[string]string{identity.FingerprintHeader: "fp-2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgress_NotFoundAndDelete(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/progress/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.progress.Put(context.Background(), model.Progress{TaskID: "t1", Status: model.TaskStatusProcessing, Percent: 25}))
	rec = f.do(t, http.MethodDelete, "/api/progress/t1", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/progress/t1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummaries_SignedInOnly(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/summaries", nil, anonHeaders)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	headers := map[string]string{"Authorization": "Bearer " + token(t, "user-1", "free")}
	rec = f.do(t, http.MethodPost, "/api/summarize", summarizeRequest{URL: video}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/summaries", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]model.Summary](t, rec)
	require.Len(t, list["summaries"], 1)
	assert.Equal(t, video, list["summaries"][0].SourceID)

	rec = f.do(t, http.MethodDelete, "/api/summaries/"+video, nil, headers)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/summaries/"+video, nil, headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Deleting the summary does not refund the slot.
	rec = f.do(t, http.MethodGet, "/api/usage", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[usageResponse](t, rec)
	assert.Equal(t, 1, usage.Used)
	assert.Equal(t, model.IdentityFree, usage.Kind)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/summarize", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorrelation_FallsBackToRequestID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil, map[string]string{"X-Request-ID": "req-7"})
	assert.Equal(t, "req-7", rec.Header().Get(CorrelationHeader))

	rec = f.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(model.Validation("x", nil)))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(model.QuotaExceeded("x", "y")))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(model.TranscriptUnavailable(nil)))
	assert.Equal(t, http.StatusBadGateway, statusFor(model.Summarization(nil)))
	assert.Equal(t, http.StatusUnauthorized, statusFor(identity.ErrInvalidToken))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
