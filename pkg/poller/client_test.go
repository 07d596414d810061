package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Submit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/summarize", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("async"))
		assert.Equal(t, "fp-1", r.Header.Get("X-Fingerprint"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var req SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://youtu.be/abc123abc12", req.URL)
		assert.Equal(t, "tmp-1", req.TaskID)

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"taskId":"task-1","provisionalId":"tmp-1"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithFingerprint("fp-1"))
	resp, err := c.Submit(context.Background(), SubmitRequest{URL: "https://youtu.be/abc123abc12", TaskID: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.Equal(t, "tmp-1", resp.ProvisionalID)
}

func TestClient_SubmitQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"You've used all 3 free summaries.","kind":"quota_exceeded","code":"upgrade_required"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithToken("tok")).Submit(context.Background(), SubmitRequest{URL: "x"})
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "upgrade_required", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "upgrade_required")
}

func TestClient_GetProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/progress/task-1":
			w.Write([]byte(`{"taskId":"task-1","status":"processing","stage":"Summarizing","percent":60}`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"task not found"}`)) //nolint:errcheck
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	p, err := c.GetProgress(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, 60, p.Percent)
	assert.Equal(t, "Summarizing", p.Stage)
	assert.False(t, p.Terminal())

	_, err = c.GetProgress(context.Background(), "gone")
	assert.True(t, IsNotFound(err))
}

func TestClient_GetSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/summaries/abc123abc12", r.URL.Path)
		w.Write([]byte(`{"id":"s1","source_id":"abc123abc12","artifact":{"title":"T","content":"## TL;DR\nok","key_points":["a"]}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	sum, err := NewClient(srv.URL).GetSummary(context.Background(), "abc123abc12")
	require.NoError(t, err)
	assert.Equal(t, "T", sum.Artifact.Title)
	assert.Equal(t, []string{"a"}, sum.Artifact.KeyPoints)
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetProgress(context.Background(), "t")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}
