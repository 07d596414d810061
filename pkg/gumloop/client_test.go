package gumloop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPipeline_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/start_pipeline", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req startRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-1", req.UserID)
		assert.Equal(t, "flow-1", req.SavedItemID)
		require.Len(t, req.PipelineInputs, 1)
		assert.Equal(t, "link", req.PipelineInputs[0].InputName)

		w.Write([]byte(`{"run_id":"run-9","url":"https://gumloop.com/run/9"}`))
	}))
	defer srv.Close()

	c := NewClient("key", "user-1", WithBaseURL(srv.URL), WithRateLimit(0))
	resp, err := c.StartPipeline(context.Background(), "flow-1", map[string]string{"link": "https://youtu.be/abc"})
	require.NoError(t, err)
	assert.Equal(t, "run-9", resp.RunID)
}

func TestStartPipeline_MissingRunID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("key", "user-1", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := c.StartPipeline(context.Background(), "flow-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_id")
}

func TestGetRun_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_pl_run", r.URL.Path)
		assert.Equal(t, "run-9", r.URL.Query().Get("run_id"))
		assert.Equal(t, "user-1", r.URL.Query().Get("user_id"))
		w.Write([]byte(`{"run_id":"run-9","state":"DONE","outputs":{"transcript":"  the text  "}}`))
	}))
	defer srv.Close()

	c := NewClient("key", "user-1", WithBaseURL(srv.URL), WithRateLimit(0))
	run, err := c.GetRun(context.Background(), "run-9")
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.Equal(t, "the text", run.Text())
}

func TestGetRun_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("key", "user-1", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := c.GetRun(context.Background(), "run-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestRunText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", (&Run{}).Text())
	assert.Equal(t, "first", (&Run{Outputs: map[string]any{"output": []any{"first", "second"}}}).Text())
	assert.Equal(t, "t", (&Run{Outputs: map[string]any{"summary": "s", "transcript": "t"}}).Text())
	assert.Equal(t, "odd", (&Run{Outputs: map[string]any{"weird_key": "odd", "n": 3.0}}).Text())
}
