package youtube

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimedText_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/timedtext", r.URL.Path)
		assert.Equal(t, "dQw4w9WgXcQ", r.URL.Query().Get("v"))
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		assert.Equal(t, "json3", r.URL.Query().Get("fmt"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"events":[{"segs":[{"utf8":"hello"}]}]}`))
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	body, err := c.TimedText(context.Background(), "dQw4w9WgXcQ", "en", "json3")
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello")
}

func TestTimedText_EmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.TimedText(context.Background(), "dQw4w9WgXcQ", "en", "json3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGet_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	body, err := c.Get(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.WatchPage(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestVideo_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "snippet,contentDetails,statistics", r.URL.Query().Get("part"))
		w.Write([]byte(`{"items":[{"id":"dQw4w9WgXcQ",
			"snippet":{"title":"Never Gonna","channelId":"UC1","channelTitle":"Rick","publishedAt":"2009-10-25T06:57:33Z",
				"thumbnails":{"high":{"url":"https://i.ytimg.com/hq.jpg"}}},
			"contentDetails":{"duration":"PT3M33S"},
			"statistics":{"viewCount":"1500000000"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithDataBaseURL(srv.URL))
	v, err := c.Video(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna", v.Snippet.Title)
	assert.Equal(t, "Rick", v.Snippet.ChannelTitle)
	assert.Equal(t, "PT3M33S", v.ContentDetails.Duration)
	assert.Equal(t, "1500000000", v.Statistics.ViewCount)
	assert.Equal(t, 2009, v.Snippet.PublishedAt.Year())
}

func TestVideo_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithDataBaseURL(srv.URL))
	_, err := c.Video(context.Background(), "missing0000")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestVideo_NoKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient("").Video(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key not configured")
}

func TestOEmbed_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oembed", r.URL.Path)
		assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", r.URL.Query().Get("url"))
		w.Write([]byte(`{"title":"Never Gonna","author_name":"Rick","thumbnail_url":"https://i.ytimg.com/hq.jpg"}`))
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	o, err := c.OEmbed(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna", o.Title)
	assert.Equal(t, "Rick", o.AuthorName)
}

func TestOEmbed_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.OEmbed(context.Background(), "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, ErrNotFound))
}
