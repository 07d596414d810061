// Package youtube provides a client for the public YouTube endpoints used to
// acquire captions and video metadata.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when YouTube reports no such video or captions.
var ErrNotFound = eris.New("youtube: not found")

// Client defines the YouTube operations used for transcripts and metadata.
type Client interface {
	// TimedText fetches the caption payload for a video in the given
	// language and format ("json3" or "srv1").
	TimedText(ctx context.Context, videoID, lang, format string) ([]byte, error)
	// WatchPage fetches the HTML of the video's watch page.
	WatchPage(ctx context.Context, videoID string) ([]byte, error)
	// Get fetches an arbitrary YouTube URL such as a caption track baseUrl.
	Get(ctx context.Context, rawURL string) ([]byte, error)
	// Video looks up metadata via the Data API.
	Video(ctx context.Context, videoID string) (*Video, error)
	// OEmbed looks up title and channel via the keyless oEmbed endpoint.
	OEmbed(ctx context.Context, videoID string) (*OEmbed, error)
}

// Video is the subset of a Data API videos resource we read.
type Video struct {
	ID             string         `json:"id"`
	Snippet        Snippet        `json:"snippet"`
	ContentDetails ContentDetails `json:"contentDetails"`
	Statistics     Statistics     `json:"statistics"`
}

// Snippet holds descriptive video fields.
type Snippet struct {
	Title        string     `json:"title"`
	ChannelID    string     `json:"channelId"`
	ChannelTitle string     `json:"channelTitle"`
	PublishedAt  time.Time  `json:"publishedAt"`
	Thumbnails   Thumbnails `json:"thumbnails"`
}

// Thumbnails lists the thumbnail sizes we care about.
type Thumbnails struct {
	High    Thumbnail `json:"high"`
	Default Thumbnail `json:"default"`
}

// Thumbnail is a single image reference.
type Thumbnail struct {
	URL string `json:"url"`
}

// ContentDetails carries the ISO 8601 duration.
type ContentDetails struct {
	Duration string `json:"duration"`
}

// Statistics carries view counts. The API encodes counts as strings.
type Statistics struct {
	ViewCount string `json:"viewCount"`
}

type videoListResponse struct {
	Items []Video `json:"items"`
}

// OEmbed is the oEmbed response for a watch URL.
type OEmbed struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Option configures the YouTube client.
type Option func(*httpClient)

// WithBaseURL sets the www.youtube.com base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithDataBaseURL sets the Data API base URL (for testing).
func WithDataBaseURL(u string) Option {
	return func(c *httpClient) {
		c.dataBaseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent overrides the browser user agent sent with page requests.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type httpClient struct {
	apiKey      string
	baseURL     string
	dataBaseURL string
	userAgent   string
	http        *http.Client
}

// NewClient creates a YouTube client. apiKey is only needed for Video.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     "https://www.youtube.com",
		dataBaseURL: "https://www.googleapis.com/youtube/v3",
		userAgent:   defaultUserAgent,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("youtube: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (c *httpClient) get(ctx context.Context, reqURL string, browser bool) ([]byte, error) {
	const maxAttempts = 3
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "youtube: create request")
		}
		if browser {
			req.Header.Set("User-Agent", c.userAgent)
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		}

		body, err := c.do(req)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var se *StatusError
		if errors.Is(err, ErrNotFound) || (errors.As(err, &se) && !se.Retryable()) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "youtube: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, eris.Wrap(err, "youtube: read response body")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

func (c *httpClient) TimedText(ctx context.Context, videoID, lang, format string) ([]byte, error) {
	q := url.Values{}
	q.Set("v", videoID)
	q.Set("lang", lang)
	if format != "" {
		q.Set("fmt", format)
	}
	body, err := c.get(ctx, c.baseURL+"/api/timedtext?"+q.Encode(), true)
	if err != nil {
		return nil, eris.Wrapf(err, "youtube: timedtext %s/%s", videoID, lang)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "youtube: timedtext %s/%s empty", videoID, lang)
	}
	return body, nil
}

func (c *httpClient) WatchPage(ctx context.Context, videoID string) ([]byte, error) {
	q := url.Values{}
	q.Set("v", videoID)
	q.Set("hl", "en")
	body, err := c.get(ctx, c.baseURL+"/watch?"+q.Encode(), true)
	if err != nil {
		return nil, eris.Wrapf(err, "youtube: watch page %s", videoID)
	}
	return body, nil
}

func (c *httpClient) Get(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := c.get(ctx, rawURL, true)
	if err != nil {
		return nil, eris.Wrap(err, "youtube: get")
	}
	return body, nil
}

func (c *httpClient) Video(ctx context.Context, videoID string) (*Video, error) {
	if c.apiKey == "" {
		return nil, eris.New("youtube: data api key not configured")
	}
	q := url.Values{}
	q.Set("id", videoID)
	q.Set("part", "snippet,contentDetails,statistics")
	q.Set("key", c.apiKey)

	body, err := c.get(ctx, c.dataBaseURL+"/videos?"+q.Encode(), false)
	if err != nil {
		return nil, eris.Wrapf(err, "youtube: videos.list %s", videoID)
	}

	var resp videoListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "youtube: unmarshal videos.list")
	}
	if len(resp.Items) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "youtube: video %s", videoID)
	}
	return &resp.Items[0], nil
}

func (c *httpClient) OEmbed(ctx context.Context, videoID string) (*OEmbed, error) {
	q := url.Values{}
	q.Set("url", "https://www.youtube.com/watch?v="+videoID)
	q.Set("format", "json")

	body, err := c.get(ctx, c.baseURL+"/oembed?"+q.Encode(), false)
	if err != nil {
		return nil, eris.Wrapf(err, "youtube: oembed %s", videoID)
	}

	var out OEmbed
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "youtube: unmarshal oembed")
	}
	return &out, nil
}
