package coordinator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/pkg/youtube"
)

// Data API defaults. A videos.list call with snippet, contentDetails and
// statistics costs 1 base unit plus 2 per part.
const (
	DefaultDailyUnits     = 10000
	DataAPIUnitsPerLookup = 7
	DefaultMetadataTTL    = 24 * time.Hour
	defaultLookupTimeout  = 15 * time.Second
	maxCachedMetadata     = 10000
)

// MetadataSource looks up descriptive fields for a video.
type MetadataSource interface {
	Lookup(ctx context.Context, sourceID string) (*model.VideoMetadata, error)
}

// MetadataOption configures a YouTubeMetadata.
type MetadataOption func(*YouTubeMetadata)

// WithDailyUnits caps Data API spend per day in loc. Once the budget is
// spent lookups go straight to oEmbed until the day rolls over.
func WithDailyUnits(units int, loc *time.Location) MetadataOption {
	return func(m *YouTubeMetadata) {
		m.budget.limit = units
		if loc != nil {
			m.budget.loc = loc
		}
	}
}

// WithMetadataTTL sets how long successful lookups are cached. Zero
// disables the cache.
func WithMetadataTTL(d time.Duration) MetadataOption {
	return func(m *YouTubeMetadata) { m.ttl = d }
}

// WithLookupTimeout bounds one shared lookup.
func WithLookupTimeout(d time.Duration) MetadataOption {
	return func(m *YouTubeMetadata) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// YouTubeMetadata reads the Data API when a key is configured and budget
// remains, and falls back to oEmbed. Results are cached and concurrent
// lookups of the same id share one request.
type YouTubeMetadata struct {
	client  youtube.Client
	group   singleflight.Group
	timeout time.Duration
	ttl     time.Duration
	budget  *unitBudget

	mu    sync.Mutex
	cache map[string]cachedMetadata

	nowFunc func() time.Time
}

type cachedMetadata struct {
	meta      model.VideoMetadata
	expiresAt time.Time
}

// NewYouTubeMetadata creates a YouTubeMetadata over client.
func NewYouTubeMetadata(client youtube.Client, opts ...MetadataOption) *YouTubeMetadata {
	m := &YouTubeMetadata{
		client:  client,
		timeout: defaultLookupTimeout,
		ttl:     DefaultMetadataTTL,
		budget:  &unitBudget{limit: DefaultDailyUnits, loc: time.UTC},
		cache:   make(map[string]cachedMetadata),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.budget.nowFunc = func() time.Time { return m.nowFunc() }
	return m
}

// Lookup implements MetadataSource. The shared request runs detached from
// any one caller, so a cancelled caller only stops its own wait.
func (m *YouTubeMetadata) Lookup(ctx context.Context, sourceID string) (*model.VideoMetadata, error) {
	if meta, ok := m.cached(sourceID); ok {
		return meta, nil
	}

	flight := context.WithoutCancel(ctx)
	ch := m.group.DoChan(sourceID, func() (any, error) {
		lctx, cancel := context.WithTimeout(flight, m.timeout)
		defer cancel()
		meta, err := m.lookup(lctx, sourceID)
		if err != nil {
			return nil, err
		}
		m.store(sourceID, meta)
		return meta, nil
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "coordinator: metadata lookup")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		meta := *res.Val.(*model.VideoMetadata)
		return &meta, nil
	}
}

// DataAPIUnitsUsed returns the Data API units spent in the current day.
func (m *YouTubeMetadata) DataAPIUnitsUsed() int {
	return m.budget.used()
}

func (m *YouTubeMetadata) lookup(ctx context.Context, sourceID string) (*model.VideoMetadata, error) {
	if m.budget.take(DataAPIUnitsPerLookup) {
		video, err := m.client.Video(ctx, sourceID)
		if err == nil {
			return fromVideo(video), nil
		}
		zap.L().Debug("coordinator: data api lookup failed, trying oembed",
			zap.String("source_id", sourceID),
			zap.Error(err),
		)
	} else {
		zap.L().Warn("coordinator: data api daily budget spent, using oembed",
			zap.String("source_id", sourceID),
			zap.Int("limit", m.budget.limit),
		)
	}

	oe, oerr := m.client.OEmbed(ctx, sourceID)
	if oerr != nil {
		return nil, eris.Wrapf(oerr, "coordinator: metadata for %s", sourceID)
	}
	return &model.VideoMetadata{
		ID:           sourceID,
		Title:        oe.Title,
		Channel:      oe.AuthorName,
		ThumbnailURL: oe.ThumbnailURL,
	}, nil
}

func (m *YouTubeMetadata) cached(sourceID string) (*model.VideoMetadata, bool) {
	if m.ttl <= 0 {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache[sourceID]
	if !ok {
		return nil, false
	}
	if !m.nowFunc().Before(c.expiresAt) {
		delete(m.cache, sourceID)
		return nil, false
	}
	meta := c.meta
	return &meta, true
}

func (m *YouTubeMetadata) store(sourceID string, meta *model.VideoMetadata) {
	if m.ttl <= 0 {
		return
	}
	now := m.nowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cache) >= maxCachedMetadata {
		for id, c := range m.cache {
			if !now.Before(c.expiresAt) {
				delete(m.cache, id)
			}
		}
		// Still full: drop an arbitrary entry.
		for id := range m.cache {
			if len(m.cache) < maxCachedMetadata {
				break
			}
			delete(m.cache, id)
		}
	}
	m.cache[sourceID] = cachedMetadata{meta: *meta, expiresAt: now.Add(m.ttl)}
}

// unitBudget counts Data API units per calendar day in loc. Units are
// charged before the call since YouTube bills failed requests too.
type unitBudget struct {
	mu      sync.Mutex
	limit   int
	loc     *time.Location
	day     string
	spent   int
	nowFunc func() time.Time
}

func (b *unitBudget) take(units int) bool {
	if b.limit <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	if b.spent+units > b.limit {
		return false
	}
	before := b.spent
	b.spent += units
	if before*10 < b.limit*9 && b.spent*10 >= b.limit*9 {
		zap.L().Warn("coordinator: data api budget nearly spent",
			zap.Int("used", b.spent),
			zap.Int("limit", b.limit),
		)
	}
	return true
}

func (b *unitBudget) used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.spent
}

func (b *unitBudget) rollLocked() {
	day := b.nowFunc().In(b.loc).Format(time.DateOnly)
	if day != b.day {
		b.day = day
		b.spent = 0
	}
}

func fromVideo(v *youtube.Video) *model.VideoMetadata {
	meta := &model.VideoMetadata{
		ID:          v.ID,
		Title:       v.Snippet.Title,
		Channel:     v.Snippet.ChannelTitle,
		ChannelID:   v.Snippet.ChannelID,
		PublishedAt: v.Snippet.PublishedAt,
	}
	if d, err := youtube.ParseDuration(v.ContentDetails.Duration); err == nil {
		meta.Duration = d
	}
	if n, err := strconv.ParseInt(v.Statistics.ViewCount, 10, 64); err == nil {
		meta.ViewCount = n
	}
	meta.ThumbnailURL = v.Snippet.Thumbnails.High.URL
	if meta.ThumbnailURL == "" {
		meta.ThumbnailURL = v.Snippet.Thumbnails.Default.URL
	}
	return meta
}
