package transcript

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/pkg/youtube"
)

// TimedText reads captions straight from YouTube's timedtext endpoint.
type TimedText struct {
	client youtube.Client
	langs  []string
}

// NewTimedText creates the timedtext provider.
func NewTimedText(client youtube.Client, langs []string) *TimedText {
	if len(langs) == 0 {
		langs = []string{"en", "en-US"}
	}
	return &TimedText{client: client, langs: langs}
}

// Name implements Provider.
func (p *TimedText) Name() string { return "timedtext" }

// Fetch implements Provider. json3 is tried before srv1 for each language.
func (p *TimedText) Fetch(ctx context.Context, sourceID string) (string, error) {
	var lastErr error
	for _, lang := range p.langs {
		for _, format := range []string{"json3", "srv1"} {
			body, err := p.client.TimedText(ctx, sourceID, lang, format)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				lastErr = err
				continue
			}
			text, err := youtube.ParseCaptions(body)
			if err != nil {
				lastErr = err
				continue
			}
			return text, nil
		}
	}
	if lastErr == nil || errors.Is(lastErr, youtube.ErrNotFound) || errors.Is(lastErr, youtube.ErrNoCaptions) {
		return "", eris.Wrapf(ErrNoTranscript, "timedtext: %s", sourceID)
	}
	return "", eris.Wrap(lastErr, "timedtext: fetch captions")
}

// PageFetcher returns the HTML of a video's watch page.
type PageFetcher func(ctx context.Context, sourceID string) ([]byte, error)

// URLFetcher returns the body at a caption track URL.
type URLFetcher func(ctx context.Context, rawURL string) ([]byte, error)

// WatchPage extracts the caption track list embedded in the watch page and
// downloads the preferred track. The page and track fetchers are swappable
// so the same extraction can run through a scraping proxy.
type WatchPage struct {
	name      string
	fetchPage PageFetcher
	fetchURL  URLFetcher
	langs     []string
}

// NewWatchPage creates the direct watch page provider.
func NewWatchPage(client youtube.Client, langs []string) *WatchPage {
	return newWatchPage("watchpage", client.WatchPage, client.Get, langs)
}

func newWatchPage(name string, page PageFetcher, get URLFetcher, langs []string) *WatchPage {
	if len(langs) == 0 {
		langs = []string{"en", "en-US"}
	}
	return &WatchPage{name: name, fetchPage: page, fetchURL: get, langs: langs}
}

// Name implements Provider.
func (p *WatchPage) Name() string { return p.name }

// Fetch implements Provider.
func (p *WatchPage) Fetch(ctx context.Context, sourceID string) (string, error) {
	html, err := p.fetchPage(ctx, sourceID)
	if err != nil {
		return "", eris.Wrapf(err, "%s: fetch page", p.name)
	}

	pr, err := youtube.ExtractPlayerResponse(html)
	if err != nil {
		return "", eris.Wrapf(err, "%s: extract player response", p.name)
	}
	if status := pr.PlayabilityStatus.Status; status != "" && status != "OK" {
		zap.L().Debug("transcript: video not playable",
			zap.String("provider", p.name),
			zap.String("status", status),
			zap.String("reason", pr.PlayabilityStatus.Reason),
		)
	}

	track, ok := youtube.PickTrack(pr.Tracks(), p.langs)
	if !ok {
		return "", eris.Wrapf(ErrNoTranscript, "%s: no matching caption track for %s", p.name, sourceID)
	}

	body, err := p.fetchURL(ctx, track.BaseURL)
	if err != nil {
		return "", eris.Wrapf(err, "%s: fetch caption track", p.name)
	}
	text, err := youtube.ParseCaptions(body)
	if err != nil {
		if errors.Is(err, youtube.ErrNoCaptions) {
			return "", eris.Wrapf(ErrNoTranscript, "%s: empty caption track", p.name)
		}
		return "", eris.Wrapf(err, "%s: parse caption track", p.name)
	}
	return text, nil
}
