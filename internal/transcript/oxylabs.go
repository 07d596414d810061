package transcript

import (
	"context"

	"github.com/sells-group/sightline/internal/cost"
	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/pkg/oxylabs"
)

// Oxylabs runs the watch page extraction through the Oxylabs realtime
// proxy, for when YouTube blocks direct requests from our network.
type Oxylabs struct {
	*WatchPage
	configured bool
}

// NewOxylabs creates the proxy-backed provider. It reports unavailable when
// no credentials are configured.
func NewOxylabs(client oxylabs.Client, configured bool, langs []string, costs *cost.Calculator) *Oxylabs {
	query := func(ctx context.Context, q oxylabs.Query) ([]byte, error) {
		res, err := client.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		if costs != nil {
			cost.Log("oxylabs", q.Source, "transcript", cost.Usage{}, costs.Oxylabs(1))
		}
		return []byte(res.Content), nil
	}
	page := func(ctx context.Context, sourceID string) ([]byte, error) {
		return query(ctx, oxylabs.Query{Source: "universal", URL: model.WatchURL(sourceID), Render: "html"})
	}
	get := func(ctx context.Context, rawURL string) ([]byte, error) {
		return query(ctx, oxylabs.Query{Source: "universal", URL: rawURL})
	}
	return &Oxylabs{WatchPage: newWatchPage("oxylabs", page, get, langs), configured: configured}
}

// Available implements Availability.
func (p *Oxylabs) Available() bool { return p.configured }
