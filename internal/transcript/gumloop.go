package transcript

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/pkg/gumloop"
)

// Gumloop starts a saved Gumloop flow with the video link and waits for
// its transcript output.
type Gumloop struct {
	client   gumloop.Client
	flowID   string
	interval time.Duration
}

// NewGumloop creates the Gumloop provider. An empty flowID makes it
// unavailable.
func NewGumloop(client gumloop.Client, flowID string) *Gumloop {
	return &Gumloop{client: client, flowID: flowID, interval: 2 * time.Second}
}

// Name implements Provider.
func (p *Gumloop) Name() string { return "gumloop" }

// Available implements Availability.
func (p *Gumloop) Available() bool { return p.client != nil && p.flowID != "" }

// Fetch implements Provider. The run is polled until the chain's
// per-provider deadline.
func (p *Gumloop) Fetch(ctx context.Context, sourceID string) (string, error) {
	start, err := p.client.StartPipeline(ctx, p.flowID, map[string]string{"link": model.WatchURL(sourceID)})
	if err != nil {
		return "", eris.Wrap(err, "gumloop: start flow")
	}

	run, err := gumloop.PollRun(ctx, p.client, start.RunID,
		gumloop.WithPollInterval(p.interval),
		gumloop.WithPollCap(4*p.interval),
	)
	if err != nil {
		return "", eris.Wrap(err, "gumloop: wait for run")
	}

	text := run.Text()
	if text == "" {
		return "", eris.Wrapf(ErrNoTranscript, "gumloop: run %s produced no output", start.RunID)
	}
	return text, nil
}
