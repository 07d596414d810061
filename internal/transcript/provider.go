// Package transcript acquires video transcripts through an ordered chain of
// providers.
package transcript

import (
	"context"

	"github.com/rotisserie/eris"
)

// Provider fetches a transcript for one source from one external service.
type Provider interface {
	// Name returns a stable identifier used in logs and results.
	Name() string
	// Fetch returns the raw transcript text for sourceID.
	Fetch(ctx context.Context, sourceID string) (string, error)
}

// Availability is implemented by providers that can be switched off, for
// example when credentials are missing or a breaker is open.
type Availability interface {
	Available() bool
}

// ErrNoTranscript is returned by a provider that reached the service but
// found no captions for the source.
var ErrNoTranscript = eris.New("transcript: no captions for source")

// ErrUnavailable is returned for a provider that was skipped.
var ErrUnavailable = eris.New("transcript: provider unavailable")

func available(p Provider) bool {
	if a, ok := p.(Availability); ok {
		return a.Available()
	}
	return true
}
