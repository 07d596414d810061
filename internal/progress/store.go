// Package progress stores per-task progress records with a TTL and drives
// the stage sequence a job reports while it runs.
package progress

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/model"
)

// DefaultTTL is how long a progress record survives its last write.
const DefaultTTL = 4 * time.Hour

// ErrNotFound is returned for unknown or expired task ids.
var ErrNotFound = eris.New("progress: not found")

// Store holds progress records. Put replaces the whole record and resets
// its expiry; readers never observe a partially written record.
type Store interface {
	Put(ctx context.Context, p model.Progress) error
	Get(ctx context.Context, taskID string) (*model.Progress, error)
	Delete(ctx context.Context, taskID string) error
}

// Sweeper is implemented by stores that need expired records purged
// explicitly.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

func stamp(p *model.Progress, now time.Time, ttl time.Duration) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.ExpiresAt = now.Add(ttl)
}
