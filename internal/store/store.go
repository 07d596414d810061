package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/quota"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = eris.New("store: not found")

// SummaryFilter pages through an identity's summaries.
type SummaryFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the durable persistence interface: summaries, the usage
// ledger and (optionally) progress records.
type Store interface {
	// Summaries
	UpsertSummary(ctx context.Context, s *model.Summary) (*model.Summary, error)
	GetSummary(ctx context.Context, identityKey, sourceID string) (*model.Summary, error)
	DeleteSummary(ctx context.Context, identityKey, sourceID string) error
	ListSummaries(ctx context.Context, identityKey string, filter SummaryFilter) ([]model.Summary, error)

	// Usage ledger
	quota.Ledger
	quota.HoldSweeper
	ListUsageEvents(ctx context.Context, identityKey string) ([]model.UsageEvent, error)

	// Progress
	progress.Repository

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func listLimit(f SummaryFilter) int {
	if f.Limit <= 0 || f.Limit > 500 {
		return defaultListLimit
	}
	return f.Limit
}

// holdOrigin returns the origin to match, or "" when origin matching is off.
func holdOrigin(req model.HoldRequest) string {
	if req.MatchOrigin {
		return req.Hold.Origin
	}
	return ""
}

func newSummary(s *model.Summary, now time.Time) model.Summary {
	out := *s
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out
}
