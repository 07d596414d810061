package quota

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/model"
)

// ErrLimitReached is returned by Ledger.Hold when the identity has no slot
// left in the requested window.
var ErrLimitReached = eris.New("quota: limit reached")

// Ledger is the append-only usage ledger plus its pending holds.
//
// Hold must be atomic per identity: counting committed events in the window
// and live holds, then inserting the new hold, happens as one unit. It
// returns the count it observed. Commit appends exactly one UsageEvent and
// drops the hold. Release drops the hold and never touches events.
type Ledger interface {
	Hold(ctx context.Context, req model.HoldRequest) (int, error)
	Commit(ctx context.Context, holdID string, ev model.UsageEvent) error
	Release(ctx context.Context, holdID string) error
	Count(ctx context.Context, identityKey string, w model.Window) (int, error)
}

// HoldSweeper is implemented by ledgers that can purge expired holds.
type HoldSweeper interface {
	DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}
