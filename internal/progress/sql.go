package progress

import (
	"context"
	"time"

	"github.com/sells-group/sightline/internal/model"
)

// Repository is the persistence surface a SQL-backed store needs.
type Repository interface {
	PutProgress(ctx context.Context, p model.Progress) error
	GetProgress(ctx context.Context, taskID string, now time.Time) (*model.Progress, error)
	DeleteProgress(ctx context.Context, taskID string) error
	DeleteExpiredProgress(ctx context.Context, now time.Time) (int64, error)
}

// SQLStore adapts a database repository to Store. The repository returns
// a nil record for missing or expired rows.
type SQLStore struct {
	repo Repository
	ttl  time.Duration

	nowFunc func() time.Time
}

// NewSQLStore creates a SQLStore.
func NewSQLStore(repo Repository, ttl time.Duration) *SQLStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLStore{repo: repo, ttl: ttl, nowFunc: time.Now}
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, p model.Progress) error {
	stamp(&p, s.nowFunc(), s.ttl)
	return s.repo.PutProgress(ctx, p)
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, taskID string) (*model.Progress, error) {
	p, err := s.repo.GetProgress(ctx, taskID, s.nowFunc())
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, taskID string) error {
	return s.repo.DeleteProgress(ctx, taskID)
}

// Sweep implements Sweeper.
func (s *SQLStore) Sweep(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredProgress(ctx, s.nowFunc())
	return int(n), err
}
