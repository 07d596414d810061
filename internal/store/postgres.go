package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/db"
	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/quota"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS summaries (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	identity_key TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	artifact     JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (identity_key, source_id)
);

CREATE TABLE IF NOT EXISTS usage_events (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	identity_key  TEXT NOT NULL,
	identity_kind TEXT NOT NULL,
	origin        TEXT NOT NULL DEFAULT '',
	source_id     TEXT NOT NULL,
	task_id       TEXT NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_holds (
	id           TEXT PRIMARY KEY,
	identity_key TEXT NOT NULL,
	origin       TEXT NOT NULL DEFAULT '',
	source_id    TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS progress (
	task_id    TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_summaries_identity ON summaries(identity_key, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_usage_events_identity ON usage_events(identity_key, occurred_at);
CREATE INDEX IF NOT EXISTS idx_usage_events_origin ON usage_events(origin) WHERE origin <> '';
CREATE INDEX IF NOT EXISTS idx_usage_holds_identity ON usage_holds(identity_key);
CREATE INDEX IF NOT EXISTS idx_usage_holds_expires ON usage_holds(expires_at);
CREATE INDEX IF NOT EXISTS idx_progress_expires ON progress(expires_at);

CREATE OR REPLACE FUNCTION usage_events_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'usage_events is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS usage_events_append_only ON usage_events;
CREATE TRIGGER usage_events_append_only BEFORE UPDATE OR DELETE ON usage_events
	FOR EACH ROW EXECUTE FUNCTION usage_events_append_only();
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Summaries ---

var pgSummaryUpsert = mustUpsert(db.UpsertConfig{
	Table:        "summaries",
	Columns:      []string{"id", "identity_key", "source_id", "artifact", "created_at", "updated_at"},
	ConflictKeys: []string{"identity_key", "source_id"},
	UpdateCols:   []string{"artifact", "updated_at"},
	Returning:    []string{"id", "created_at"},
}, db.Postgres)

func (s *PostgresStore) UpsertSummary(ctx context.Context, in *model.Summary) (*model.Summary, error) {
	sum := newSummary(in, time.Now().UTC())
	artifact, err := json.Marshal(sum.Artifact)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal artifact")
	}

	err = s.pool.QueryRow(ctx, pgSummaryUpsert,
		sum.ID, sum.IdentityKey, sum.SourceID, artifact, sum.CreatedAt, sum.UpdatedAt,
	).Scan(&sum.ID, &sum.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert summary %s", sum.SourceID)
	}
	return &sum, nil
}

func (s *PostgresStore) GetSummary(ctx context.Context, identityKey, sourceID string) (*model.Summary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, identity_key, source_id, artifact, created_at, updated_at
		FROM summaries WHERE identity_key = $1 AND source_id = $2`,
		identityKey, sourceID,
	)
	sum, err := scanPgSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get summary %s", sourceID)
	}
	return sum, nil
}

func (s *PostgresStore) DeleteSummary(ctx context.Context, identityKey, sourceID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM summaries WHERE identity_key = $1 AND source_id = $2`,
		identityKey, sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete summary %s", sourceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "summary %s", sourceID)
	}
	return nil
}

func (s *PostgresStore) ListSummaries(ctx context.Context, identityKey string, filter SummaryFilter) ([]model.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, identity_key, source_id, artifact, created_at, updated_at
		FROM summaries WHERE identity_key = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		identityKey, listLimit(filter), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list summaries")
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		sum, err := scanPgSummary(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		out = append(out, *sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate summaries")
}

// --- Usage ledger ---

const pgCountUsage = `SELECT
	(SELECT COUNT(*) FROM usage_events
		WHERE (identity_key = $1 OR ($2 <> '' AND origin = $2))
		AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		AND ($4::timestamptz IS NULL OR occurred_at < $4))
	+ (SELECT COUNT(*) FROM usage_holds
		WHERE (identity_key = $1 OR ($2 <> '' AND origin = $2))
		AND expires_at > $5)`

// Hold implements quota.Ledger. A transaction-scoped advisory lock on the
// identity key (and the origin, when matched) serializes concurrent holds
// for the same caller.
func (s *PostgresStore) Hold(ctx context.Context, req model.HoldRequest) (int, error) {
	used := 0
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "quota:"+req.Hold.IdentityKey); err != nil {
			return err
		}
		origin := holdOrigin(req)
		if origin != "" {
			if err := db.AdvisoryXactLock(ctx, tx, "quota-origin:"+origin); err != nil {
				return err
			}
		}

		if req.Limit >= 0 {
			start, end := windowBounds(req.Window)
			var n int64
			if err := tx.QueryRow(ctx, pgCountUsage,
				req.Hold.IdentityKey, origin, start, end, req.Hold.CreatedAt,
			).Scan(&n); err != nil {
				return eris.Wrap(err, "postgres: count usage")
			}
			used = int(n)
			if used >= req.Limit {
				return quota.ErrLimitReached
			}
		}

		h := req.Hold
		if _, err := tx.Exec(ctx,
			`INSERT INTO usage_holds (id, identity_key, origin, source_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			h.ID, h.IdentityKey, h.Origin, h.SourceID, h.CreatedAt, h.ExpiresAt,
		); err != nil {
			return eris.Wrap(err, "postgres: insert hold")
		}
		return nil
	})
	return used, err
}

// Commit implements quota.Ledger.
func (s *PostgresStore) Commit(ctx context.Context, holdID string, ev model.UsageEvent) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO usage_events (id, identity_key, identity_kind, origin, source_id, task_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.ID, ev.IdentityKey, string(ev.IdentityKind), ev.Origin, ev.SourceID, ev.TaskID, ev.OccurredAt,
		); err != nil {
			return eris.Wrap(err, "postgres: insert usage event")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM usage_holds WHERE id = $1`, holdID); err != nil {
			return eris.Wrapf(err, "postgres: delete hold %s", holdID)
		}
		return nil
	})
}

// Release implements quota.Ledger.
func (s *PostgresStore) Release(ctx context.Context, holdID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM usage_holds WHERE id = $1`, holdID)
	return eris.Wrapf(err, "postgres: release hold %s", holdID)
}

// Count implements quota.Ledger.
func (s *PostgresStore) Count(ctx context.Context, identityKey string, w model.Window) (int, error) {
	start, end := windowBounds(w)
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE identity_key = $1
		AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		AND ($3::timestamptz IS NULL OR occurred_at < $3)`,
		identityKey, start, end,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count usage events")
	}
	return int(n), nil
}

// DeleteExpiredHolds implements quota.HoldSweeper.
func (s *PostgresStore) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM usage_holds WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired holds")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListUsageEvents(ctx context.Context, identityKey string) ([]model.UsageEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, identity_key, identity_kind, origin, source_id, task_id, occurred_at
		FROM usage_events WHERE identity_key = $1 ORDER BY occurred_at`,
		identityKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage events")
	}
	defer rows.Close()

	var out []model.UsageEvent
	for rows.Next() {
		var ev model.UsageEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.IdentityKey, &kind, &ev.Origin, &ev.SourceID, &ev.TaskID, &ev.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage event")
		}
		ev.IdentityKind = model.IdentityKind(kind)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate usage events")
}

// --- Progress ---

var pgProgressUpsert = mustUpsert(db.UpsertConfig{
	Table:        "progress",
	Columns:      []string{"task_id", "record", "expires_at"},
	ConflictKeys: []string{"task_id"},
}, db.Postgres)

func (s *PostgresStore) PutProgress(ctx context.Context, p model.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress")
	}
	_, err = s.pool.Exec(ctx, pgProgressUpsert, p.TaskID, data, p.ExpiresAt)
	return eris.Wrapf(err, "postgres: put progress %s", p.TaskID)
}

func (s *PostgresStore) GetProgress(ctx context.Context, taskID string, now time.Time) (*model.Progress, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM progress WHERE task_id = $1 AND expires_at > $2`,
		taskID, now,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get progress %s", taskID)
	}
	var p model.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal progress")
	}
	return &p, nil
}

func (s *PostgresStore) DeleteProgress(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM progress WHERE task_id = $1`, taskID)
	return eris.Wrapf(err, "postgres: delete progress %s", taskID)
}

func (s *PostgresStore) DeleteExpiredProgress(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM progress WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired progress")
	}
	return tag.RowsAffected(), nil
}

// windowBounds returns nil bounds for a lifetime window.
func windowBounds(w model.Window) (any, any) {
	if w.Lifetime() {
		return nil, nil
	}
	return w.Start, w.End
}

func scanPgSummary(row scannable) (*model.Summary, error) {
	var sum model.Summary
	var artifact []byte
	if err := row.Scan(&sum.ID, &sum.IdentityKey, &sum.SourceID, &artifact, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(artifact, &sum.Artifact); err != nil {
		return nil, eris.Wrap(err, "unmarshal artifact")
	}
	return &sum, nil
}
