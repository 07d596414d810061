package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sightline/internal/db"
	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/quota"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix milliseconds so window comparisons are numeric.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteParams makes every transaction BEGIN IMMEDIATE, which serializes
// ledger writers, and applies the pragmas on each pooled connection.
const sqliteParams = "_txlock=immediate" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=synchronous(NORMAL)"

// NewSQLite opens a SQLite database at the given path.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(path, "_txlock=") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + sqliteParams
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if strings.Contains(path, ":memory:") {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS summaries (
	id           TEXT PRIMARY KEY,
	identity_key TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	artifact     TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	UNIQUE (identity_key, source_id)
);

CREATE TABLE IF NOT EXISTS usage_events (
	id            TEXT PRIMARY KEY,
	identity_key  TEXT NOT NULL,
	identity_kind TEXT NOT NULL,
	origin        TEXT NOT NULL DEFAULT '',
	source_id     TEXT NOT NULL,
	task_id       TEXT NOT NULL,
	occurred_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_holds (
	id           TEXT PRIMARY KEY,
	identity_key TEXT NOT NULL,
	origin       TEXT NOT NULL DEFAULT '',
	source_id    TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS progress (
	task_id    TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_summaries_identity ON summaries(identity_key, updated_at);
CREATE INDEX IF NOT EXISTS idx_usage_events_identity ON usage_events(identity_key, occurred_at);
CREATE INDEX IF NOT EXISTS idx_usage_events_origin ON usage_events(origin);
CREATE INDEX IF NOT EXISTS idx_usage_holds_identity ON usage_holds(identity_key);
CREATE INDEX IF NOT EXISTS idx_usage_holds_expires ON usage_holds(expires_at);
CREATE INDEX IF NOT EXISTS idx_progress_expires ON progress(expires_at);

CREATE TRIGGER IF NOT EXISTS usage_events_no_update BEFORE UPDATE ON usage_events
BEGIN SELECT RAISE(ABORT, 'usage_events is append-only'); END;
CREATE TRIGGER IF NOT EXISTS usage_events_no_delete BEFORE DELETE ON usage_events
BEGIN SELECT RAISE(ABORT, 'usage_events is append-only'); END;
`

// Migrate creates tables, indexes and the append-only triggers.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Summaries ---

var summaryUpsert = mustUpsert(db.UpsertConfig{
	Table:        "summaries",
	Columns:      []string{"id", "identity_key", "source_id", "artifact", "created_at", "updated_at"},
	ConflictKeys: []string{"identity_key", "source_id"},
	UpdateCols:   []string{"artifact", "updated_at"},
	Returning:    []string{"id", "created_at"},
}, db.SQLite)

func (s *SQLiteStore) UpsertSummary(ctx context.Context, in *model.Summary) (*model.Summary, error) {
	sum := newSummary(in, time.Now().UTC())
	artifact, err := json.Marshal(sum.Artifact)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal artifact")
	}

	var createdAt int64
	err = s.db.QueryRowContext(ctx, summaryUpsert,
		sum.ID, sum.IdentityKey, sum.SourceID, string(artifact), ms(sum.CreatedAt), ms(sum.UpdatedAt),
	).Scan(&sum.ID, &createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert summary %s", sum.SourceID)
	}
	sum.CreatedAt = fromMS(createdAt)
	return &sum, nil
}

func (s *SQLiteStore) GetSummary(ctx context.Context, identityKey, sourceID string) (*model.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identity_key, source_id, artifact, created_at, updated_at
		FROM summaries WHERE identity_key = ?1 AND source_id = ?2`,
		identityKey, sourceID,
	)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get summary %s", sourceID)
	}
	return sum, nil
}

func (s *SQLiteStore) DeleteSummary(ctx context.Context, identityKey, sourceID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM summaries WHERE identity_key = ?1 AND source_id = ?2`,
		identityKey, sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete summary %s", sourceID)
	}
	return checkRowsAffected(res, "summary", sourceID)
}

func (s *SQLiteStore) ListSummaries(ctx context.Context, identityKey string, filter SummaryFilter) ([]model.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity_key, source_id, artifact, created_at, updated_at
		FROM summaries WHERE identity_key = ?1
		ORDER BY updated_at DESC LIMIT ?2 OFFSET ?3`,
		identityKey, listLimit(filter), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list summaries")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		out = append(out, *sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate summaries")
}

// --- Usage ledger ---

// Hold implements quota.Ledger. The surrounding transaction starts with
// BEGIN IMMEDIATE, so concurrent holds are serialized by SQLite's write lock.
func (s *SQLiteStore) Hold(ctx context.Context, req model.HoldRequest) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin hold")
	}
	defer func() { _ = tx.Rollback() }()

	used := 0
	if req.Limit >= 0 {
		start, end := windowMS(req.Window)
		err := tx.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM usage_events
				WHERE (identity_key = ?1 OR (?2 <> '' AND origin = ?2))
				AND occurred_at >= ?3 AND occurred_at < ?4)
			+ (SELECT COUNT(*) FROM usage_holds
				WHERE (identity_key = ?1 OR (?2 <> '' AND origin = ?2))
				AND expires_at > ?5)`,
			req.Hold.IdentityKey, holdOrigin(req), start, end, ms(req.Hold.CreatedAt),
		).Scan(&used)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: count usage")
		}
		if used >= req.Limit {
			return used, quota.ErrLimitReached
		}
	}

	h := req.Hold
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_holds (id, identity_key, origin, source_id, created_at, expires_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6)`,
		h.ID, h.IdentityKey, h.Origin, h.SourceID, ms(h.CreatedAt), ms(h.ExpiresAt),
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert hold")
	}
	return used, eris.Wrap(tx.Commit(), "sqlite: commit hold")
}

// Commit implements quota.Ledger.
func (s *SQLiteStore) Commit(ctx context.Context, holdID string, ev model.UsageEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_events (id, identity_key, identity_kind, origin, source_id, task_id, occurred_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7)`,
		ev.ID, ev.IdentityKey, string(ev.IdentityKind), ev.Origin, ev.SourceID, ev.TaskID, ms(ev.OccurredAt),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert usage event")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM usage_holds WHERE id = ?1`, holdID); err != nil {
		return eris.Wrapf(err, "sqlite: delete hold %s", holdID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit usage event")
}

// Release implements quota.Ledger.
func (s *SQLiteStore) Release(ctx context.Context, holdID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM usage_holds WHERE id = ?1`, holdID)
	return eris.Wrapf(err, "sqlite: release hold %s", holdID)
}

// Count implements quota.Ledger.
func (s *SQLiteStore) Count(ctx context.Context, identityKey string, w model.Window) (int, error) {
	start, end := windowMS(w)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE identity_key = ?1 AND occurred_at >= ?2 AND occurred_at < ?3`,
		identityKey, start, end,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count usage events")
}

// DeleteExpiredHolds implements quota.HoldSweeper.
func (s *SQLiteStore) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_holds WHERE expires_at <= ?1`, ms(now))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired holds")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListUsageEvents(ctx context.Context, identityKey string) ([]model.UsageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity_key, identity_kind, origin, source_id, task_id, occurred_at
		FROM usage_events WHERE identity_key = ?1 ORDER BY occurred_at`,
		identityKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage events")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UsageEvent
	for rows.Next() {
		var ev model.UsageEvent
		var occurred int64
		if err := rows.Scan(&ev.ID, &ev.IdentityKey, &ev.IdentityKind, &ev.Origin, &ev.SourceID, &ev.TaskID, &occurred); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage event")
		}
		ev.OccurredAt = fromMS(occurred)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate usage events")
}

// --- Progress ---

var progressUpsert = mustUpsert(db.UpsertConfig{
	Table:        "progress",
	Columns:      []string{"task_id", "record", "expires_at"},
	ConflictKeys: []string{"task_id"},
}, db.SQLite)

func (s *SQLiteStore) PutProgress(ctx context.Context, p model.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}
	_, err = s.db.ExecContext(ctx, progressUpsert, p.TaskID, string(data), ms(p.ExpiresAt))
	return eris.Wrapf(err, "sqlite: put progress %s", p.TaskID)
}

func (s *SQLiteStore) GetProgress(ctx context.Context, taskID string, now time.Time) (*model.Progress, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM progress WHERE task_id = ?1 AND expires_at > ?2`,
		taskID, ms(now),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get progress %s", taskID)
	}
	var p model.Progress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal progress")
	}
	return &p, nil
}

func (s *SQLiteStore) DeleteProgress(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM progress WHERE task_id = ?1`, taskID)
	return eris.Wrapf(err, "sqlite: delete progress %s", taskID)
}

func (s *SQLiteStore) DeleteExpiredProgress(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM progress WHERE expires_at <= ?1`, ms(now))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired progress")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func mustUpsert(cfg db.UpsertConfig, d db.Dialect) string {
	stmt, err := db.UpsertSQL(cfg, d)
	if err != nil {
		panic(err)
	}
	return stmt
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

// windowMS converts a window to millisecond bounds. A lifetime window spans
// the whole int64 range.
func windowMS(w model.Window) (int64, int64) {
	if w.Lifetime() {
		return math.MinInt64, math.MaxInt64
	}
	return ms(w.Start), ms(w.End)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSummary(row scannable) (*model.Summary, error) {
	var sum model.Summary
	var artifact string
	var created, updated int64
	if err := row.Scan(&sum.ID, &sum.IdentityKey, &sum.SourceID, &artifact, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(artifact), &sum.Artifact); err != nil {
		return nil, eris.Wrap(err, "unmarshal artifact")
	}
	sum.CreatedAt = fromMS(created)
	sum.UpdatedAt = fromMS(updated)
	return &sum, nil
}
