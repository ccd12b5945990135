package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/newswire/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path. synchronous=FULL makes
// a committed insert survive a crash immediately after it returns.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS novelty_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	exact_key     TEXT NOT NULL UNIQUE,
	embedding     BLOB,
	first_seen_at INTEGER NOT NULL,
	source_id     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_novelty_records_first_seen ON novelty_records(first_seen_at);
CREATE INDEX IF NOT EXISTS idx_novelty_records_source ON novelty_records(source_id);
`

const sqliteInsert = `INSERT INTO novelty_records (exact_key, embedding, first_seen_at, source_id)
	VALUES (?, ?, ?, ?) ON CONFLICT(exact_key) DO NOTHING`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertRecord(ctx context.Context, rec model.NoveltyRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqliteInsert,
		rec.ExactKey, encodeEmbedding(rec.Embedding), rec.FirstSeenAt.UnixNano(), rec.SourceID)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert record %s", rec.ExactKey)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertRecords(ctx context.Context, recs []model.NoveltyRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	var inserted int64
	for _, rec := range recs {
		res, err := stmt.ExecContext(ctx, rec.ExactKey, encodeEmbedding(rec.Embedding), rec.FirstSeenAt.UnixNano(), rec.SourceID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %s", rec.ExactKey)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context) ([]model.NoveltyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exact_key, embedding, first_seen_at, source_id FROM novelty_records ORDER BY first_seen_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.NoveltyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, COUNT(*) FROM novelty_records GROUP BY source_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by source")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[source] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate counts")
}

func (s *SQLiteStore) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM novelty_records WHERE first_seen_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (model.NoveltyRecord, error) {
	var rec model.NoveltyRecord
	var blob []byte
	var seen int64
	if err := row.Scan(&rec.ExactKey, &blob, &seen, &rec.SourceID); err != nil {
		return rec, eris.Wrap(err, "sqlite: scan record")
	}
	vec, err := decodeEmbedding(blob)
	if err != nil {
		return rec, eris.Wrapf(err, "sqlite: record %s", rec.ExactKey)
	}
	rec.Embedding = vec
	rec.FirstSeenAt = time.Unix(0, seen).UTC()
	return rec, nil
}
