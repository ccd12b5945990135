package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/newswire/internal/db"
	"github.com/sells-group/newswire/internal/model"
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

var queries = map[string]string{
	"insert_record": `INSERT INTO novelty_records (exact_key, embedding, first_seen_at, source_id) VALUES ($1, $2, $3, $4) ON CONFLICT (exact_key) DO NOTHING`,
	"list_records":  `SELECT exact_key, embedding, first_seen_at, source_id FROM novelty_records ORDER BY first_seen_at, id`,
}

var recordsInsert = db.InsertConfig{
	Table:        "novelty_records",
	Columns:      []string{"exact_key", "embedding", "first_seen_at", "source_id"},
	ConflictKeys: []string{"exact_key"},
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS novelty_records (
	id            BIGSERIAL PRIMARY KEY,
	exact_key     TEXT NOT NULL UNIQUE,
	embedding     REAL[],
	first_seen_at TIMESTAMPTZ NOT NULL,
	source_id     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_novelty_records_first_seen ON novelty_records(first_seen_at);
CREATE INDEX IF NOT EXISTS idx_novelty_records_source ON novelty_records(source_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InsertRecord(ctx context.Context, rec model.NoveltyRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, queries["insert_record"],
		rec.ExactKey, embeddingArg(rec.Embedding), rec.FirstSeenAt.UTC(), rec.SourceID)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert record %s", rec.ExactKey)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) InsertRecords(ctx context.Context, recs []model.NoveltyRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []any{rec.ExactKey, embeddingArg(rec.Embedding), rec.FirstSeenAt.UTC(), rec.SourceID})
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, recordsInsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert records")
	}
	return n, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context) ([]model.NoveltyRecord, error) {
	rows, err := s.pool.Query(ctx, queries["list_records"])
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.NoveltyRecord
	for rows.Next() {
		var rec model.NoveltyRecord
		if err := rows.Scan(&rec.ExactKey, &rec.Embedding, &rec.FirstSeenAt, &rec.SourceID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT source_id, COUNT(*) FROM novelty_records GROUP BY source_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by source")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[source] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate counts")
}

func (s *PostgresStore) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM novelty_records WHERE first_seen_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete records")
	}
	return tag.RowsAffected(), nil
}

// embeddingArg maps an empty vector to SQL NULL.
func embeddingArg(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return vec
}
