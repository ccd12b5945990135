package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswire/internal/db"
	"github.com/sells-group/newswire/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS novelty_records`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO novelty_records .* ON CONFLICT \(exact_key\) DO NOTHING`).
		WithArgs("t:a", []float32{1, 0}, at, "bbc").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO novelty_records`).
		WithArgs("t:a", []float32{1, 0}, at, "bbc").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	rec := model.NoveltyRecord{ExactKey: "t:a", Embedding: []float32{1, 0}, FirstSeenAt: at, SourceID: "bbc"}
	ok, err := s.InsertRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, ok, "conflict is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRecordKeyOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO novelty_records`).
		WithArgs("u:x", nil, at, "bbc").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err := s.InsertRecord(context.Background(), model.NoveltyRecord{ExactKey: "u:x", FirstSeenAt: at, SourceID: "bbc"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRecordError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO novelty_records`).
		WillReturnError(errors.New("connection lost"))

	_, err := s.InsertRecord(context.Background(), model.NoveltyRecord{ExactKey: "t:a", FirstSeenAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert record t:a")
}

func TestPostgresStore_ListRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"exact_key", "embedding", "first_seen_at", "source_id"}).
		AddRow("t:a", []float32{1, 0}, at, "bbc").
		AddRow("t:b", []float32{0, 1}, at.Add(time.Minute), "reuters")
	mock.ExpectQuery(`SELECT exact_key, embedding, first_seen_at, source_id FROM novelty_records ORDER BY first_seen_at, id`).
		WillReturnRows(rows)

	recs, err := s.ListRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "t:a", recs[0].ExactKey)
	assert.Equal(t, []float32{0, 1}, recs[1].Embedding)
	assert.Equal(t, "reuters", recs[1].SourceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRecordsError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT exact_key`).WillReturnError(pgx.ErrTxClosed)

	_, err := s.ListRecords(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list records")
}

func TestPostgresStore_CountBySource(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT source_id, COUNT\(\*\) FROM novelty_records GROUP BY source_id`).
		WillReturnRows(pgxmock.NewRows([]string{"source_id", "count"}).
			AddRow("bbc", int64(4)).
			AddRow("reuters", int64(1)))

	counts, err := s.CountBySource(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"bbc": 4, "reuters": 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRecordsBefore(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM novelty_records WHERE first_seen_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := s.DeleteRecordsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{db.TempTableName("novelty_records")}, recordsInsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "novelty_records"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := s.InsertRecords(context.Background(), []model.NoveltyRecord{
		{ExactKey: "t:a", Embedding: []float32{1}, FirstSeenAt: at, SourceID: "legacy"},
		{ExactKey: "t:b", FirstSeenAt: at, SourceID: "legacy"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPostgresStore_CloseWithoutPool(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	assert.NoError(t, s.Close())
}
