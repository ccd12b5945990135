// Package store persists novelty records. It is the durable half of the
// novelty store; the in-memory index lives in package novelty.
package store

import (
	"context"
	"time"

	"github.com/sells-group/newswire/internal/model"
)

// Store defines the persistence interface for novelty records. Records are
// append-only; the only deletion path is an explicit retention trim.
type Store interface {
	// InsertRecord durably writes rec. It reports false, without error, when a
	// record with the same exact key already exists.
	InsertRecord(ctx context.Context, rec model.NoveltyRecord) (bool, error)
	// InsertRecords bulk-writes recs, skipping existing exact keys, and
	// returns how many were inserted.
	InsertRecords(ctx context.Context, recs []model.NoveltyRecord) (int64, error)
	// ListRecords returns every record, oldest first.
	ListRecords(ctx context.Context) ([]model.NoveltyRecord, error)
	// CountBySource returns the number of records per source.
	CountBySource(ctx context.Context) (map[string]int, error)
	// DeleteRecordsBefore removes records first seen before cutoff.
	DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
