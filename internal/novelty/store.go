// Package novelty decides whether a fingerprint has been published before,
// either exactly or as a near-duplicate, and durably records published ones.
package novelty

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/model"
	"github.com/sells-group/newswire/internal/store"
)

// DefaultWindow is how many recent embeddings are also scanned exactly, on
// top of the graph search over all of them.
const DefaultWindow = 5000

// MatchReason says why a fingerprint was judged a duplicate.
type MatchReason string

const (
	MatchExact    MatchReason = "exact"
	MatchSimilar  MatchReason = "similar"
	MatchInFlight MatchReason = "in_flight"
)

// Match is the outcome of a novelty check.
type Match struct {
	Duplicate bool
	Reason    MatchReason
	// ExactKey identifies the record or reservation that matched.
	ExactKey string
	// Similarity is the best cosine similarity seen, even when not a duplicate.
	Similarity float64
}

// Options configures a Store.
type Options struct {
	// Threshold is the strict lower bound on cosine similarity for a
	// near-duplicate. Zero means DefaultSimilarityThreshold.
	Threshold float64
	// Window is the size of the exact recent layer of the similarity index.
	// Zero means DefaultWindow; negative scans every record exactly.
	Window int
	Now    func() time.Time
}

// Store is the single owner of novelty state. Exact keys and embeddings of
// every persisted record are held in memory. All methods are safe for
// concurrent use.
type Store struct {
	records   store.Store
	threshold float64
	window    int
	now       func() time.Time

	mu      sync.Mutex
	keys    map[string]struct{}
	index   *similarityIndex
	pending map[string]model.Fingerprint
}

// Open migrates the record store and hydrates the in-memory index from it.
// Any error here leaves no safe basis for novelty decisions.
func Open(ctx context.Context, records store.Store, opts Options) (*Store, error) {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultSimilarityThreshold
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, eris.Errorf("novelty: threshold %v out of range", opts.Threshold)
	}
	switch {
	case opts.Window == 0:
		opts.Window = DefaultWindow
	case opts.Window < 0:
		opts.Window = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		records:   records,
		threshold: opts.Threshold,
		window:    opts.Window,
		now:       opts.Now,
		pending:   make(map[string]model.Fingerprint),
	}
	if err := records.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "novelty: migrate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	zap.L().Info("novelty store loaded",
		zap.Int("records", len(s.keys)),
		zap.Int("indexed", s.index.len()),
		zap.Float64("threshold", s.threshold),
	)
	return s, nil
}

// hydrate rebuilds memory from the record store. Callers hold s.mu.
func (s *Store) hydrate(ctx context.Context) error {
	recs, err := s.records.ListRecords(ctx)
	if err != nil {
		return eris.Wrap(err, "novelty: load records")
	}
	s.keys = make(map[string]struct{}, len(recs))
	s.index = newSimilarityIndex(s.window)
	for _, rec := range recs {
		s.keys[rec.ExactKey] = struct{}{}
		s.index.add(rec.ExactKey, rec.Embedding)
	}
	return nil
}

// IsDuplicate reports whether fp matches a published record exactly or
// exceeds the similarity threshold against one.
func (s *Store) IsDuplicate(fp model.Fingerprint) bool {
	return s.Check(fp).Duplicate
}

// Check is IsDuplicate with the reason and best similarity.
func (s *Store) Check(fp model.Fingerprint) Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(fp)
}

func (s *Store) check(fp model.Fingerprint) Match {
	if _, ok := s.keys[fp.ExactKey]; ok {
		return Match{Duplicate: true, Reason: MatchExact, ExactKey: fp.ExactKey, Similarity: 1}
	}
	if _, ok := s.pending[fp.ExactKey]; ok {
		return Match{Duplicate: true, Reason: MatchInFlight, ExactKey: fp.ExactKey, Similarity: 1}
	}
	if !fp.HasEmbedding() {
		return Match{}
	}

	key, best := s.index.nearest(fp.Embedding)
	if best > s.threshold {
		return Match{Duplicate: true, Reason: MatchSimilar, ExactKey: key, Similarity: best}
	}
	for pk, pfp := range s.pending {
		if sim := Cosine(fp.Embedding, pfp.Embedding); sim > s.threshold {
			return Match{Duplicate: true, Reason: MatchInFlight, ExactKey: pk, Similarity: sim}
		}
	}
	return Match{Similarity: best}
}

// Reserve atomically checks fp and, when it is novel, claims it so that
// concurrent checks see it as in flight until the reservation is committed
// or released. It returns a nil Reservation for duplicates.
func (s *Store) Reserve(fp model.Fingerprint, sourceID string) (*Reservation, Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.check(fp)
	if m.Duplicate {
		return nil, m
	}
	s.pending[fp.ExactKey] = fp
	return &Reservation{store: s, fp: fp, sourceID: sourceID}, m
}

// Commit durably records fp as published. Committing an exact key that is
// already recorded is a no-op.
func (s *Store) Commit(ctx context.Context, fp model.Fingerprint, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, fp, sourceID)
}

func (s *Store) commit(ctx context.Context, fp model.Fingerprint, sourceID string) error {
	if fp.ExactKey == "" {
		return eris.New("novelty: commit without exact key")
	}
	if _, ok := s.keys[fp.ExactKey]; ok {
		return nil
	}
	rec := model.NoveltyRecord{
		ExactKey:    fp.ExactKey,
		Embedding:   fp.Embedding,
		FirstSeenAt: s.now().UTC(),
		SourceID:    sourceID,
	}
	if _, err := s.records.InsertRecord(ctx, rec); err != nil {
		return eris.Wrap(err, "novelty: commit")
	}
	s.keys[fp.ExactKey] = struct{}{}
	s.index.add(fp.ExactKey, fp.Embedding)
	return nil
}

// Import bulk-loads records, skipping exact keys already present, and
// refreshes the in-memory index.
func (s *Store) Import(ctx context.Context, recs []model.NoveltyRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.records.InsertRecords(ctx, recs)
	if err != nil {
		return 0, eris.Wrap(err, "novelty: import")
	}
	return n, s.hydrate(ctx)
}

// Snapshot returns every persisted record, oldest first.
func (s *Store) Snapshot(ctx context.Context) ([]model.NoveltyRecord, error) {
	recs, err := s.records.ListRecords(ctx)
	return recs, eris.Wrap(err, "novelty: snapshot")
}

// Trim deletes records first seen before cutoff and rebuilds the index.
// Trimmed items are no longer recognised as duplicates.
func (s *Store) Trim(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.records.DeleteRecordsBefore(ctx, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "novelty: trim")
	}
	return n, s.hydrate(ctx)
}

// CountBySource returns persisted record counts per source.
func (s *Store) CountBySource(ctx context.Context) (map[string]int, error) {
	counts, err := s.records.CountBySource(ctx)
	return counts, eris.Wrap(err, "novelty: count by source")
}

// Len returns the number of persisted exact keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Indexed returns the number of embeddings searchable for near-duplicates.
func (s *Store) Indexed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.len()
}

// Pending returns the number of open reservations.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Threshold returns the configured similarity threshold.
func (s *Store) Threshold() float64 { return s.threshold }

// Close closes the record store.
func (s *Store) Close() error {
	return s.records.Close()
}

// Reservation is a claim on a fingerprint between the novelty check and the
// commit that follows a confirmed publish.
type Reservation struct {
	store    *Store
	fp       model.Fingerprint
	sourceID string
	done     bool
}

// Fingerprint returns the reserved fingerprint.
func (r *Reservation) Fingerprint() model.Fingerprint { return r.fp }

// Commit durably records the reservation and releases it. On error the
// reservation stays open; the caller should Release it.
func (r *Reservation) Commit(ctx context.Context) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.done {
		return eris.New("novelty: reservation already closed")
	}
	if err := s.commit(ctx, r.fp, r.sourceID); err != nil {
		return err
	}
	delete(s.pending, r.fp.ExactKey)
	r.done = true
	return nil
}

// Release drops the reservation without recording it. It is safe to call
// after Commit and more than once.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.done {
		return
	}
	delete(s.pending, r.fp.ExactKey)
	r.done = true
}
