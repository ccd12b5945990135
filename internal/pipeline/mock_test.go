package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswire/internal/fingerprint"
	"github.com/sells-group/newswire/internal/model"
	"github.com/sells-group/newswire/internal/novelty"
	"github.com/sells-group/newswire/internal/poller"
	"github.com/sells-group/newswire/internal/scheduler"
	"github.com/sells-group/newswire/internal/store"
)

var errInjected = errors.New("injected failure")

type fakeFeed struct {
	mu    sync.Mutex
	items []model.CandidateItem
	err   error
}

func (f *fakeFeed) Fetch(context.Context, string) ([]model.CandidateItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CandidateItem(nil), f.items...), f.err
}

// fakeEmbedder maps the title line of the embedding text to a vector.
// Unknown titles get a fresh one-hot vector, so distinct titles are
// orthogonal unless a test pins their vectors.
type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	next  int
	err   error
	calls int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vecs: make(map[string][]float32)}
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	title := strings.SplitN(text, "\n\n", 2)[0]
	if v, ok := e.vecs[title]; ok {
		return v, nil
	}
	v := make([]float32, 64)
	v[e.next%64] = 1
	e.next++
	e.vecs[title] = v
	return v, nil
}

type fakeSummarizer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (s *fakeSummarizer) Summarize(_ context.Context, item model.CandidateItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, item.Title)
	if s.err != nil {
		return "", s.err
	}
	return "Summary of " + item.Title + ".", nil
}

type published struct {
	Text  string
	Image *string
}

type fakePublisher struct {
	mu    sync.Mutex
	err   error
	posts []published
}

func (p *fakePublisher) Publish(_ context.Context, text string, imageRef *string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, published{Text: text, Image: imageRef})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

// flakyRecords wraps a real store and can fail inserts.
type flakyRecords struct {
	store.Store
	mu        sync.Mutex
	insertErr error
}

func (f *flakyRecords) InsertRecord(ctx context.Context, rec model.NoveltyRecord) (bool, error) {
	f.mu.Lock()
	err := f.insertErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Store.InsertRecord(ctx, rec)
}

func (f *flakyRecords) setInsertErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertErr = err
}

// harness wires a Pipeline over fakes, a real poller and scheduler, and a
// SQLite-backed novelty store.
type harness struct {
	t        *testing.T
	feeds    map[string]*fakeFeed
	order    []string
	embedder *fakeEmbedder
	sum      *fakeSummarizer
	pub      *fakePublisher
	records  *flakyRecords
	novelty  *novelty.Store
	dbPath   string
	opts     Options
	sleeps   []time.Duration
	clock    time.Time
}

func newHarness(t *testing.T, sources ...string) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		feeds:    make(map[string]*fakeFeed),
		order:    sources,
		embedder: newFakeEmbedder(),
		sum:      &fakeSummarizer{},
		pub:      &fakePublisher{},
		dbPath:   filepath.Join(t.TempDir(), "novelty.db"),
		clock:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
	for _, id := range sources {
		h.feeds[id] = &fakeFeed{}
	}
	h.opts = Options{
		PerSourceCap:    10,
		TotalCap:        10,
		PublishDelay:    5 * time.Second,
		EmbeddingPolicy: fingerprint.FailClosed,
		Now:             func() time.Time { return h.clock },
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			h.clock = h.clock.Add(d)
			return nil
		},
	}
	h.openStore()
	return h
}

func (h *harness) openStore() {
	h.t.Helper()
	rs, err := store.NewSQLite(h.dbPath)
	require.NoError(h.t, err)
	h.records = &flakyRecords{Store: rs}
	h.novelty, err = novelty.Open(context.Background(), h.records, novelty.Options{})
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = h.novelty.Close() })
}

// restart closes the store and reopens it from disk, as a new process would.
func (h *harness) restart() {
	h.t.Helper()
	require.NoError(h.t, h.novelty.Close())
	h.openStore()
}

func (h *harness) set(source string, items ...model.CandidateItem) {
	h.feeds[source].mu.Lock()
	defer h.feeds[source].mu.Unlock()
	h.feeds[source].items = items
}

func (h *harness) pipeline() *Pipeline {
	h.t.Helper()
	reg := poller.NewRegistry()
	for _, id := range h.order {
		require.NoError(h.t, reg.Register(id, h.feeds[id]))
	}
	p := poller.New(reg, poller.Options{})
	return New(p, scheduler.New(p.Order()), fingerprint.New(h.embedder), h.novelty, h.sum, h.pub, h.opts)
}

func (h *harness) run() *model.RunResult {
	h.t.Helper()
	res, err := h.pipeline().Run(context.Background())
	require.NoError(h.t, err)
	return res
}

func item(title string) model.CandidateItem {
	return model.CandidateItem{Title: title, Body: "Body of " + title}
}

func states(res *model.RunResult) []model.SlotState {
	out := make([]model.SlotState, len(res.Outcomes))
	for i, o := range res.Outcomes {
		out[i] = o.State
	}
	return out
}
