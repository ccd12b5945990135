// Package poller holds the source registry and polls every source once per
// run.
package poller

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/newswire/internal/feeds"
	"github.com/sells-group/newswire/internal/model"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultConcurrency   = 4
	DefaultSourceTimeout = 30 * time.Second
)

// Options configures polling.
type Options struct {
	// Concurrency bounds how many sources are fetched at once.
	Concurrency int
	// SourceTimeout bounds a single source fetch.
	SourceTimeout time.Duration
}

// Registry keeps the configured sources in registration order.
type Registry struct {
	ids   []string
	feeds map[string]feeds.Feed
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]feeds.Feed)}
}

// Register adds a source. IDs must be non-empty and unique.
func (r *Registry) Register(id string, feed feeds.Feed) error {
	if id == "" {
		return eris.New("poller: empty source id")
	}
	if feed == nil {
		return eris.Errorf("poller: nil feed for source %s", id)
	}
	if _, ok := r.feeds[id]; ok {
		return eris.Errorf("poller: source %s already registered", id)
	}
	r.ids = append(r.ids, id)
	r.feeds[id] = feed
	return nil
}

// IDs returns source IDs in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.ids)
}

// Result is the outcome of one PollAll.
type Result struct {
	// BySource holds the items of every source that answered, in the order
	// the source returned them. Failed sources are absent.
	BySource map[string][]model.CandidateItem
	// Errors lists failed sources in registration order.
	Errors []model.SourceError
}

// Total returns the number of polled items.
func (r *Result) Total() int {
	n := 0
	for _, items := range r.BySource {
		n += len(items)
	}
	return n
}

// Poller fetches all registered sources.
type Poller struct {
	registry *Registry
	opts     Options
}

// New creates a Poller over registry.
func New(registry *Registry, opts Options) *Poller {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = DefaultSourceTimeout
	}
	return &Poller{registry: registry, opts: opts}
}

// Order returns the deterministic source order used for scheduling.
func (p *Poller) Order() []string {
	return p.registry.IDs()
}

// PollAll fetches every source concurrently. A failing source is reported
// in Result.Errors and never stops the others. The returned error is only
// set when ctx itself ends; results of unfinished sources are discarded.
func (p *Poller) PollAll(ctx context.Context) (*Result, error) {
	ids := p.registry.IDs()
	items := make([][]model.CandidateItem, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, id := range ids {
		feed := p.registry.feeds[id]
		// Each goroutine writes only its own slot.
		g.Go(func() error {
			items[i], errs[i] = p.pollOne(ctx, id, feed)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{BySource: make(map[string][]model.CandidateItem, len(ids))}
	for i, id := range ids {
		if errs[i] != nil {
			res.Errors = append(res.Errors, model.SourceError{SourceID: id, Err: errs[i]})
			zap.L().Warn("poller: source unavailable",
				zap.String("source", id),
				zap.String("kind", string(model.KindSourceUnavailable)),
				zap.Error(errs[i]),
			)
			continue
		}
		res.BySource[id] = items[i]
	}

	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "poller: poll interrupted")
	}

	zap.L().Info("poller: poll complete",
		zap.Int("sources", len(ids)),
		zap.Int("failed", len(res.Errors)),
		zap.Int("items", res.Total()),
	)
	return res, nil
}

func (p *Poller) pollOne(ctx context.Context, id string, feed feeds.Feed) (items []model.CandidateItem, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, p.opts.SourceTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			items, err = nil, eris.Errorf("poller: source %s panicked: %v", id, r)
		}
	}()

	got, err := feed.Fetch(sctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "poller: fetch %s", id)
	}

	// Tag every item with its source; order is preserved.
	out := make([]model.CandidateItem, len(got))
	for i, item := range got {
		item.SourceID = id
		out[i] = item
	}
	return out, nil
}
