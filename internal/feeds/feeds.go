// Package feeds implements Source Feeds: RSS/Atom feeds and HTML listing
// pages turned into candidate items.
package feeds

import (
	"context"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/newswire/internal/config"
	"github.com/sells-group/newswire/internal/fetcher"
	"github.com/sells-group/newswire/internal/model"
)

// Source types accepted in configuration.
const (
	TypeRSS  = "rss"
	TypeHTML = "html"
)

// Feed produces the current candidate items of one source.
type Feed interface {
	Fetch(ctx context.Context, sourceID string) ([]model.CandidateItem, error)
}

// New builds the Feed described by cfg.
func New(cfg config.SourceConfig, f fetcher.Fetcher) (Feed, error) {
	if cfg.URL == "" {
		return nil, eris.Errorf("feeds: source %s has no url", cfg.ID)
	}
	switch cfg.Type {
	case TypeRSS, "":
		return NewRSS(cfg.URL, f), nil
	case TypeHTML:
		if cfg.ItemSelector == "" {
			return nil, eris.Errorf("feeds: html source %s needs item_selector", cfg.ID)
		}
		return NewHTML(cfg, f), nil
	default:
		return nil, eris.Errorf("feeds: source %s has unknown type %q", cfg.ID, cfg.Type)
	}
}

// cursor remembers the validators and parsed items of the last successful
// fetch. A 304 replays the cached items: nothing is committed until an item
// is published, so unchanged items must still be offered again.
type cursor struct {
	mu         sync.Mutex
	validators fetcher.Validators
	items      []model.CandidateItem
}

func (c *cursor) get() (fetcher.Validators, []model.CandidateItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validators, append([]model.CandidateItem(nil), c.items...)
}

func (c *cursor) set(v fetcher.Validators, items []model.CandidateItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators = v
	c.items = append([]model.CandidateItem(nil), items...)
}

// fetchWithCursor runs one conditional fetch and parses changed bodies.
func fetchWithCursor(ctx context.Context, f fetcher.Fetcher, c *cursor, url, sourceID string,
	parse func(body []byte, finalURL string) ([]model.CandidateItem, error),
) ([]model.CandidateItem, error) {
	prev, cached := c.get()
	if cached == nil {
		// A cursor without items must not send validators; a 304 would leave
		// nothing to replay.
		prev = fetcher.Validators{}
	}

	resp, err := f.Get(ctx, url, prev)
	if err != nil {
		return nil, err
	}
	if resp.NotModified {
		return withSource(cached, sourceID), nil
	}

	items, err := parse(resp.Body, resp.URL)
	if err != nil {
		return nil, err
	}
	c.set(resp.Validators, items)
	return withSource(items, sourceID), nil
}

func withSource(items []model.CandidateItem, sourceID string) []model.CandidateItem {
	for i := range items {
		items[i].SourceID = sourceID
	}
	return items
}

// htmlText flattens an HTML fragment to whitespace-collapsed text.
func htmlText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapse(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapse(fragment)
	}
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
