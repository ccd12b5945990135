package feeds

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/newswire/internal/config"
	"github.com/sells-group/newswire/internal/fetcher"
	"github.com/sells-group/newswire/internal/model"
)

// HTML scrapes a listing page with CSS selectors. Each element matched by
// ItemSelector becomes one item; the other selectors are relative to it.
type HTML struct {
	cfg     config.SourceConfig
	fetcher fetcher.Fetcher
	cursor  cursor
}

// NewHTML creates a scraper for the listing page in cfg.
func NewHTML(cfg config.SourceConfig, f fetcher.Fetcher) *HTML {
	return &HTML{cfg: cfg, fetcher: f}
}

// Fetch implements Feed.
func (h *HTML) Fetch(ctx context.Context, sourceID string) ([]model.CandidateItem, error) {
	return fetchWithCursor(ctx, h.fetcher, &h.cursor, h.cfg.URL, sourceID, h.parse)
}

func (h *HTML) parse(body []byte, finalURL string) ([]model.CandidateItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "feeds: parse html")
	}
	base, _ := url.Parse(finalURL)

	var items []model.CandidateItem
	doc.Find(h.cfg.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		item := model.CandidateItem{
			Title: collapse(pick(sel, h.cfg.TitleSelector).Text()),
		}
		if h.cfg.BodySelector != "" {
			item.Body = collapse(sel.Find(h.cfg.BodySelector).Text())
		}

		link := sel
		if h.cfg.LinkSelector != "" {
			link = sel.Find(h.cfg.LinkSelector).First()
		} else if !sel.Is("a") {
			link = sel.Find("a[href]").First()
		}
		item.URL = resolve(base, link.AttrOr("href", ""))

		if src, ok := sel.Find("img").First().Attr("src"); ok {
			item.ImageURL = resolve(base, src)
		}
		if h.cfg.DateSelector != "" {
			item.PublishedAt = parseDate(sel.Find(h.cfg.DateSelector).First(), h.cfg.DateLayout)
		}
		if item.Title == "" && item.URL == "" {
			return
		}
		items = append(items, item)
	})
	return items, nil
}

// pick returns the first match of selector within sel, or sel itself.
func pick(sel *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return sel
	}
	return sel.Find(selector).First()
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// parseDate reads a datetime attribute or the element text. Unparseable
// dates leave the item with unknown age.
func parseDate(sel *goquery.Selection, layout string) *time.Time {
	raw := strings.TrimSpace(sel.AttrOr("datetime", ""))
	if raw == "" {
		raw = strings.TrimSpace(sel.Text())
	}
	if raw == "" {
		return nil
	}
	layouts := []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02 15:04", "2006-01-02"}
	if layout != "" {
		layouts = append([]string{layout}, layouts...)
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
