package feeds

import (
	"bytes"
	"context"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"

	"github.com/sells-group/newswire/internal/fetcher"
	"github.com/sells-group/newswire/internal/model"
)

// RSS reads an RSS or Atom feed.
type RSS struct {
	url     string
	fetcher fetcher.Fetcher
	cursor  cursor
}

// NewRSS creates an RSS feed reader for url.
func NewRSS(url string, f fetcher.Fetcher) *RSS {
	return &RSS{url: url, fetcher: f}
}

// Fetch implements Feed.
func (r *RSS) Fetch(ctx context.Context, sourceID string) ([]model.CandidateItem, error) {
	return fetchWithCursor(ctx, r.fetcher, &r.cursor, r.url, sourceID, parseRSS)
}

func parseRSS(body []byte, _ string) ([]model.CandidateItem, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "feeds: parse rss")
	}

	items := make([]model.CandidateItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		text := entry.Content
		if text == "" {
			text = entry.Description
		}
		item := model.CandidateItem{
			Title:    collapse(entry.Title),
			Body:     htmlText(text),
			URL:      strings.TrimSpace(entry.Link),
			ImageURL: rssImage(entry),
		}
		switch {
		case entry.PublishedParsed != nil:
			at := entry.PublishedParsed.UTC()
			item.PublishedAt = &at
		case entry.UpdatedParsed != nil:
			at := entry.UpdatedParsed.UTC()
			item.PublishedAt = &at
		}
		items = append(items, item)
	}
	return items, nil
}

func rssImage(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if media, ok := entry.Extensions["media"]; ok {
		for _, name := range []string{"thumbnail", "content"} {
			for _, ext := range media[name] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	return ""
}
