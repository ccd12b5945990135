package pipeline

import (
	"html"
	"strings"

	"github.com/sells-group/newswire/internal/model"
)

// FormatPost renders an item and its summary as Telegram HTML.
func FormatPost(item model.CandidateItem, summary string) string {
	var b strings.Builder
	b.WriteString("📰 <b>")
	b.WriteString(html.EscapeString(strings.TrimSpace(item.Title)))
	b.WriteString("</b>\n\n")
	b.WriteString(html.EscapeString(strings.TrimSpace(summary)))
	b.WriteString("\n\n<i>Source: ")
	b.WriteString(html.EscapeString(item.SourceID))
	b.WriteString("</i>")
	if item.URL != "" {
		b.WriteString("\n<a href=\"")
		b.WriteString(html.EscapeString(item.URL))
		b.WriteString("\">Read more</a>")
	}
	return b.String()
}
