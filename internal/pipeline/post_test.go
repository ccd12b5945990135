package pipeline

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/sells-group/newswire/internal/model"
)

func TestFormatPostGolden(t *testing.T) {
	tests := []struct {
		name    string
		item    model.CandidateItem
		summary string
	}{
		{
			name:    "post_basic",
			item:    model.CandidateItem{SourceID: "bbc", Title: "Storm hits coast"},
			summary: "Heavy rain fell overnight. Roads are closed.",
		},
		{
			name: "post_escaped_with_link",
			item: model.CandidateItem{
				SourceID: "r&d <wire>",
				Title:    " Q3 results: profit < forecast & shares fall ",
				URL:      "https://example.com/a?x=1&y=2",
			},
			summary: "Shares fell 5% after \"weak\" guidance.\n",
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(FormatPost(tt.item, tt.summary)))
		})
	}
}
