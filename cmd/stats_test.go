//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswire/internal/model"
)

func TestBuildStats(t *testing.T) {
	t0 := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	recs := []model.NoveltyRecord{
		{ExactKey: "b", FirstSeenAt: t0.Add(time.Hour), SourceID: "bbc", Embedding: []float32{1, 0}},
		{ExactKey: "a", FirstSeenAt: t0, SourceID: "bbc"},
		{ExactKey: "c", FirstSeenAt: t0.Add(2 * time.Hour), SourceID: "wire", Embedding: []float32{0, 1}},
	}

	report := buildStats(recs, map[string]int{"bbc": 2, "wire": 1})

	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 2, report.WithVector)
	assert.Equal(t, 2, report.BySource["bbc"])
	require.NotNil(t, report.OldestSeenAt)
	require.NotNil(t, report.NewestSeenAt)
	assert.Equal(t, t0, *report.OldestSeenAt)
	assert.Equal(t, t0.Add(2*time.Hour), *report.NewestSeenAt)
}

func TestBuildStats_Empty(t *testing.T) {
	report := buildStats(nil, nil)

	assert.Zero(t, report.Records)
	assert.NotNil(t, report.BySource)
	assert.Nil(t, report.OldestSeenAt)

	var buf bytes.Buffer
	require.NoError(t, writeStats(&buf, report))
	assert.Contains(t, buf.String(), `"by_source": {}`)
	assert.NotContains(t, buf.String(), "oldest_seen_at")
}
