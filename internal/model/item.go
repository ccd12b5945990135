package model

import "time"

// CandidateItem is one item as reported by a source during a poll.
type CandidateItem struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	URL      string `json:"url,omitempty"`
	// PublishedAt is nil when the source does not report a publication time.
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
}

// HasPublishedAt reports whether the item carries a publication time.
func (c CandidateItem) HasPublishedAt() bool {
	return c.PublishedAt != nil && !c.PublishedAt.IsZero()
}

// ImageRef returns the image reference for publishing, or nil.
func (c CandidateItem) ImageRef() *string {
	if c.ImageURL == "" {
		return nil
	}
	ref := c.ImageURL
	return &ref
}

// Fingerprint is the novelty identity of an item.
type Fingerprint struct {
	ExactKey  string    `json:"exact_key"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// HasEmbedding reports whether a semantic vector is present. Fingerprints
// produced under a fail-open embedding policy may carry only the exact key.
func (f Fingerprint) HasEmbedding() bool {
	return len(f.Embedding) > 0
}

// NoveltyRecord is one persisted, published fingerprint.
type NoveltyRecord struct {
	ExactKey    string    `json:"exact_key"`
	Embedding   []float32 `json:"embedding,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	SourceID    string    `json:"source_id"`
}

// ScheduleSlot places one item into the release sequence.
type ScheduleSlot struct {
	Position int           `json:"position"`
	SourceID string        `json:"source_id"`
	Item     CandidateItem `json:"item"`
}
