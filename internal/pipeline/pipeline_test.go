package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswire/internal/fingerprint"
	"github.com/sells-group/newswire/internal/model"
	"github.com/sells-group/newswire/internal/novelty"
)

func TestRunPublishesAndCommits(t *testing.T) {
	h := newHarness(t, "bbc", "cnn")
	img := "https://example.com/a.jpg"
	a := item("Storm hits coast")
	a.ImageURL = img
	h.set("bbc", a, item("Markets open flat"))
	h.set("cnn", item("Election results due"))

	res := h.run()

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Sources)
	assert.Equal(t, 3, res.Polled)
	assert.False(t, res.Aborted)
	require.Len(t, res.Outcomes, 3)

	// Fair order: bbc, cnn, bbc.
	assert.Equal(t, "Storm hits coast", res.Outcomes[0].Slot.Item.Title)
	assert.Equal(t, "Election results due", res.Outcomes[1].Slot.Item.Title)
	assert.Equal(t, "Markets open flat", res.Outcomes[2].Slot.Item.Title)

	for _, o := range res.Outcomes {
		assert.Equal(t, model.SlotPublished, o.State)
		assert.True(t, o.Committed)
		assert.NoError(t, o.Err)
	}
	require.Equal(t, 3, h.pub.count())
	assert.Contains(t, h.pub.posts[0].Text, "<b>Storm hits coast</b>")
	require.NotNil(t, h.pub.posts[0].Image)
	assert.Equal(t, img, *h.pub.posts[0].Image)
	assert.Nil(t, h.pub.posts[1].Image)

	assert.Equal(t, 3, h.novelty.Len())
	assert.Zero(t, h.novelty.Pending())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.sleeps)
}

func TestRunSecondPassIsAllDuplicates(t *testing.T) {
	h := newHarness(t, "bbc")
	h.set("bbc", item("Storm hits coast"), item("Markets open flat"))

	first := h.run()
	assert.Equal(t, 2, first.Count(model.SlotPublished))

	h.restart()
	second := h.run()
	assert.Equal(t, []model.SlotState{model.SlotDuplicate, model.SlotDuplicate}, states(second))
	assert.Equal(t, 2, h.pub.count(), "nothing republished")
	assert.Len(t, h.sum.calls, 2, "duplicates are never summarized")
}

func TestRunExactDuplicateIgnoresEmbedding(t *testing.T) {
	h := newHarness(t, "bbc", "cnn")
	h.set("bbc", item("Storm hits coast"))
	h.set("cnn", model.CandidateItem{Title: "  STORM hits   coast.", Body: "Completely different body"})
	// Force orthogonal vectors so only the exact key can match.
	h.embedder.vecs["Storm hits coast"] = unit(0)
	h.embedder.vecs["STORM hits   coast."] = unit(1)

	res := h.run()
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.SlotPublished, res.Outcomes[0].State)
	assert.Equal(t, model.SlotDuplicate, res.Outcomes[1].State)
	assert.Equal(t, 1, h.pub.count())
}

func TestRunNearDuplicateAcrossSources(t *testing.T) {
	h := newHarness(t, "bbc", "cnn", "ap")
	h.set("bbc", item("Storm hits coast"))
	h.set("cnn", item("Coastal storm makes landfall"))
	h.set("ap", item("Unrelated sports story"))
	h.embedder.vecs["Storm hits coast"] = []float32{1, 0, 0}
	h.embedder.vecs["Coastal storm makes landfall"] = []float32{0.99, 0.1, 0}
	h.embedder.vecs["Unrelated sports story"] = []float32{0, 0, 1}

	res := h.run()
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, model.SlotPublished, res.Outcomes[0].State)
	assert.Equal(t, model.SlotDuplicate, res.Outcomes[1].State)
	assert.Greater(t, res.Outcomes[1].Similarity, novelty.DefaultSimilarityThreshold)
	assert.NotEmpty(t, res.Outcomes[1].DuplicateOf)
	assert.Equal(t, model.SlotPublished, res.Outcomes[2].State)
}

func TestRunCommitFailureThenRerun(t *testing.T) {
	h := newHarness(t, "bbc")
	h.set("bbc", item("Storm hits coast"))
	h.records.setInsertErr(errInjected)

	res := h.run()
	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, model.SlotPublished, o.State)
	assert.False(t, o.Committed)
	assert.Equal(t, model.KindCommitFailed, o.Kind())
	assert.ErrorIs(t, o.Err, errInjected)
	assert.Len(t, res.Uncommitted(), 1)
	assert.Zero(t, h.novelty.Pending(), "failed reservation must be released")
	assert.Zero(t, h.novelty.Len())

	// The next run may republish; it must not deadlock or corrupt the store.
	h.records.setInsertErr(nil)
	h.restart()
	again := h.run()
	require.Len(t, again.Outcomes, 1)
	assert.Equal(t, model.SlotPublished, again.Outcomes[0].State)
	assert.True(t, again.Outcomes[0].Committed)
	assert.Equal(t, 2, h.pub.count())

	third := h.run()
	assert.Equal(t, []model.SlotState{model.SlotDuplicate}, states(third))
}

func TestRunEmbeddingFailClosed(t *testing.T) {
	h := newHarness(t, "bbc")
	h.set("bbc", item("Storm hits coast"))
	h.embedder.err = errInjected

	res := h.run()
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, model.SlotFailed, res.Outcomes[0].State)
	assert.Equal(t, model.KindEmbeddingUnavailable, res.Outcomes[0].Kind())
	assert.Zero(t, h.pub.count())
	assert.Empty(t, h.sum.calls)

	var se *model.StageError
	require.ErrorAs(t, res.Outcomes[0].Err, &se)
	assert.Equal(t, "bbc", se.SourceID)
	assert.Equal(t, "Storm hits coast", se.Title)
	assert.Equal(t, model.SlotPending, se.Stage)
}

func TestRunEmbeddingFailOpen(t *testing.T) {
	h := newHarness(t, "bbc")
	h.opts.EmbeddingPolicy = fingerprint.FailOpen
	h.set("bbc", item("Storm hits coast"))
	h.embedder.err = errInjected

	res := h.run()
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, model.SlotPublished, res.Outcomes[0].State)
	assert.True(t, res.Outcomes[0].Committed)

	// The key-only record still catches the exact title next time.
	h.embedder.err = nil
	again := h.run()
	assert.Equal(t, []model.SlotState{model.SlotDuplicate}, states(again))
}

func TestRunSummaryFailureIsReofferedNextRun(t *testing.T) {
	h := newHarness(t, "bbc")
	h.set("bbc", item("Storm hits coast"))
	h.sum.err = errInjected

	res := h.run()
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, model.SlotFailed, res.Outcomes[0].State)
	assert.Equal(t, model.KindSummaryFailed, res.Outcomes[0].Kind())
	assert.Zero(t, h.novelty.Pending())
	assert.Zero(t, h.novelty.Len())

	h.sum.err = nil
	again := h.run()
	assert.Equal(t, []model.SlotState{model.SlotPublished}, states(again))
}

func TestRunDeliveryFailureIsNotCommitted(t *testing.T) {
	h := newHarness(t, "bbc")
	h.set("bbc", item("Storm hits coast"), item("Markets open flat"))
	h.pub.err = errInjected

	res := h.run()
	require.Len(t, res.Outcomes, 2)
	for _, o := range res.Outcomes {
		assert.Equal(t, model.SlotFailed, o.State)
		assert.Equal(t, model.KindDeliveryFailed, o.Kind())
	}
	assert.Zero(t, h.novelty.Len())
	assert.Empty(t, h.sleeps, "no delay without a successful publish")
}

func TestRunInvalidItem(t *testing.T) {
	h := newHarness(t, "bbc")
	h.set("bbc", model.CandidateItem{Body: "no title, no url"}, item("Storm hits coast"))

	res := h.run()
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.KindInvalidItem, res.Outcomes[0].Kind())
	assert.Equal(t, model.SlotPublished, res.Outcomes[1].State)
}

func TestRunPartialSourceFailure(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.set("a", item("From A"))
	h.feeds["b"].err = errInjected
	h.set("c", item("From C"))

	res := h.run()
	assert.Equal(t, 3, res.Sources)
	assert.Equal(t, []string{"b"}, res.FailedSources())
	assert.Equal(t, []model.SlotState{model.SlotPublished, model.SlotPublished}, states(res))
	assert.Equal(t, "a", res.Outcomes[0].Slot.SourceID)
	assert.Equal(t, "c", res.Outcomes[1].Slot.SourceID)
}

func TestRunFreshnessAndCaps(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.opts.FreshnessWindow = time.Hour
	h.opts.PerSourceCap = 1
	h.opts.TotalCap = 10
	stale := h.clock.Add(-2 * time.Hour)
	recent := h.clock.Add(-time.Minute)
	old := item("Old news")
	old.PublishedAt = &stale
	fresh := item("Fresh news")
	fresh.PublishedAt = &recent
	h.set("a", old, fresh, item("Second fresh from a"))
	h.set("b", item("Undated from b"))

	res := h.run()
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "Fresh news", res.Outcomes[0].Slot.Item.Title)
	assert.Equal(t, "Undated from b", res.Outcomes[1].Slot.Item.Title)
}

func TestRunPublishDelayCountsElapsedTime(t *testing.T) {
	h := newHarness(t, "a")
	h.set("a", item("One"), item("Two"))
	// Summarizing takes 3s of clock time, so only 2s of delay remain.
	inner := h.sum
	slow := summarizerFunc(func(ctx context.Context, it model.CandidateItem) (string, error) {
		h.clock = h.clock.Add(3 * time.Second)
		return inner.Summarize(ctx, it)
	})

	p := h.pipeline()
	p.summarizer = slow
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(model.SlotPublished))
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeps)
}

type summarizerFunc func(ctx context.Context, item model.CandidateItem) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, item model.CandidateItem) (string, error) {
	return f(ctx, item)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, "a")
	h.set("a", item("One"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.pipeline().Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.True(t, res.Aborted)
	assert.Empty(t, res.Outcomes)
	assert.Zero(t, h.pub.count())
}

func TestRunInterruptedKeepsCommittedItems(t *testing.T) {
	h := newHarness(t, "a")
	h.set("a", item("One"), item("Two"), item("Three"))
	h.opts.RunTimeout = time.Hour

	// The publisher cancels the run after its first delivery.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := publisherFunc(func(ctx context.Context, text string, img *string) error {
		err := h.pub.Publish(ctx, text, img)
		cancel()
		return err
	})
	p := h.pipeline()
	p.publisher = pub

	res, err := p.Run(ctx)
	require.Error(t, err)
	assert.True(t, res.Aborted)
	require.NotEmpty(t, res.Outcomes)
	assert.Equal(t, model.SlotPublished, res.Outcomes[0].State)
	assert.True(t, res.Outcomes[0].Committed, "commit outlives cancellation")
	assert.Equal(t, 1, h.pub.count())
	assert.Equal(t, 1, h.novelty.Len())
}

type publisherFunc func(ctx context.Context, text string, imageRef *string) error

func (f publisherFunc) Publish(ctx context.Context, text string, imageRef *string) error {
	return f(ctx, text, imageRef)
}

func unit(i int) []float32 {
	v := make([]float32, 64)
	v[i] = 1
	return v
}
