// Package pipeline drains the fair schedule one slot at a time: fingerprint,
// novelty check, summarize, publish and, only after confirmed delivery,
// commit.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/fingerprint"
	"github.com/sells-group/newswire/internal/model"
	"github.com/sells-group/newswire/internal/novelty"
	"github.com/sells-group/newswire/internal/poller"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultCommitTimeout = 10 * time.Second
)

// Poller produces per-source candidate lists.
type Poller interface {
	PollAll(ctx context.Context) (*poller.Result, error)
}

// Scheduler orders candidates into release slots.
type Scheduler interface {
	InterleaveAt(now time.Time, bySource map[string][]model.CandidateItem, freshnessWindow time.Duration, perSourceCap, totalCap int) []model.ScheduleSlot
}

// Fingerprinter derives novelty identities.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, item model.CandidateItem) (model.Fingerprint, error)
}

// Summarizer produces the post body for an item.
type Summarizer interface {
	Summarize(ctx context.Context, item model.CandidateItem) (string, error)
}

// Publisher delivers a finished post. A nil error means delivery was
// confirmed.
type Publisher interface {
	Publish(ctx context.Context, text string, imageRef *string) error
}

// Options configures a Pipeline.
type Options struct {
	FreshnessWindow time.Duration
	PerSourceCap    int
	TotalCap        int

	// PublishDelay is the minimum gap between successful publishes.
	PublishDelay time.Duration
	// RunTimeout bounds a whole run. Zero means no deadline.
	RunTimeout time.Duration
	// CommitTimeout bounds a commit. Commits outlive the run deadline so a
	// delivered item is still recorded.
	CommitTimeout time.Duration

	EmbeddingPolicy fingerprint.Policy

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Pipeline is the publish orchestrator. Slots are processed serially.
type Pipeline struct {
	poller     Poller
	scheduler  Scheduler
	engine     Fingerprinter
	novelty    *novelty.Store
	summarizer Summarizer
	publisher  Publisher
	opts       Options
}

// New creates a Pipeline with all dependencies.
func New(
	p Poller,
	sched Scheduler,
	engine Fingerprinter,
	store *novelty.Store,
	summarizer Summarizer,
	publisher Publisher,
	opts Options,
) *Pipeline {
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = DefaultCommitTimeout
	}
	if opts.EmbeddingPolicy == "" {
		opts.EmbeddingPolicy = fingerprint.FailClosed
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Pipeline{
		poller:     p,
		scheduler:  sched,
		engine:     engine,
		novelty:    store,
		summarizer: summarizer,
		publisher:  publisher,
		opts:       opts,
	}
}

// Run executes one poll-schedule-publish pass. Per-source and per-item
// failures are recorded in the result and never stop the run. When the run
// deadline expires the remaining slots are skipped and Aborted is set;
// already committed items stay committed. The error is non-nil only when
// ctx itself was cancelled.
func (p *Pipeline) Run(ctx context.Context) (*model.RunResult, error) {
	result := &model.RunResult{
		RunID:     uuid.NewString(),
		StartedAt: p.opts.Now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", result.RunID))
	log.Info("pipeline: starting run")

	runCtx := ctx
	if p.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
		defer cancel()
	}

	polled, err := p.poller.PollAll(runCtx)
	if polled != nil {
		result.Sources = len(polled.BySource) + len(polled.Errors)
		result.SourceErrors = polled.Errors
	}
	if err != nil {
		result.Aborted = true
		return p.finish(ctx, log, result)
	}
	result.Polled = polled.Total()

	slots := p.scheduler.InterleaveAt(p.opts.Now(), polled.BySource,
		p.opts.FreshnessWindow, p.opts.PerSourceCap, p.opts.TotalCap)
	log.Info("pipeline: scheduled",
		zap.Int("polled", result.Polled),
		zap.Int("slots", len(slots)),
		zap.Int("failed_sources", len(result.SourceErrors)),
	)

	run := &slotRunner{p: p, runID: result.RunID}
	for _, slot := range slots {
		if runCtx.Err() != nil {
			result.Aborted = true
			log.Warn("pipeline: run deadline reached, skipping remaining slots",
				zap.Int("remaining", len(slots)-slot.Position))
			break
		}
		result.Outcomes = append(result.Outcomes, run.process(runCtx, slot))
	}
	return p.finish(ctx, log, result)
}

func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, result *model.RunResult) (*model.RunResult, error) {
	result.FinishedAt = p.opts.Now().UTC()
	log.Info("pipeline: run complete",
		zap.Int("sources", result.Sources),
		zap.Int("failed_sources", len(result.SourceErrors)),
		zap.Int("polled", result.Polled),
		zap.Int("published", result.Count(model.SlotPublished)),
		zap.Int("duplicates", result.Count(model.SlotDuplicate)),
		zap.Int("failed", result.Count(model.SlotFailed)),
		zap.Int("uncommitted", len(result.Uncommitted())),
		zap.Bool("aborted", result.Aborted),
		zap.Duration("duration", result.Duration()),
	)
	if err := ctx.Err(); err != nil {
		return result, eris.Wrap(err, "pipeline: run cancelled")
	}
	return result, nil
}

// slotRunner carries state shared across the slots of one run.
type slotRunner struct {
	p             *Pipeline
	runID         string
	lastPublished time.Time
}

// slotState tracks one slot through the state machine.
type slotState struct {
	slot  model.ScheduleSlot
	state model.SlotState
	log   *zap.Logger
}

func (s *slotState) advance(next model.SlotState) {
	if !s.state.CanTransition(next) {
		s.log.DPanic("pipeline: invalid slot transition",
			zap.String("from", string(s.state)),
			zap.String("to", string(next)),
		)
	}
	s.state = next
}

func (s *slotState) fail(kind model.ErrorKind, err error) model.ItemOutcome {
	stage := s.state
	s.advance(model.SlotFailed)
	serr := &model.StageError{
		Kind:     kind,
		SourceID: s.slot.SourceID,
		Title:    s.slot.Item.Title,
		Stage:    stage,
		Err:      err,
	}
	s.log.Warn("pipeline: item failed",
		zap.String("kind", string(kind)),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	return model.ItemOutcome{Slot: s.slot, State: model.SlotFailed, Err: serr}
}

func (r *slotRunner) process(ctx context.Context, slot model.ScheduleSlot) model.ItemOutcome {
	item := slot.Item
	s := &slotState{
		slot:  slot,
		state: model.SlotPending,
		log: zap.L().With(
			zap.String("run_id", r.runID),
			zap.Int("position", slot.Position),
			zap.String("source", slot.SourceID),
			zap.String("title", item.Title),
		),
	}

	fp, err := r.p.engine.Fingerprint(ctx, item)
	if err != nil {
		var embedErr *fingerprint.EmbedError
		switch {
		case errors.Is(err, fingerprint.ErrNoIdentity):
			return s.fail(model.KindInvalidItem, err)
		case errors.As(err, &embedErr) && r.p.opts.EmbeddingPolicy == fingerprint.FailOpen && fp.ExactKey != "":
			s.log.Warn("pipeline: embedding unavailable, checking exact key only", zap.Error(err))
		default:
			return s.fail(model.KindEmbeddingUnavailable, err)
		}
	}
	s.advance(model.SlotFingerprinted)

	res, match := r.p.novelty.Reserve(fp, slot.SourceID)
	if match.Duplicate {
		s.advance(model.SlotDuplicate)
		s.log.Info("pipeline: duplicate",
			zap.String("reason", string(match.Reason)),
			zap.String("matched_key", match.ExactKey),
			zap.Float64("similarity", match.Similarity),
		)
		return model.ItemOutcome{
			Slot:        slot,
			State:       model.SlotDuplicate,
			DuplicateOf: match.ExactKey,
			Similarity:  match.Similarity,
		}
	}
	// Releasing after a successful commit is a no-op.
	defer res.Release()

	summary, err := r.p.summarizer.Summarize(ctx, item)
	if err != nil {
		return s.fail(model.KindSummaryFailed, err)
	}
	s.advance(model.SlotSummarized)

	if err := r.waitForPublishSlot(ctx); err != nil {
		return s.fail(model.KindDeliveryFailed, err)
	}
	if err := r.p.publisher.Publish(ctx, FormatPost(item, summary), item.ImageRef()); err != nil {
		return s.fail(model.KindDeliveryFailed, err)
	}
	r.lastPublished = r.p.opts.Now()
	s.advance(model.SlotPublished)

	out := model.ItemOutcome{
		Slot:       slot,
		State:      model.SlotPublished,
		Summary:    summary,
		Similarity: match.Similarity,
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.p.opts.CommitTimeout)
	defer cancel()
	if err := res.Commit(cctx); err != nil {
		out.Err = &model.StageError{
			Kind:     model.KindCommitFailed,
			SourceID: slot.SourceID,
			Title:    item.Title,
			Stage:    model.SlotPublished,
			Err:      err,
		}
		s.log.Error("pipeline: commit failed after publish; item may republish on a later run",
			zap.String("kind", string(model.KindCommitFailed)),
			zap.String("exact_key", fp.ExactKey),
			zap.Error(err),
		)
		return out
	}
	out.Committed = true
	s.log.Info("pipeline: published", zap.String("exact_key", fp.ExactKey))
	return out
}

// waitForPublishSlot enforces PublishDelay between successful publishes.
func (r *slotRunner) waitForPublishSlot(ctx context.Context) error {
	if r.lastPublished.IsZero() || r.p.opts.PublishDelay <= 0 {
		return nil
	}
	wait := r.lastPublished.Add(r.p.opts.PublishDelay).Sub(r.p.opts.Now())
	if wait <= 0 {
		return nil
	}
	if err := r.p.opts.Sleep(ctx, wait); err != nil {
		return eris.Wrap(err, "pipeline: wait for publish slot")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
