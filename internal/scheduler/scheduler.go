// Package scheduler merges per-source candidate lists into one fair,
// deterministic release sequence.
package scheduler

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newswire/internal/model"
)

// FreshnessPolicy decides what happens to items without a publication time.
type FreshnessPolicy string

const (
	// KeepUnknown treats items of unknown age as fresh.
	KeepUnknown FreshnessPolicy = "keep"
	// DropUnknown excludes items of unknown age.
	DropUnknown FreshnessPolicy = "drop"
)

// ParseFreshnessPolicy converts a config value to a FreshnessPolicy.
func ParseFreshnessPolicy(s string) (FreshnessPolicy, error) {
	switch FreshnessPolicy(s) {
	case KeepUnknown, DropUnknown:
		return FreshnessPolicy(s), nil
	case "":
		return KeepUnknown, nil
	default:
		return "", eris.Errorf("scheduler: unknown freshness policy %q", s)
	}
}

// Scheduler interleaves sources round-robin in a fixed order.
type Scheduler struct {
	order   []string
	unknown FreshnessPolicy
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithUnknownFreshness sets the policy for items without a publication time.
func WithUnknownFreshness(p FreshnessPolicy) Option {
	return func(s *Scheduler) { s.unknown = p }
}

// WithClock overrides the time source used for the freshness cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler that visits sources in order, normally their
// registration order. Sources missing from order are visited afterwards in
// lexical order.
func New(order []string, opts ...Option) *Scheduler {
	s := &Scheduler{
		order:   append([]string(nil), order...),
		unknown: KeepUnknown,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Interleave filters stale items, interleaves sources round-robin and then
// applies the caps. A non-positive freshnessWindow disables the freshness
// filter; a non-positive cap means unlimited.
func (s *Scheduler) Interleave(bySource map[string][]model.CandidateItem, freshnessWindow time.Duration, perSourceCap, totalCap int) []model.ScheduleSlot {
	return s.InterleaveAt(s.now(), bySource, freshnessWindow, perSourceCap, totalCap)
}

// InterleaveAt is Interleave with an explicit current time. Its output
// depends only on its arguments.
func (s *Scheduler) InterleaveAt(now time.Time, bySource map[string][]model.CandidateItem, freshnessWindow time.Duration, perSourceCap, totalCap int) []model.ScheduleSlot {
	sources := s.sourceOrder(bySource)

	fresh := make([][]model.CandidateItem, len(sources))
	longest := 0
	for i, id := range sources {
		fresh[i] = s.filterFresh(now, bySource[id], freshnessWindow)
		longest = max(longest, len(fresh[i]))
	}

	var slots []model.ScheduleSlot
	taken := make(map[string]int, len(sources))
	for round := 0; round < longest; round++ {
		for i, id := range sources {
			if round >= len(fresh[i]) {
				continue
			}
			if perSourceCap > 0 && taken[id] >= perSourceCap {
				continue
			}
			if totalCap > 0 && len(slots) >= totalCap {
				return slots
			}
			taken[id]++
			slots = append(slots, model.ScheduleSlot{
				Position: len(slots),
				SourceID: id,
				Item:     fresh[i][round],
			})
		}
	}
	return slots
}

func (s *Scheduler) sourceOrder(bySource map[string][]model.CandidateItem) []string {
	seen := make(map[string]bool, len(s.order))
	out := make([]string, 0, len(bySource))
	for _, id := range s.order {
		if _, ok := bySource[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	var rest []string
	for id := range bySource {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func (s *Scheduler) filterFresh(now time.Time, items []model.CandidateItem, window time.Duration) []model.CandidateItem {
	cutoff := now.Add(-window)
	out := make([]model.CandidateItem, 0, len(items))
	for _, it := range items {
		if !it.HasPublishedAt() {
			if s.unknown == KeepUnknown {
				out = append(out, it)
			}
			continue
		}
		if window > 0 && it.PublishedAt.Before(cutoff) {
			continue
		}
		out = append(out, it)
	}
	return out
}
