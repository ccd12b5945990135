package model

// SlotState is the processing state of a ScheduleSlot within a run.
type SlotState string

const (
	SlotPending       SlotState = "pending"
	SlotFingerprinted SlotState = "fingerprinted"
	SlotSummarized    SlotState = "summarized"
	SlotDuplicate     SlotState = "duplicate"
	SlotPublished     SlotState = "published"
	SlotFailed        SlotState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SlotState) Terminal() bool {
	switch s {
	case SlotDuplicate, SlotPublished, SlotFailed:
		return true
	default:
		return false
	}
}

var slotTransitions = map[SlotState][]SlotState{
	SlotPending:       {SlotFingerprinted, SlotFailed},
	SlotFingerprinted: {SlotDuplicate, SlotSummarized, SlotFailed},
	SlotSummarized:    {SlotPublished, SlotFailed},
}

// CanTransition reports whether moving from s to next is allowed.
func (s SlotState) CanTransition(next SlotState) bool {
	for _, allowed := range slotTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
