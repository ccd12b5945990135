package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies per-source and per-item failures.
type ErrorKind string

const (
	KindSourceUnavailable    ErrorKind = "source_unavailable"
	KindInvalidItem          ErrorKind = "invalid_item"
	KindEmbeddingUnavailable ErrorKind = "embedding_unavailable"
	KindNoveltyCheckFailed   ErrorKind = "novelty_check_failed"
	KindSummaryFailed        ErrorKind = "summary_failed"
	KindDeliveryFailed       ErrorKind = "delivery_failed"
	KindCommitFailed         ErrorKind = "commit_failed"
)

// StageError attributes a failure to a source, an item title and the
// pipeline stage it happened in.
type StageError struct {
	Kind     ErrorKind
	SourceID string
	Title    string
	Stage    SlotState
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: source=%s stage=%s title=%q: %v", e.Kind, e.SourceID, e.Stage, e.Title, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of the first StageError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// SourceError records a source that could not be polled.
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: source=%s: %v", KindSourceUnavailable, e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
