package store

import (
	"errors"
	"strconv"

	"github.com/dotcommander/chord/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained so
// store callers don't need the models import for type assertions.
type RecoverableError = models.RecoverableError

// Sentinels for errors.Is matching against the structured types below.
var (
	ErrPublishFailure = errors.New("durable event append failed")
	ErrReplayGap      = errors.New("durable log is missing events in the replay range")
)

// PublishFailureError means the durable write failed. Fatal to the publish
// call; the caller owns the retry.
type PublishFailureError struct {
	Kind   string
	Origin string
	Err    error
}

func (e *PublishFailureError) Error() string {
	return "failed to append event: " + e.Err.Error()
}
func (e *PublishFailureError) Unwrap() error     { return e.Err }
func (e *PublishFailureError) ErrorCode() string { return "PUBLISH_FAILURE" }
func (e *PublishFailureError) Context() map[string]string {
	return map[string]string{
		"kind":   e.Kind,
		"origin": e.Origin,
	}
}
func (e *PublishFailureError) SuggestedAction() string {
	return "retry the publish with the same request-id"
}
func (e *PublishFailureError) Is(target error) bool { return target == ErrPublishFailure }

// ReplayGapError means the durable log is missing part of the expected
// sequence range. Fatal at startup: rebuilding through a gap would produce
// an incomplete context without anyone noticing.
type ReplayGapError struct {
	SinceSequence int64
	MaxSequence   int64
	Expected      int64
	Found         int64
}

func (e *ReplayGapError) Error() string {
	return "durable log is missing events in the replay range"
}
func (e *ReplayGapError) ErrorCode() string { return "REPLAY_GAP" }
func (e *ReplayGapError) Context() map[string]string {
	return map[string]string{
		"since_sequence": strconv.FormatInt(e.SinceSequence, 10),
		"max_sequence":   strconv.FormatInt(e.MaxSequence, 10),
		"expected":       strconv.FormatInt(e.Expected, 10),
		"found":          strconv.FormatInt(e.Found, 10),
	}
}
func (e *ReplayGapError) SuggestedAction() string {
	return "restore the event log from backup or reset the context checkpoint to 0"
}
func (e *ReplayGapError) Is(target error) bool { return target == ErrReplayGap }

// IdempotencyInProgressError carries the key of a concurrently-running
// idempotent operation so workers can back off and retry.
type IdempotencyInProgressError struct {
	Origin    string
	RequestID string
	Command   string
}

func (e *IdempotencyInProgressError) Error() string     { return "idempotency in progress" }
func (e *IdempotencyInProgressError) ErrorCode() string { return "IDEMPOTENCY_IN_PROGRESS" }
func (e *IdempotencyInProgressError) Context() map[string]string {
	return map[string]string{
		"origin":     e.Origin,
		"request_id": e.RequestID,
		"command":    e.Command,
	}
}
func (e *IdempotencyInProgressError) SuggestedAction() string {
	return "wait and retry, or use a new request-id"
}
func (e *IdempotencyInProgressError) Is(target error) bool {
	return target == ErrIdempotencyInProgress
}
