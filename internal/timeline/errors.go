package timeline

import (
	"errors"
	"fmt"

	"github.com/roach88/roomline/internal/ir"
)

// Sentinel errors returned by the ingestion and subscription APIs.
var (
	// ErrDiscarded is matched by every DiscardError.
	ErrDiscarded = errors.New("event discarded")

	// ErrTimelineClosed is returned by every call after Close.
	ErrTimelineClosed = errors.New("timeline closed")

	// ErrSubscriptionExists is returned when a named subscription is
	// requested twice with the same filter.
	ErrSubscriptionExists = errors.New("subscription already exists")

	// ErrConflictingFilter is returned when a subscription name is reused
	// with a different stream filter.
	ErrConflictingFilter = errors.New("subscription name already used with a different filter")

	// ErrSubscriptionClosed is returned by Next once the subscription or
	// its timeline is closed and every queued batch has been drained.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrUnknownTransaction is returned for send-state changes on a
	// transaction id with no local echo.
	ErrUnknownTransaction = errors.New("unknown local echo transaction")

	// ErrUnknownEvent is returned for a decryption result naming an event
	// the timeline has never seen.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrInvalidCommand is returned for a command that lacks a required field.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrNoDecryptor is returned by RetryDecryption without a configured decryptor.
	ErrNoDecryptor = errors.New("no decryptor configured")
)

// DiscardReason categorizes normalizer discards.
type DiscardReason string

const (
	// ReasonMissingSender indicates the event has no sender.
	ReasonMissingSender DiscardReason = "missing_sender"

	// ReasonMissingIdentity indicates neither event id nor transaction id is set.
	ReasonMissingIdentity DiscardReason = "missing_identity"

	// ReasonMalformedContent indicates the content cannot be decoded into
	// anything renderable and carries no relation.
	ReasonMalformedContent DiscardReason = "malformed_content"

	// ReasonMissingTarget indicates a relation or redaction without a target.
	ReasonMissingTarget DiscardReason = "missing_target"

	// ReasonMissingReactionKey indicates an annotation without a key.
	ReasonMissingReactionKey DiscardReason = "missing_reaction_key"

	// ReasonMissingNewContent indicates a clear edit without replacement content.
	ReasonMissingNewContent DiscardReason = "missing_new_content"

	// ReasonEchoHasEventID indicates a local echo that already carries an event id.
	ReasonEchoHasEventID DiscardReason = "echo_has_event_id"
)

// DiscardError reports why the normalizer dropped an event.
// It matches ErrDiscarded with errors.Is.
type DiscardError struct {
	Reason  DiscardReason
	EventID ir.EventID
	TxnID   ir.TxnID
	Err     error
}

// Error implements the error interface.
func (e *DiscardError) Error() string {
	id := string(e.EventID)
	if id == "" {
		id = "txn:" + string(e.TxnID)
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s discarded: %s: %v", id, e.Reason, e.Err)
	}
	return fmt.Sprintf("event %s discarded: %s", id, e.Reason)
}

// Is reports whether target is ErrDiscarded.
func (e *DiscardError) Is(target error) bool {
	return target == ErrDiscarded
}

// Unwrap returns the underlying decode error, if any.
func (e *DiscardError) Unwrap() error {
	return e.Err
}

func discard(raw *ir.RawEvent, reason DiscardReason, err error) *DiscardError {
	return &DiscardError{Reason: reason, EventID: raw.EventID, TxnID: raw.TxnID, Err: err}
}

// IsDiscarded returns true if err is a normalizer discard.
func IsDiscarded(err error) bool {
	return errors.Is(err, ErrDiscarded)
}

// DiscardReasonOf extracts the discard reason from err, or "".
func DiscardReasonOf(err error) DiscardReason {
	var de *DiscardError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}
