package driver

import (
	"github.com/roach88/roomline/internal/ir"
)

// Actions understood by the driver besides the ingestion command kinds.
const (
	ActionRetryDecryption = "retry_decryption"
	ActionSubscribe       = "subscribe"
	ActionPoll            = "poll"
	ActionUnsubscribe     = "unsubscribe"
	ActionItems           = "items"
	ActionItem            = "item"
	ActionPending         = "pending"
)

// Streams a subscribe or items request can name.
const (
	StreamAll    = "all"
	StreamEvents = "events"
)

// Request is one control message. Which fields matter depends on Action;
// ingestion actions use the same field names as ir.Command.
type Request struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`

	Event     *ir.RawEvent         `json:"event,omitempty"`
	EventID   ir.EventID           `json:"event_id,omitempty"`
	EventIDs  []ir.EventID         `json:"event_ids,omitempty"`
	TxnID     ir.TxnID             `json:"txn_id,omitempty"`
	User      ir.UserID            `json:"user,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Timestamp ir.Timestamp         `json:"ts,omitempty"`
	Result    *ir.DecryptionResult `json:"result,omitempty"`

	Stream       string `json:"stream,omitempty"`
	Name         string `json:"name,omitempty"`
	Subscription string `json:"subscription,omitempty"`
}

// Response answers exactly one Request, echoing its ID.
type Response struct {
	ID string `json:"id,omitempty"`
	OK bool   `json:"ok"`

	TxnID        ir.TxnID          `json:"txn_id,omitempty"`
	Subscription string            `json:"subscription,omitempty"`
	Items        []ir.TimelineItem `json:"items,omitempty"`
	Batches      [][]ir.DiffOp     `json:"batches,omitempty"`
	Count        *int              `json:"count,omitempty"`

	Error *Error `json:"error,omitempty"`
}

// Error codes carried by failed responses.
const (
	CodeMalformedRequest    = "malformed_request"
	CodeUnknownAction       = "unknown_action"
	CodeInvalidArgument     = "invalid_argument"
	CodeDiscarded           = "discarded"
	CodeUnknownEvent        = "unknown_event"
	CodeUnknownTransaction  = "unknown_transaction"
	CodeUnknownSubscription = "unknown_subscription"
	CodeSubscriptionExists  = "subscription_exists"
	CodeNoDecryptor         = "no_decryptor"
	CodeTimelineClosed      = "timeline_closed"
	CodeInternal            = "internal"
)

// Error is the structured failure of a request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Reason is the discard reason for CodeDiscarded.
	Reason string `json:"reason,omitempty"`
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Code + " (" + e.Reason + "): " + e.Message
	}
	return e.Code + ": " + e.Message
}
