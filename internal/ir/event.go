package ir

import "encoding/json"

// Protocol event types understood by the normalizer.
const (
	EventTypeMessage   = "m.room.message"
	EventTypeEncrypted = "m.room.encrypted"
	EventTypeReaction  = "m.reaction"
	EventTypeRedaction = "m.room.redaction"
	EventTypeSticker   = "m.sticker"
)

// Relation types carried on the wire inside content["m.relates_to"].
const (
	WireRelReplace    = "m.replace"
	WireRelAnnotation = "m.annotation"
)

// RawEvent is a protocol-level event as delivered by the sync collaborator.
//
// A RawEvent is never mutated after normalization. Content is typed by Type
// and decoded lazily by the normalizer. Relation may be given explicitly; if
// absent, the normalizer reads content["m.relates_to"].
type RawEvent struct {
	EventID    EventID         `json:"event_id,omitempty"`
	TxnID      TxnID           `json:"txn_id,omitempty"`
	RoomID     RoomID          `json:"room_id,omitempty"`
	Sender     UserID          `json:"sender"`
	Timestamp  Timestamp       `json:"origin_server_ts"`
	Type       string          `json:"type"`
	StateKey   *string         `json:"state_key,omitempty"`
	Redacts    EventID         `json:"redacts,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	Relation   *Relation       `json:"relation,omitempty"`
	Unsigned   *Unsigned       `json:"unsigned,omitempty"`
	Encryption *EncryptionInfo `json:"encryption,omitempty"`
}

// RelationType names the kind of relation an event has to its target.
type RelationType string

const (
	RelationEdit      RelationType = "edit"
	RelationRedaction RelationType = "redaction"
	RelationReaction  RelationType = "reaction"
)

// Relation describes how an event modifies a target event.
// Types other than edit, redaction and reaction are kept but never rendered.
type Relation struct {
	Type       RelationType    `json:"rel_type"`
	EventID    EventID         `json:"event_id"`
	Key        string          `json:"key,omitempty"`
	NewContent json.RawMessage `json:"new_content,omitempty"`
}

// Unsigned carries server-side metadata that is not covered by signatures.
type Unsigned struct {
	Relations       *BundledRelations `json:"m.relations,omitempty"`
	RedactedBecause *RawEvent         `json:"redacted_because,omitempty"`
	TransactionID   TxnID             `json:"transaction_id,omitempty"`
}

// BundledRelations holds relations the server aggregated into the original event.
type BundledRelations struct {
	Replace *RawEvent `json:"m.replace,omitempty"`
}

// BundledEdit returns the server-bundled edit, if any.
func (e *RawEvent) BundledEdit() *RawEvent {
	if e.Unsigned == nil || e.Unsigned.Relations == nil {
		return nil
	}
	return e.Unsigned.Relations.Replace
}

// ConfirmsTxn returns the transaction id a remote event confirms, if any.
func (e *RawEvent) ConfirmsTxn() TxnID {
	if e.Unsigned != nil && e.Unsigned.TransactionID != "" {
		return e.Unsigned.TransactionID
	}
	return e.TxnID
}
