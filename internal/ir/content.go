package ir

import "encoding/json"

// ContentKind tags each variant of ItemContent.
type ContentKind string

const (
	ContentMessage         ContentKind = "message"
	ContentRedacted        ContentKind = "redacted"
	ContentUnableToDecrypt ContentKind = "unable_to_decrypt"
	ContentState           ContentKind = "state"
	ContentUnsupported     ContentKind = "unsupported"
)

// ItemContent is the rendered content of an event-backed item.
//
// It is a closed sum type: only the types in this file implement it.
// Consumers switch over the concrete types; adding a variant means
// extending this file and every such switch.
type ItemContent interface {
	Kind() ContentKind
	sealedContent()
}

// MessageContent is text-like message content with any winning edit folded in.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
	Edited        bool   `json:"edited,omitempty"`
}

// RedactedContent replaces any content once the event is tombstoned.
type RedactedContent struct {
	Reason string `json:"reason,omitempty"`
}

// UnableToDecryptContent is the placeholder for content not yet decrypted.
type UnableToDecryptContent struct {
	Algorithm string             `json:"algorithm,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Failure   *DecryptionFailure `json:"failure,omitempty"`
}

// StateContent is a room state change.
type StateContent struct {
	EventType string          `json:"event_type"`
	StateKey  string          `json:"state_key"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// UnsupportedContent stands in for message-like events the engine cannot render.
type UnsupportedContent struct {
	EventType string `json:"event_type"`
}

func (*MessageContent) Kind() ContentKind         { return ContentMessage }
func (*RedactedContent) Kind() ContentKind        { return ContentRedacted }
func (*UnableToDecryptContent) Kind() ContentKind { return ContentUnableToDecrypt }
func (*StateContent) Kind() ContentKind           { return ContentState }
func (*UnsupportedContent) Kind() ContentKind     { return ContentUnsupported }

func (*MessageContent) sealedContent()         {}
func (*RedactedContent) sealedContent()        {}
func (*UnableToDecryptContent) sealedContent() {}
func (*StateContent) sealedContent()           {}
func (*UnsupportedContent) sealedContent()     {}

// MarshalJSON tags the content with its kind.
func (c *MessageContent) MarshalJSON() ([]byte, error) {
	type plain MessageContent
	return json.Marshal(struct {
		Kind ContentKind `json:"kind"`
		*plain
	}{ContentMessage, (*plain)(c)})
}

// MarshalJSON tags the content with its kind.
func (c *RedactedContent) MarshalJSON() ([]byte, error) {
	type plain RedactedContent
	return json.Marshal(struct {
		Kind ContentKind `json:"kind"`
		*plain
	}{ContentRedacted, (*plain)(c)})
}

// MarshalJSON tags the content with its kind.
func (c *UnableToDecryptContent) MarshalJSON() ([]byte, error) {
	type plain UnableToDecryptContent
	return json.Marshal(struct {
		Kind ContentKind `json:"kind"`
		*plain
	}{ContentUnableToDecrypt, (*plain)(c)})
}

// MarshalJSON tags the content with its kind.
func (c *StateContent) MarshalJSON() ([]byte, error) {
	type plain StateContent
	return json.Marshal(struct {
		Kind ContentKind `json:"kind"`
		*plain
	}{ContentState, (*plain)(c)})
}

// MarshalJSON tags the content with its kind.
func (c *UnsupportedContent) MarshalJSON() ([]byte, error) {
	type plain UnsupportedContent
	return json.Marshal(struct {
		Kind ContentKind `json:"kind"`
		*plain
	}{ContentUnsupported, (*plain)(c)})
}
