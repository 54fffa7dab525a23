package timeline

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/roach88/roomline/internal/ir"
)

type recordKind int

const (
	recordMessage recordKind = iota + 1
	recordEncrypted
	recordState
	recordUnsupported
	recordRelation
	recordRedaction
)

func (k recordKind) String() string {
	switch k {
	case recordMessage:
		return "message"
	case recordEncrypted:
		return "encrypted"
	case recordState:
		return "state"
	case recordUnsupported:
		return "unsupported"
	case recordRelation:
		return "relation"
	case recordRedaction:
		return "redaction"
	default:
		return "unknown"
	}
}

// relation is the normalized form of an event's effect on a target.
type relation struct {
	typ        ir.RelationType
	target     ir.EventID
	key        string
	reason     string
	newContent *ir.MessageContent
}

// redaction is a tombstone applied to an item key.
type redaction struct {
	eventID ir.EventID
	reason  string
	seq     int64
}

// record is the immutable internal form of one RawEvent.
// A decryption result produces a new record rather than mutating this one.
type record struct {
	eventID  ir.EventID
	txnID    ir.TxnID
	sender   ir.UserID
	ts       ir.Timestamp
	seq      int64
	evType   string
	kind     recordKind
	stateKey string

	message  *ir.MessageContent
	state    json.RawMessage
	relation *relation

	// envelope is set on every event that arrived encrypted, decrypted or not.
	envelope  *ir.EncryptedEnvelope
	decrypted bool
	failure   *ir.DecryptionFailure

	encryption *ir.EncryptionInfo
	redactedBy *redaction
	bundled    *record
	local      bool
}

func (r *record) key() ir.ItemKey {
	if r.eventID != "" {
		return ir.KeyForEvent(r.eventID)
	}
	return ir.KeyForTxn(r.txnID)
}

func (r *record) undecrypted() bool {
	return r.envelope != nil && !r.decrypted
}

func (r *record) isItem() bool {
	switch r.kind {
	case recordMessage, recordEncrypted, recordState, recordUnsupported:
		return true
	default:
		return false
	}
}

// wireContent decodes every content field the normalizer looks at.
type wireContent struct {
	MsgType       string          `json:"msgtype"`
	Body          *string         `json:"body"`
	Format        string          `json:"format"`
	FormattedBody string          `json:"formatted_body"`
	NewContent    json.RawMessage `json:"m.new_content"`
	RelatesTo     *wireRelatesTo  `json:"m.relates_to"`
	Redacts       ir.EventID      `json:"redacts"`
	Reason        string          `json:"reason"`

	Algorithm  string          `json:"algorithm"`
	SenderKey  string          `json:"sender_key"`
	DeviceID   string          `json:"device_id"`
	SessionID  string          `json:"session_id"`
	Ciphertext json.RawMessage `json:"ciphertext"`
}

type wireRelatesTo struct {
	RelType string     `json:"rel_type"`
	EventID ir.EventID `json:"event_id"`
	Key     string     `json:"key"`
}

var errMissingBody = errors.New("message content has no body")

func decodeContent(raw json.RawMessage) (wireContent, error) {
	var c wireContent
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return c, nil
	}
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return wireContent{}, err
	}
	return c, nil
}

func decodeMessage(raw json.RawMessage) (*ir.MessageContent, error) {
	c, err := decodeContent(raw)
	if err != nil {
		return nil, err
	}
	return messageOf(c)
}

func messageOf(c wireContent) (*ir.MessageContent, error) {
	if c.Body == nil {
		return nil, errMissingBody
	}
	return &ir.MessageContent{
		MsgType:       c.MsgType,
		Body:          *c.Body,
		Format:        c.Format,
		FormattedBody: c.FormattedBody,
	}, nil
}

func envelopeOf(c wireContent) (*ir.EncryptedEnvelope, bool) {
	if c.Algorithm == "" || len(c.Ciphertext) == 0 {
		return nil, false
	}
	ciphertext := string(c.Ciphertext)
	var s string
	if err := json.Unmarshal(c.Ciphertext, &s); err == nil {
		ciphertext = s
	}
	return &ir.EncryptedEnvelope{
		Algorithm:  c.Algorithm,
		SenderKey:  c.SenderKey,
		DeviceID:   c.DeviceID,
		SessionID:  c.SessionID,
		Ciphertext: ciphertext,
	}, true
}

// relationTypeOf maps wire and explicit relation names onto RelationType.
// Unknown names are kept verbatim.
func relationTypeOf(s string) ir.RelationType {
	switch s {
	case ir.WireRelReplace, string(ir.RelationEdit):
		return ir.RelationEdit
	case ir.WireRelAnnotation, string(ir.RelationReaction):
		return ir.RelationReaction
	case ir.EventTypeRedaction, string(ir.RelationRedaction):
		return ir.RelationRedaction
	default:
		return ir.RelationType(s)
	}
}

// normalize decodes raw into a record stamped with seq, or discards it.
//
// Redactions become recordRedaction. Edits and reactions become
// recordRelation, as do other relations on anything but a message.
// A message with a thread or reference relation is still an item and
// carries the relation. Encrypted events keep their envelope.
func normalize(raw *ir.RawEvent, seq int64) (*record, error) {
	if raw.Sender == "" {
		return nil, discard(raw, ReasonMissingSender, nil)
	}
	if raw.EventID == "" && raw.TxnID == "" {
		return nil, discard(raw, ReasonMissingIdentity, nil)
	}

	rec := &record{
		eventID:    raw.EventID,
		txnID:      raw.ConfirmsTxn(),
		sender:     raw.Sender,
		ts:         raw.Timestamp,
		seq:        seq,
		evType:     raw.Type,
		encryption: raw.Encryption,
		redactedBy: redactedBecause(raw),
	}

	c, err := decodeContent(raw.Content)
	if err != nil {
		if rec.redactedBy == nil {
			return nil, discard(raw, ReasonMalformedContent, err)
		}
		c = wireContent{}
	}

	if raw.Type == ir.EventTypeRedaction {
		return normalizeRedaction(raw, rec, c)
	}
	if raw.StateKey != nil {
		rec.kind = recordState
		rec.stateKey = *raw.StateKey
		rec.state = raw.Content
		return rec, nil
	}

	rel, reason, err := relationOf(raw, c)
	if reason != "" {
		return nil, discard(raw, reason, err)
	}
	if rel != nil && rel.typ == ir.RelationRedaction {
		rec.kind = recordRedaction
		rel.reason = c.Reason
		rec.relation = rel
		return rec, nil
	}

	if raw.Type == ir.EventTypeEncrypted {
		env, ok := envelopeOf(c)
		if !ok && rec.redactedBy == nil {
			return nil, discard(raw, ReasonMalformedContent, errors.New("encrypted content has no algorithm or ciphertext"))
		}
		rec.envelope = env
		rec.relation = rel
		if rel != nil && pureRelation(raw.Type, rel) {
			rec.kind = recordRelation
			return rec, nil
		}
		rec.kind = recordEncrypted
		rec.bundled = bundledEdit(raw, rec)
		return rec, nil
	}

	if rel != nil && pureRelation(raw.Type, rel) {
		if rec.redactedBy == nil {
			switch rel.typ {
			case ir.RelationEdit:
				if rel.newContent == nil {
					return nil, discard(raw, ReasonMissingNewContent, nil)
				}
			case ir.RelationReaction:
				if rel.key == "" {
					return nil, discard(raw, ReasonMissingReactionKey, nil)
				}
			}
		}
		rec.kind = recordRelation
		rec.relation = rel
		return rec, nil
	}

	switch raw.Type {
	case ir.EventTypeMessage:
		msg, err := messageOf(c)
		if err != nil && rec.redactedBy == nil {
			return nil, discard(raw, ReasonMalformedContent, err)
		}
		rec.kind = recordMessage
		rec.message = msg
		rec.relation = rel
	case ir.EventTypeReaction:
		return nil, discard(raw, ReasonMissingTarget, nil)
	default:
		rec.kind = recordUnsupported
	}

	rec.bundled = bundledEdit(raw, rec)
	return rec, nil
}

func normalizeRedaction(raw *ir.RawEvent, rec *record, c wireContent) (*record, error) {
	target := raw.Redacts
	if target == "" {
		target = c.Redacts
	}
	if target == "" && raw.Relation != nil {
		target = raw.Relation.EventID
	}
	if target == "" {
		return nil, discard(raw, ReasonMissingTarget, nil)
	}
	rec.kind = recordRedaction
	rec.relation = &relation{typ: ir.RelationRedaction, target: target, reason: c.Reason}
	return rec, nil
}

// relationOf reads the explicit Relation or content["m.relates_to"].
// A non-empty reason means the event must be discarded.
func relationOf(raw *ir.RawEvent, c wireContent) (*relation, DiscardReason, error) {
	if r := raw.Relation; r != nil {
		rel := &relation{typ: relationTypeOf(string(r.Type)), target: r.EventID, key: r.Key}
		if rel.target == "" && rel.typ == ir.RelationRedaction {
			rel.target = raw.Redacts
		}
		if rel.target == "" {
			return nil, ReasonMissingTarget, nil
		}
		newContent := r.NewContent
		if len(newContent) == 0 && rel.typ == ir.RelationEdit {
			newContent = c.NewContent
		}
		if len(newContent) > 0 {
			msg, err := decodeMessage(newContent)
			if err != nil {
				return nil, ReasonMalformedContent, err
			}
			rel.newContent = msg
		}
		return rel, "", nil
	}

	rt := c.RelatesTo
	if rt == nil || rt.RelType == "" {
		return nil, "", nil
	}
	if rt.EventID == "" {
		return nil, ReasonMissingTarget, nil
	}
	rel := &relation{typ: relationTypeOf(rt.RelType), target: rt.EventID, key: rt.Key}
	if rel.typ == ir.RelationEdit && len(c.NewContent) > 0 {
		msg, err := decodeMessage(c.NewContent)
		if err != nil {
			return nil, ReasonMalformedContent, err
		}
		rel.newContent = msg
	}
	return rel, "", nil
}

// pureRelation reports whether an event relating to a target renders
// only through that target.
func pureRelation(evType string, rel *relation) bool {
	switch rel.typ {
	case ir.RelationEdit, ir.RelationReaction:
		return true
	}
	return evType != ir.EventTypeMessage && evType != ir.EventTypeEncrypted
}

func redactedBecause(raw *ir.RawEvent) *redaction {
	if raw.Unsigned == nil || raw.Unsigned.RedactedBecause == nil {
		return nil
	}
	rb := raw.Unsigned.RedactedBecause
	c, _ := decodeContent(rb.Content)
	return &redaction{eventID: rb.EventID, reason: c.Reason}
}

// bundledEdit normalizes a server-bundled edit of rec, if it is one.
func bundledEdit(raw *ir.RawEvent, rec *record) *record {
	b := raw.BundledEdit()
	if b == nil || rec.eventID == "" {
		return nil
	}
	edit := *b
	if edit.Unsigned != nil {
		u := *edit.Unsigned
		u.Relations = nil
		edit.Unsigned = &u
	}
	out, err := normalize(&edit, rec.seq)
	if err != nil || out.kind != recordRelation {
		return nil
	}
	if out.relation.typ != ir.RelationEdit || out.relation.target != rec.eventID {
		return nil
	}
	return out
}

// withDecryption re-normalizes r from a decrypted payload.
//
// A relation sent in the clear is carried over when the decrypted
// payload does not repeat it.
func (r *record) withDecryption(dec ir.DecryptedEvent) (*record, error) {
	info := dec.Encryption
	if info.Sender == "" {
		info.Sender = r.sender
	}
	raw := &ir.RawEvent{
		EventID:    r.eventID,
		TxnID:      r.txnID,
		Sender:     r.sender,
		Timestamp:  r.ts,
		Type:       dec.Type,
		Content:    dec.Content,
		Encryption: &info,
	}
	if r.relation != nil {
		c, err := decodeContent(dec.Content)
		if err == nil && (c.RelatesTo == nil || c.RelatesTo.RelType == "") {
			raw.Relation = &ir.Relation{Type: r.relation.typ, EventID: r.relation.target, Key: r.relation.key}
		}
	}

	out, err := normalize(raw, r.seq)
	if err != nil {
		return nil, err
	}
	out.envelope = r.envelope
	out.decrypted = true
	out.redactedBy = r.redactedBy
	out.local = r.local
	if out.bundled == nil {
		out.bundled = r.bundled
	}
	return out, nil
}

// withFailure returns a copy of r carrying a decryption failure.
func (r *record) withFailure(f *ir.DecryptionFailure) *record {
	out := *r
	out.failure = f
	return &out
}
