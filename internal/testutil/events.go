package testutil

import (
	"encoding/json"
	"time"

	"github.com/roach88/roomline/internal/ir"
)

// Day0 is the reference instant used by fixtures: 2024-01-01T10:00:00Z.
var Day0 = time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)

// At returns Day0 shifted by d as a protocol timestamp.
func At(d time.Duration) ir.Timestamp {
	return ir.TimestampOf(Day0.Add(d))
}

// MustJSON marshals v or panics. For fixtures only.
func MustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Text builds an m.room.message.
func Text(id ir.EventID, sender ir.UserID, ts ir.Timestamp, body string) ir.RawEvent {
	return ir.RawEvent{
		EventID:   id,
		Sender:    sender,
		Timestamp: ts,
		Type:      ir.EventTypeMessage,
		Content:   MustJSON(map[string]any{"msgtype": "m.text", "body": body}),
	}
}

// Echo builds a local echo of a text message.
func Echo(txn ir.TxnID, sender ir.UserID, ts ir.Timestamp, body string) ir.RawEvent {
	ev := Text("", sender, ts, body)
	ev.TxnID = txn
	return ev
}

// Confirm turns ev into the remote echo of txn.
func Confirm(ev ir.RawEvent, id ir.EventID, txn ir.TxnID) ir.RawEvent {
	ev.EventID = id
	ev.TxnID = ""
	ev.Unsigned = &ir.Unsigned{TransactionID: txn}
	return ev
}

// Edit builds an m.replace edit of target.
func Edit(id ir.EventID, sender ir.UserID, ts ir.Timestamp, target ir.EventID, body string) ir.RawEvent {
	return ir.RawEvent{
		EventID:   id,
		Sender:    sender,
		Timestamp: ts,
		Type:      ir.EventTypeMessage,
		Content: MustJSON(map[string]any{
			"msgtype":       "m.text",
			"body":          "* " + body,
			"m.new_content": map[string]any{"msgtype": "m.text", "body": body},
			"m.relates_to":  map[string]any{"rel_type": ir.WireRelReplace, "event_id": target},
		}),
	}
}

// ThreadReply builds a text message in the thread rooted at root.
func ThreadReply(id ir.EventID, sender ir.UserID, ts ir.Timestamp, root ir.EventID, body string) ir.RawEvent {
	ev := Text(id, sender, ts, body)
	ev.Content = MustJSON(map[string]any{
		"msgtype":      "m.text",
		"body":         body,
		"m.relates_to": map[string]any{"rel_type": "m.thread", "event_id": root},
	})
	return ev
}

// Reaction builds an m.reaction annotation of target.
func Reaction(id ir.EventID, sender ir.UserID, ts ir.Timestamp, target ir.EventID, key string) ir.RawEvent {
	return ir.RawEvent{
		EventID:   id,
		Sender:    sender,
		Timestamp: ts,
		Type:      ir.EventTypeReaction,
		Content: MustJSON(map[string]any{
			"m.relates_to": map[string]any{"rel_type": ir.WireRelAnnotation, "event_id": target, "key": key},
		}),
	}
}

// Redaction builds an m.room.redaction of target.
func Redaction(id ir.EventID, sender ir.UserID, ts ir.Timestamp, target ir.EventID, reason string) ir.RawEvent {
	content := map[string]any{}
	if reason != "" {
		content["reason"] = reason
	}
	return ir.RawEvent{
		EventID:   id,
		Sender:    sender,
		Timestamp: ts,
		Type:      ir.EventTypeRedaction,
		Redacts:   target,
		Content:   MustJSON(content),
	}
}

// Encrypted builds an m.room.encrypted event for session.
func Encrypted(id ir.EventID, sender ir.UserID, ts ir.Timestamp, session string) ir.RawEvent {
	return ir.RawEvent{
		EventID:   id,
		Sender:    sender,
		Timestamp: ts,
		Type:      ir.EventTypeEncrypted,
		Content: MustJSON(map[string]any{
			"algorithm":  "m.megolm.v1.aes-sha2",
			"sender_key": "sk",
			"device_id":  "DEV",
			"session_id": session,
			"ciphertext": "opaque",
		}),
	}
}

// EncryptedEdit builds an encrypted edit whose relation is in the clear.
func EncryptedEdit(id ir.EventID, sender ir.UserID, ts ir.Timestamp, target ir.EventID, session string) ir.RawEvent {
	ev := Encrypted(id, sender, ts, session)
	ev.Content = MustJSON(map[string]any{
		"algorithm":    "m.megolm.v1.aes-sha2",
		"session_id":   session,
		"ciphertext":   "opaque",
		"m.relates_to": map[string]any{"rel_type": ir.WireRelReplace, "event_id": target},
	})
	return ev
}

// DecryptedText is the decryption of a text message.
func DecryptedText(body string, v ir.VerificationState) ir.DecryptedEvent {
	return ir.DecryptedEvent{
		Type:    ir.EventTypeMessage,
		Content: MustJSON(map[string]any{"msgtype": "m.text", "body": body}),
		Encryption: ir.EncryptionInfo{
			SenderDevice: "DEV",
			Algorithm:    ir.AlgorithmInfo{Name: "m.megolm.v1.aes-sha2"},
			Verification: v,
		},
	}
}

// DecryptedEdit is the decryption of an edit of target.
func DecryptedEdit(target ir.EventID, body string, v ir.VerificationState) ir.DecryptedEvent {
	ev := DecryptedText("* "+body, v)
	ev.Content = MustJSON(map[string]any{
		"msgtype":       "m.text",
		"body":          "* " + body,
		"m.new_content": map[string]any{"msgtype": "m.text", "body": body},
		"m.relates_to":  map[string]any{"rel_type": ir.WireRelReplace, "event_id": target},
	})
	return ev
}

// State builds a state event.
func State(id ir.EventID, sender ir.UserID, ts ir.Timestamp, typ, stateKey string, content any) ir.RawEvent {
	return ir.RawEvent{
		EventID:   id,
		Sender:    sender,
		Timestamp: ts,
		Type:      typ,
		StateKey:  &stateKey,
		Content:   MustJSON(content),
	}
}
