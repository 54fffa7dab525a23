package timeline

import (
	"fmt"

	"github.com/roach88/roomline/internal/ir"
)

// build renders the event item for rec given its aggregation.
//
// A tombstone wins over everything: content becomes Redacted and
// reactions are hidden. Otherwise message content folds in the winning
// edit, and an undecrypted winning edit makes the item UnableToDecrypt.
// Encryption info comes from the winning edit when it has any.
func build(rec *record, g *aggregation, receipts []ir.Receipt, send *ir.SendState) *ir.EventItem {
	item := &ir.EventItem{
		Key:          rec.key(),
		EventID:      rec.eventID,
		TxnID:        rec.txnID,
		Sender:       rec.sender,
		Timestamp:    rec.ts,
		Encryption:   rec.encryption,
		ReadReceipts: receipts,
		SendState:    send,
	}

	if red := tombstoneOf(rec, g); red != nil {
		item.Content = &ir.RedactedContent{Reason: red.reason}
		return item
	}

	switch rec.kind {
	case recordMessage:
		item.Content = foldEdit(rec, g.winningEdit(rec.sender), item)
	case recordEncrypted:
		item.Content = utdContent(rec)
	case recordState:
		item.Content = &ir.StateContent{EventType: rec.evType, StateKey: rec.stateKey, Content: rec.state}
	case recordUnsupported:
		item.Content = &ir.UnsupportedContent{EventType: rec.evType}
	default:
		panic(fmt.Sprintf("timeline: build called on %s record", rec.kind))
	}

	item.Reactions = g.reactionGroups()
	return item
}

func tombstoneOf(rec *record, g *aggregation) *redaction {
	if g != nil && g.tombstone != nil {
		return g.tombstone
	}
	return rec.redactedBy
}

func foldEdit(rec *record, edit *record, item *ir.EventItem) ir.ItemContent {
	if edit == nil {
		msg := *rec.message
		return &msg
	}
	if edit.encryption != nil {
		item.Encryption = edit.encryption
	}
	if edit.undecrypted() || edit.relation.newContent == nil {
		return utdContent(edit)
	}
	msg := *edit.relation.newContent
	msg.Edited = true
	return &msg
}

func utdContent(rec *record) ir.ItemContent {
	c := &ir.UnableToDecryptContent{Failure: rec.failure}
	if rec.envelope != nil {
		c.Algorithm = rec.envelope.Algorithm
		c.SessionID = rec.envelope.SessionID
	}
	return c
}
