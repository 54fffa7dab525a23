package ir

import (
	"strings"
	"time"
)

// EventID is a server-assigned, globally unique event identity.
type EventID string

// TxnID is a client-assigned transaction identity for a local echo.
type TxnID string

// UserID identifies a sender or a read-receipt owner.
type UserID string

// RoomID identifies the room a timeline belongs to.
type RoomID string

// ItemKey addresses an event-backed item: the event id once known,
// otherwise the transaction id of the local echo.
type ItemKey string

// Timestamp is an origin-server timestamp in milliseconds since the Unix epoch.
type Timestamp int64

// Time converts the timestamp to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// TimestampOf converts a time.Time to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// KeyForEvent returns the item key for a confirmed event.
func KeyForEvent(id EventID) ItemKey {
	return ItemKey(id)
}

// KeyForTxn returns the item key for an unconfirmed local echo.
func KeyForTxn(id TxnID) ItemKey {
	return ItemKey(txnKeyPrefix + string(id))
}

// IsTxn reports whether the key addresses an unconfirmed local echo.
func (k ItemKey) IsTxn() bool {
	return strings.HasPrefix(string(k), txnKeyPrefix)
}

const txnKeyPrefix = "txn:"
