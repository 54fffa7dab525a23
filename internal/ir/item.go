package ir

import "fmt"

// UniqueID is the stable identity of a timeline item, independent of position.
// An item keeps its UniqueID across every in-place replacement.
type UniqueID uint64

// ItemKind distinguishes event-backed items from virtual ones.
type ItemKind string

const (
	ItemEvent   ItemKind = "event"
	ItemVirtual ItemKind = "virtual"
)

// TimelineItem is Event(EventItem) | Virtual(VirtualItem).
//
// Items are values owned by the projection. They are replaced, never
// mutated, so a TimelineItem handed to a subscriber stays valid forever.
type TimelineItem struct {
	ID      UniqueID     `json:"id"`
	Event   *EventItem   `json:"event,omitempty"`
	Virtual *VirtualItem `json:"virtual,omitempty"`
}

// Kind returns the variant of the item.
func (i TimelineItem) Kind() ItemKind {
	if i.Event != nil {
		return ItemEvent
	}
	return ItemVirtual
}

// IsEvent reports whether the item is event-backed.
func (i TimelineItem) IsEvent() bool {
	return i.Event != nil
}

// String renders a short human-readable description.
func (i TimelineItem) String() string {
	if i.Event != nil {
		return fmt.Sprintf("#%d %s %s", i.ID, i.Event.Key, i.Event.Content.Kind())
	}
	if i.Virtual != nil {
		if i.Virtual.Date != "" {
			return fmt.Sprintf("#%d %s %s", i.ID, i.Virtual.Kind, i.Virtual.Date)
		}
		return fmt.Sprintf("#%d %s", i.ID, i.Virtual.Kind)
	}
	return fmt.Sprintf("#%d <empty>", i.ID)
}

// EventItem is the renderable state of one event.
type EventItem struct {
	Key          ItemKey         `json:"key"`
	EventID      EventID         `json:"event_id,omitempty"`
	TxnID        TxnID           `json:"txn_id,omitempty"`
	Sender       UserID          `json:"sender"`
	Timestamp    Timestamp       `json:"origin_server_ts"`
	Content      ItemContent     `json:"content"`
	Encryption   *EncryptionInfo `json:"encryption,omitempty"`
	Reactions    []ReactionGroup `json:"reactions,omitempty"`
	ReadReceipts []Receipt       `json:"read_receipts,omitempty"`
	SendState    *SendState      `json:"send_state,omitempty"`
}

// IsLocal reports whether the item originated from a local echo.
func (e *EventItem) IsLocal() bool {
	return e.SendState != nil
}

// ReactionGroup holds every sender that reacted with one key.
type ReactionGroup struct {
	Key     string           `json:"key"`
	Senders []ReactionSender `json:"senders"`
}

// ReactionSender is one (key, sender) entry of the reaction multiset.
type ReactionSender struct {
	Sender    UserID    `json:"sender"`
	EventID   EventID   `json:"event_id"`
	Timestamp Timestamp `json:"origin_server_ts"`
}

// Receipt is a user's read receipt on an item.
type Receipt struct {
	User      UserID    `json:"user"`
	Timestamp Timestamp `json:"ts"`
}

// SendStateKind is the delivery state of a local echo.
type SendStateKind string

const (
	SendNotSentYet    SendStateKind = "not_sent_yet"
	SendSendingFailed SendStateKind = "sending_failed"
	SendSent          SendStateKind = "sent"
)

// SendState tracks a local echo from optimistic display to confirmation.
type SendState struct {
	Kind    SendStateKind `json:"kind"`
	Error   string        `json:"error,omitempty"`
	EventID EventID       `json:"event_id,omitempty"`
}

// VirtualKind distinguishes virtual items.
type VirtualKind string

const (
	VirtualDayDivider VirtualKind = "day_divider"
	VirtualReadMarker VirtualKind = "read_marker"
)

// VirtualItem is a synthetic item maintained by the timeline itself.
// Virtual items never carry relation metadata.
type VirtualItem struct {
	Kind VirtualKind `json:"kind"`
	Date string      `json:"date,omitempty"` // YYYY-MM-DD in display location
}

// DayDivider returns a divider for the given calendar date.
func DayDivider(date string) *VirtualItem {
	return &VirtualItem{Kind: VirtualDayDivider, Date: date}
}

// ReadMarker returns the fully-read marker.
func ReadMarker() *VirtualItem {
	return &VirtualItem{Kind: VirtualReadMarker}
}

// IsDayDivider reports whether the item is a day divider.
func (i TimelineItem) IsDayDivider() bool {
	return i.Virtual != nil && i.Virtual.Kind == VirtualDayDivider
}

// IsReadMarker reports whether the item is the read marker.
func (i TimelineItem) IsReadMarker() bool {
	return i.Virtual != nil && i.Virtual.Kind == VirtualReadMarker
}

// Label names the item the way scenario layouts and traces refer to it:
// the item key for events, "day:<date>" for dividers, the kind otherwise.
func (i TimelineItem) Label() string {
	switch {
	case i.Event != nil:
		return string(i.Event.Key)
	case i.IsDayDivider():
		return "day:" + i.Virtual.Date
	case i.Virtual != nil:
		return string(i.Virtual.Kind)
	}
	return ""
}
