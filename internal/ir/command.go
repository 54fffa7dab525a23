package ir

// CommandKind names an ingestion command.
type CommandKind string

const (
	CommandLiveEvent    CommandKind = "push_live_event"
	CommandLocalEcho    CommandKind = "push_local_echo"
	CommandRedaction    CommandKind = "push_redaction"
	CommandDecryption   CommandKind = "push_decryption_result"
	CommandReceipt      CommandKind = "push_receipt"
	CommandFullyRead    CommandKind = "mark_fully_read"
	CommandSendFailure  CommandKind = "push_send_failure"
	CommandCancelEcho   CommandKind = "cancel_local_echo"
	CommandClearHistory CommandKind = "clear"
)

// Command is one ingestion request against a timeline.
// It is the unit of the run queue and of the journal.
type Command struct {
	Kind      CommandKind       `json:"kind"`
	Event     *RawEvent         `json:"event,omitempty"`
	EventID   EventID           `json:"event_id,omitempty"`
	TxnID     TxnID             `json:"txn_id,omitempty"`
	User      UserID            `json:"user,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp Timestamp         `json:"ts,omitempty"`
	Result    *DecryptionResult `json:"result,omitempty"`
}

// JournalEntry is a command recorded against a room at a logical seq.
type JournalEntry struct {
	ID      string  `json:"id"`
	Seq     int64   `json:"seq"`
	RoomID  RoomID  `json:"room_id"`
	Command Command `json:"command"`
	Version string  `json:"version"`
}
