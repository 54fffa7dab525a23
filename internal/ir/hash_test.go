package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, hashWithDomain(DomainJournal, data), hashWithDomain(DomainSnapshot, data))
	assert.Len(t, hashWithDomain(DomainJournal, data), 64)
}

func TestJournalEntryIDDeterministic(t *testing.T) {
	cmd := Command{
		Kind: CommandLiveEvent,
		Event: &RawEvent{
			EventID:   "$1",
			Sender:    "@alice:example.org",
			Timestamp: 1700000000000,
			Type:      EventTypeMessage,
			Content:   json.RawMessage(`{"msgtype":"m.text","body":"hi"}`),
		},
	}

	id1, err := JournalEntryID("!room:example.org", 1, cmd)
	require.NoError(t, err)
	id2, err := JournalEntryID("!room:example.org", 1, cmd)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// Key order inside content must not change identity.
	reordered := cmd
	ev := *cmd.Event
	ev.Content = json.RawMessage(`{"body":"hi","msgtype":"m.text"}`)
	reordered.Event = &ev
	assert.Equal(t, id1, MustJournalEntryID("!room:example.org", 1, reordered))

	assert.NotEqual(t, id1, MustJournalEntryID("!room:example.org", 2, cmd))
	assert.NotEqual(t, id1, MustJournalEntryID("!other:example.org", 1, cmd))
}

func TestJournalEntryIDRejectsFloatContent(t *testing.T) {
	cmd := Command{
		Kind: CommandLiveEvent,
		Event: &RawEvent{
			EventID: "$1",
			Sender:  "@alice:example.org",
			Type:    EventTypeMessage,
			Content: json.RawMessage(`{"ratio":0.5}`),
		},
	}

	_, err := JournalEntryID("!room:example.org", 1, cmd)
	assert.Error(t, err)
}

func TestSnapshotHashTracksContent(t *testing.T) {
	a := []TimelineItem{eventItem(1, "$a")}
	b := []TimelineItem{eventItem(1, "$b")}

	ha, err := SnapshotHash(a)
	require.NoError(t, err)
	hb, err := SnapshotHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	again, err := SnapshotHash([]TimelineItem{eventItem(1, "$a")})
	require.NoError(t, err)
	assert.Equal(t, ha, again)
}

func TestVerificationStateString(t *testing.T) {
	assert.Equal(t, "verified", Verified().String())
	assert.Equal(t, "unverified(unverified_identity)", Unverified(UnverifiedIdentity).String())
}

func TestDecryptionResultValidate(t *testing.T) {
	assert.NoError(t, Decrypted(DecryptedEvent{Type: EventTypeMessage}).Validate())
	assert.NoError(t, Failed(FailureUnknownSession, "").Validate())
	assert.Error(t, DecryptionResult{}.Validate())
}

func TestItemKeys(t *testing.T) {
	assert.False(t, KeyForEvent("$1").IsTxn())
	assert.True(t, KeyForTxn("t1").IsTxn())
	assert.NotEqual(t, KeyForEvent("t1"), KeyForTxn("t1"))
}

func TestItemLabel(t *testing.T) {
	assert.Equal(t, "$1", TimelineItem{Event: &EventItem{Key: KeyForEvent("$1")}}.Label())
	assert.Equal(t, "txn:t1", TimelineItem{Event: &EventItem{Key: KeyForTxn("t1")}}.Label())
	assert.Equal(t, "day:2024-01-01", TimelineItem{Virtual: DayDivider("2024-01-01")}.Label())
	assert.Equal(t, "read_marker", TimelineItem{Virtual: ReadMarker()}.Label())
	assert.Empty(t, TimelineItem{}.Label())
}
