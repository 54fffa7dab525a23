package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/roomline/internal/ir"
	tu "github.com/roach88/roomline/internal/testutil"
)

const testRoom ir.RoomID = "!room:example.org"

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry builds a live-event entry at seq with its content-addressed id.
func createTestEntry(room ir.RoomID, seq int64, id ir.EventID, body string) ir.JournalEntry {
	ev := tu.Text(id, "@alice:example.org", ir.Timestamp(1_700_000_000_000+seq), body)
	cmd := ir.Command{Kind: ir.CommandLiveEvent, Event: &ev}
	return ir.JournalEntry{
		ID:      ir.MustJournalEntryID(room, seq, cmd),
		Seq:     seq,
		RoomID:  room,
		Command: cmd,
		Version: ir.JournalVersion,
	}
}
