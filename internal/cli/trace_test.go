package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/ir"
)

// seedJournal applies the sample commands to testRoom in a fresh journal
// and records a snapshot.
func seedJournal(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "roomline.db")
	path := writeCommandFile(t, dir, "cmds.jsonl", sampleCommands(t)...)

	_, err := runCLI(t, testOptions("text"), "--room", testRoom, "--db", dbPath, "--snapshot", path)
	require.NoError(t, err)
	return dbPath
}

func runTraceCLI(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTrace_JSON(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := runTraceCLI(t, testOptions("json"), "--db", dbPath, "--room", testRoom)
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, testRoom, resp.Data.Room)
	assert.Equal(t, int64(3), resp.Data.LastSeq)
	require.Len(t, resp.Data.Entries, 3)

	first := resp.Data.Entries[0]
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, "push_live_event", first.Kind)
	assert.Equal(t, "$1", first.Target)
	assert.Equal(t, "m.room.message from @alice:example.org", first.Summary)
	assert.Len(t, first.ID, 64)

	assert.Equal(t, "$r1", resp.Data.Entries[1].Target)
	assert.Equal(t, "push_receipt", resp.Data.Entries[2].Kind)
	assert.Equal(t, "by @carol:example.org", resp.Data.Entries[2].Summary)
}

func TestTrace_SinceAndLimit(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := runTraceCLI(t, testOptions("json"), "--db", dbPath, "--room", testRoom, "--since", "1", "--limit", "1")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Entries, 1)
	assert.Equal(t, int64(2), resp.Data.Entries[0].Seq)
	assert.Equal(t, int64(3), resp.Data.LastSeq)
}

func TestTrace_Text(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := runTraceCLI(t, testOptions("text"), "--db", dbPath, "--room", testRoom)
	require.NoError(t, err)
	assert.Contains(t, out, "Journal for "+testRoom+" (3 entries, last seq 3)")
	assert.Contains(t, out, "push_receipt")
}

func TestTrace_UnknownRoom(t *testing.T) {
	dbPath := seedJournal(t)

	out, err := runTraceCLI(t, testOptions("text"), "--db", dbPath, "--room", "!other:example.org")
	require.NoError(t, err)
	assert.Contains(t, out, "No journal entries for !other:example.org")
}

func TestTrace_MissingDatabase(t *testing.T) {
	_, err := runTraceCLI(t, testOptions("text"), "--db", filepath.Join(t.TempDir(), "nope.db"), "--room", testRoom)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestTraceEntry(t *testing.T) {
	tests := []struct {
		name    string
		cmd     ir.Command
		target  string
		summary string
	}{
		{"echo", ir.Command{Kind: ir.CommandLocalEcho, Event: &ir.RawEvent{TxnID: "t1", Type: "m.room.message", Sender: "@a:x"}}, "txn:t1", "m.room.message from @a:x"},
		{"redaction", ir.Command{Kind: ir.CommandRedaction, EventID: "$1", Reason: "spam"}, "$1", "spam"},
		{"send failure", ir.Command{Kind: ir.CommandSendFailure, TxnID: "t2", Reason: "offline"}, "txn:t2", "offline"},
		{"decryption ok", ir.Command{Kind: ir.CommandDecryption, EventID: "$e", Result: &ir.DecryptionResult{}}, "$e", "decrypted"},
		{"decryption failed", ir.Command{Kind: ir.CommandDecryption, EventID: "$e", Result: &ir.DecryptionResult{Failure: &ir.DecryptionFailure{Code: ir.FailureUnknownSession}}}, "$e", "failed: unknown_session"},
		{"clear", ir.Command{Kind: ir.CommandClearHistory}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := traceEntry(ir.JournalEntry{Seq: 7, ID: "abc", Command: tt.cmd})
			assert.Equal(t, int64(7), te.Seq)
			assert.Equal(t, string(tt.cmd.Kind), te.Kind)
			assert.Equal(t, tt.target, te.Target)
			assert.Equal(t, tt.summary, te.Summary)
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
}
