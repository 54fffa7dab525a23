package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/config"
	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/testutil"
)

const testRoom = "!cli:example.org"

func testOptions(format string) *RootOptions {
	return &RootOptions{Format: format, Config: config.DefaultConfig()}
}

func commandLine(t *testing.T, c ir.Command) string {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	return string(data)
}

func writeCommandFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// sampleCommands yields one message, one discard, one reaction, one
// malformed line and one receipt: three of them apply.
func sampleCommands(t *testing.T) []string {
	noSender := testutil.Text("$nosender", "", testutil.At(time.Minute), "orphan")
	text := testutil.Text("$1", "@alice:example.org", testutil.At(0), "hello")
	reaction := testutil.Reaction("$r1", "@bob:example.org", testutil.At(2*time.Minute), "$1", "+1")

	return []string{
		commandLine(t, ir.Command{Kind: ir.CommandLiveEvent, Event: &text}),
		commandLine(t, ir.Command{Kind: ir.CommandLiveEvent, Event: &noSender}),
		"",
		commandLine(t, ir.Command{Kind: ir.CommandLiveEvent, Event: &reaction}),
		`{"kind":`,
		commandLine(t, ir.Command{Kind: ir.CommandReceipt, EventID: "$1", User: "@carol:example.org", Timestamp: testutil.At(3 * time.Minute)}),
	}
}

func runCLI(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRunMissingRoomFlag(t *testing.T) {
	path := writeCommandFile(t, t.TempDir(), "cmds.jsonl", sampleCommands(t)...)

	_, err := runCLI(t, testOptions("text"), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "room")
}

func TestRunMissingFile(t *testing.T) {
	_, err := runCLI(t, testOptions("text"), "--room", testRoom, filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open command file")
}

func TestRunAppliesCommands_JSON(t *testing.T) {
	path := writeCommandFile(t, t.TempDir(), "cmds.jsonl", sampleCommands(t)...)

	out, err := runCLI(t, testOptions("json"), "--room", testRoom, path)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	r := resp.Data
	assert.Equal(t, testRoom, r.Room)
	assert.Equal(t, 5, r.Commands, "blank lines are skipped")
	assert.Equal(t, 3, r.Applied)
	assert.Equal(t, map[string]int{"missing_sender": 1}, r.Discarded)
	require.Len(t, r.Rejected, 1)
	assert.Contains(t, r.Rejected[0], "line 5")
	assert.Equal(t, []string{"day:2024-01-01", "$1"}, r.Layout)
	assert.Equal(t, 2, r.Items)
	assert.Equal(t, 0, r.Pending)
	assert.Len(t, r.Hash, 64)
	assert.Nil(t, r.Snapshot)
}

func TestRunAppliesCommands_Text(t *testing.T) {
	path := writeCommandFile(t, t.TempDir(), "cmds.jsonl", sampleCommands(t)...)

	out, err := runCLI(t, testOptions("text"), "--room", testRoom, path)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 3 of 5 commands")
	assert.Contains(t, out, "discarded missing_sender: 1")
	assert.Contains(t, out, "rejected line 5")
	assert.Contains(t, out, "[0] day:2024-01-01")
	assert.Contains(t, out, "[1] $1")
}

func TestRunSnapshotNeedsJournal(t *testing.T) {
	path := writeCommandFile(t, t.TempDir(), "cmds.jsonl", sampleCommands(t)...)

	_, err := runCLI(t, testOptions("text"), "--room", testRoom, "--snapshot", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--snapshot needs a journal")
}

func TestRunJournalsAndResumes(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "roomline.db")
	first := writeCommandFile(t, dir, "first.jsonl", sampleCommands(t)...)

	out, err := runCLI(t, testOptions("json"), "--room", testRoom, "--db", dbPath, "--snapshot", first)
	require.NoError(t, err)

	var resp struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Data.Snapshot)
	assert.Equal(t, int64(3), resp.Data.Snapshot.Seq, "only applied commands are journaled")
	assert.Equal(t, resp.Data.Hash, resp.Data.Snapshot.Hash)

	reply := testutil.Text("$2", "@bob:example.org", testutil.At(24*time.Hour), "next day")
	second := writeCommandFile(t, dir, "second.jsonl", commandLine(t, ir.Command{Kind: ir.CommandLiveEvent, Event: &reply}))

	out, err = runCLI(t, testOptions("json"), "--room", testRoom, "--db", dbPath, second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Applied)
	assert.Equal(t, []string{"day:2024-01-01", "$1", "day:2024-01-02", "$2"}, resp.Data.Layout)
}
