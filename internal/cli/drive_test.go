package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/driver"
	"github.com/roach88/roomline/internal/testutil"
)

type driveResponse struct {
	ID           string            `json:"id"`
	OK           bool              `json:"ok"`
	TxnID        string            `json:"txn_id"`
	Subscription string            `json:"subscription"`
	Items        []json.RawMessage `json:"items"`
	Count        *int              `json:"count"`
	Error        *driver.Error     `json:"error"`
}

func driveCLI(t *testing.T, opts *RootOptions, input string, args ...string) []driveResponse {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewDriveCommand(opts)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())

	var responses []driveResponse
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var r driveResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r), scanner.Text())
		responses = append(responses, r)
	}
	return responses
}

func request(t *testing.T, req driver.Request) string {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return string(data)
}

func TestDrive_Session(t *testing.T) {
	text := testutil.Text("$1", "@alice:example.org", testutil.At(0), "hello")
	echo := testutil.Echo("", "@alice:example.org", testutil.At(time.Minute), "sending")

	input := strings.Join([]string{
		request(t, driver.Request{ID: "1", Action: driver.ActionSubscribe, Stream: driver.StreamEvents, Name: "ui"}),
		request(t, driver.Request{ID: "2", Action: "push_live_event", Event: &text}),
		request(t, driver.Request{ID: "3", Action: "push_local_echo", Event: &echo}),
		request(t, driver.Request{ID: "4", Action: driver.ActionPoll, Subscription: "ui"}),
		request(t, driver.Request{ID: "5", Action: driver.ActionItems, Stream: driver.StreamAll}),
		request(t, driver.Request{ID: "6", Action: driver.ActionPending}),
		`not json`,
		request(t, driver.Request{ID: "8", Action: "push_redaction"}),
	}, "\n") + "\n"

	responses := driveCLI(t, testOptions("text"), input, "--room", testRoom)
	require.Len(t, responses, 8)

	assert.True(t, responses[0].OK)
	assert.NotEmpty(t, responses[0].Subscription)

	assert.True(t, responses[1].OK)
	assert.True(t, responses[2].OK)
	assert.NotEmpty(t, responses[2].TxnID)

	assert.Equal(t, "4", responses[3].ID)
	assert.True(t, responses[3].OK)
	assert.Equal(t, responses[0].Subscription, responses[3].Subscription, "poll by name")
	require.NotNil(t, responses[3].Count)
	assert.Equal(t, 2, *responses[3].Count, "one batch per applied command")

	assert.Len(t, responses[4].Items, 3, "day divider, message, echo")
	require.NotNil(t, responses[5].Count)
	assert.Equal(t, 0, *responses[5].Count)

	assert.False(t, responses[6].OK)
	require.NotNil(t, responses[6].Error)
	assert.Equal(t, driver.CodeMalformedRequest, responses[6].Error.Code)

	assert.Equal(t, "8", responses[7].ID)
	assert.False(t, responses[7].OK)
	require.NotNil(t, responses[7].Error)
	assert.Equal(t, driver.CodeInvalidArgument, responses[7].Error.Code)
}

func TestDrive_JournalsToDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "roomline.db")
	text := testutil.Text("$1", "@alice:example.org", testutil.At(0), "hello")

	responses := driveCLI(t, testOptions("text"),
		request(t, driver.Request{ID: "1", Action: "push_live_event", Event: &text})+"\n",
		"--room", testRoom, "--db", dbPath)
	require.Len(t, responses, 1)
	require.True(t, responses[0].OK)

	out, err := runTraceCLI(t, testOptions("json"), "--db", dbPath, "--room", testRoom)
	require.NoError(t, err)
	assert.Contains(t, out, `"last_seq": 1`)
}

func TestDrive_MissingRoom(t *testing.T) {
	cmd := NewDriveCommand(testOptions("text"))
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
