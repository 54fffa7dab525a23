package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/testutil"
	"github.com/roach88/roomline/internal/timeline"
)

const (
	room  = ir.RoomID("!driver:example.org")
	alice = ir.UserID("@alice:example.org")
)

func newDriver(t *testing.T, opts ...timeline.Option) *Driver {
	t.Helper()
	opts = append([]timeline.Option{
		timeline.WithTxnGenerator(testutil.NewSequentialTxnGenerator("txn")),
		timeline.WithNow(testutil.NewManualClock(testutil.Day0).Now),
		timeline.WithLogger(zerolog.Nop()),
	}, opts...)
	tl := timeline.New(room, opts...)
	d := New(tl, WithLogger(zerolog.Nop()))
	t.Cleanup(func() {
		d.Close()
		tl.Close()
	})
	return d
}

func textEvent(id ir.EventID, body string) *ir.RawEvent {
	ev := testutil.Text(id, alice, testutil.At(0), body)
	return &ev
}

// wireResponse decodes a response line; items stay raw since item
// content only marshals one way.
type wireResponse struct {
	ID    string            `json:"id"`
	OK    bool              `json:"ok"`
	Items []json.RawMessage `json:"items"`
	Error *Error            `json:"error"`
}

// serve runs lines through Serve and decodes every response.
func serve(t *testing.T, d *Driver, lines ...string) []wireResponse {
	t.Helper()
	var out strings.Builder
	require.NoError(t, d.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")), &out))

	var resps []wireResponse
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var r wireResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		resps = append(resps, r)
	}
	require.NoError(t, scanner.Err())
	return resps
}

func TestHandle_IngestAndQuery(t *testing.T) {
	d := newDriver(t)
	ctx := context.Background()

	resp := d.Handle(ctx, Request{ID: "1", Action: "push_live_event", Event: textEvent("$1", "hello")})
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Equal(t, "1", resp.ID)

	resp = d.Handle(ctx, Request{ID: "2", Action: ActionItems})
	require.True(t, resp.OK)
	require.Len(t, resp.Items, 2)
	assert.True(t, resp.Items[0].IsDayDivider())
	assert.Equal(t, ir.ItemKey("$1"), resp.Items[1].Event.Key)

	resp = d.Handle(ctx, Request{ID: "3", Action: ActionItems, Stream: StreamEvents})
	require.True(t, resp.OK)
	assert.Len(t, resp.Items, 1)

	resp = d.Handle(ctx, Request{ID: "4", Action: ActionItem, EventID: "$1"})
	require.True(t, resp.OK)
	require.Len(t, resp.Items, 1)
	msg, ok := resp.Items[0].Event.Content.(*ir.MessageContent)
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Body)

	resp = d.Handle(ctx, Request{ID: "5", Action: ActionPending})
	require.True(t, resp.OK)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 0, *resp.Count)
}

func TestHandle_LocalEcho(t *testing.T) {
	d := newDriver(t)
	ctx := context.Background()

	echo := testutil.Echo("", alice, 0, "sending")
	resp := d.Handle(ctx, Request{Action: "push_local_echo", Event: &echo})
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Equal(t, ir.TxnID("txn-1"), resp.TxnID)

	resp = d.Handle(ctx, Request{Action: ActionItem, TxnID: "txn-1"})
	require.True(t, resp.OK)
	assert.True(t, resp.Items[0].Event.IsLocal())

	resp = d.Handle(ctx, Request{Action: "cancel_local_echo", TxnID: "txn-1"})
	assert.True(t, resp.OK)

	resp = d.Handle(ctx, Request{Action: "cancel_local_echo", TxnID: "txn-1"})
	require.False(t, resp.OK)
	assert.Equal(t, CodeUnknownTransaction, resp.Error.Code)
}

func TestHandle_SubscribeAndPoll(t *testing.T) {
	d := newDriver(t)
	ctx := context.Background()

	resp := d.Handle(ctx, Request{Action: ActionSubscribe, Stream: StreamEvents, Name: "ui"})
	require.True(t, resp.OK)
	assert.Empty(t, resp.Items)
	subID := resp.Subscription
	require.NotEmpty(t, subID)

	require.True(t, d.Handle(ctx, Request{Action: "push_live_event", Event: textEvent("$1", "a")}).OK)
	require.True(t, d.Handle(ctx, Request{Action: "push_redaction", EventID: "$1"}).OK)

	resp = d.Handle(ctx, Request{Action: ActionPoll, Subscription: "ui"})
	require.True(t, resp.OK)
	require.Len(t, resp.Batches, 2)
	assert.Equal(t, []string{"push_back"}, ir.Summaries(resp.Batches[0]))
	assert.Equal(t, []string{"set 0"}, ir.Summaries(resp.Batches[1]))
	assert.Equal(t, 2, *resp.Count)

	resp = d.Handle(ctx, Request{Action: ActionPoll, Subscription: subID})
	require.True(t, resp.OK)
	assert.Empty(t, resp.Batches)
	assert.Equal(t, 0, *resp.Count)

	resp = d.Handle(ctx, Request{Action: ActionSubscribe, Stream: StreamEvents, Name: "ui"})
	require.False(t, resp.OK)
	assert.Equal(t, CodeSubscriptionExists, resp.Error.Code)

	require.True(t, d.Handle(ctx, Request{Action: ActionUnsubscribe, Subscription: subID}).OK)
	resp = d.Handle(ctx, Request{Action: ActionPoll, Subscription: subID})
	require.False(t, resp.OK)
	assert.Equal(t, CodeUnknownSubscription, resp.Error.Code)
}

func TestHandle_Errors(t *testing.T) {
	d := newDriver(t)
	ctx := context.Background()

	noSender := ir.RawEvent{EventID: "$x", Type: ir.EventTypeMessage, Content: testutil.MustJSON(map[string]any{"body": "x"})}

	tests := []struct {
		name   string
		req    Request
		code   string
		reason string
	}{
		{"missing action", Request{}, CodeMalformedRequest, ""},
		{"unknown action", Request{Action: "explode"}, CodeUnknownAction, ""},
		{"discarded", Request{Action: "push_live_event", Event: &noSender}, CodeDiscarded, "missing_sender"},
		{"live without event", Request{Action: "push_live_event"}, CodeInvalidArgument, ""},
		{"echo without event", Request{Action: "push_local_echo"}, CodeInvalidArgument, ""},
		{"decryption of unknown event", Request{
			Action:  "push_decryption_result",
			EventID: "$nope",
			Result:  &ir.DecryptionResult{Failure: &ir.DecryptionFailure{Code: ir.FailureUnknownSession}},
		}, CodeUnknownEvent, ""},
		{"retry without decryptor", Request{Action: ActionRetryDecryption}, CodeNoDecryptor, ""},
		{"bad stream", Request{Action: ActionItems, Stream: "sideways"}, CodeInvalidArgument, ""},
		{"item without id", Request{Action: ActionItem}, CodeInvalidArgument, ""},
		{"unknown item", Request{Action: ActionItem, EventID: "$404"}, CodeUnknownEvent, ""},
		{"poll without subscription", Request{Action: ActionPoll}, CodeInvalidArgument, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Handle(ctx, tt.req)
			require.False(t, resp.OK)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code, resp.Error.Message)
			assert.Equal(t, tt.reason, resp.Error.Reason)
		})
	}
}

func TestHandle_ClosedTimeline(t *testing.T) {
	tl := timeline.New(room, timeline.WithLogger(zerolog.Nop()))
	d := New(tl, WithLogger(zerolog.Nop()))
	tl.Close()

	resp := d.Handle(context.Background(), Request{Action: "push_live_event", Event: textEvent("$1", "late")})
	require.False(t, resp.OK)
	assert.Equal(t, CodeTimelineClosed, resp.Error.Code)
}

func TestServe_MalformedLinesDoNotStopTheLoop(t *testing.T) {
	d := newDriver(t)

	resps := serve(t, d,
		`{"id":"1","action":"push_live_event","event":{"event_id":"$1","sender":"@alice:example.org","origin_server_ts":1704103200000,"type":"m.room.message","content":{"msgtype":"m.text","body":"hi"}}}`,
		`this is not json`,
		``,
		`{"id":"2","action":"items","bogus":true}`,
		`{"id":"3","action":"items","stream":"events"}`,
	)

	require.Len(t, resps, 4)

	assert.True(t, resps[0].OK)
	assert.Equal(t, "1", resps[0].ID)

	assert.False(t, resps[1].OK)
	assert.Empty(t, resps[1].ID)
	assert.Equal(t, CodeMalformedRequest, resps[1].Error.Code)

	assert.False(t, resps[2].OK)
	assert.Equal(t, CodeMalformedRequest, resps[2].Error.Code)
	assert.Contains(t, resps[2].Error.Message, "bogus")

	assert.True(t, resps[3].OK)
	assert.Equal(t, "3", resps[3].ID)
	require.Len(t, resps[3].Items, 1)
	assert.Contains(t, string(resps[3].Items[0]), `"body":"hi"`)
}

func TestServe_StopsOnCancel(t *testing.T) {
	d := newDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out strings.Builder
	err := d.Serve(ctx, strings.NewReader(`{"action":"pending"}`+"\n"), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

func TestError_Format(t *testing.T) {
	assert.Equal(t, "unknown_action: nope", (&Error{Code: CodeUnknownAction, Message: "nope"}).Error())
	assert.Equal(t, "discarded (missing_sender): event $1 discarded",
		(&Error{Code: CodeDiscarded, Reason: "missing_sender", Message: "event $1 discarded"}).Error())
}
