package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/store"
	"github.com/roach88/roomline/internal/timeline"
)

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func sampleTrace() []StepTrace {
	return []StepTrace{
		{Step: 0, Do: "push_live_event", All: []string{"push_back", "push_front"}, Events: []string{"push_back"}},
		{Step: 1, Do: "push_live_event", All: []string{"set 1"}, Events: []string{"set 0"}},
		{Step: 2, Do: "push_redaction", All: []string{"set 1"}, Events: []string{"set 0"}},
		{Step: 3, Do: "push_live_event", All: []string{}, Events: []string{}},
	}
}

func TestAssertOpCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertOpCount(trace, Assertion{Type: AssertOpCount, Op: "set", Count: intPtr(2)}))
	assert.NoError(t, assertOpCount(trace, Assertion{Type: AssertOpCount, Op: "push_front", Count: intPtr(0), Stream: "events"}))

	err := assertOpCount(trace, Assertion{Type: AssertOpCount, Op: "remove", Count: intPtr(1)})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertOpCount, ae.Type)
	assert.Equal(t, "1 remove ops on the all stream", ae.Expected)
	assert.Equal(t, "0", ae.Actual)
}

func TestAssertIdle(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertIdle(trace, Assertion{Type: AssertIdle, After: intPtr(2)}))

	err := assertIdle(trace, Assertion{Type: AssertIdle, After: intPtr(1), Stream: "events"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "step 2 (push_redaction) published [set 0]", ae.Actual)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertLayout,
		Expected: "all stream [$1]",
		Actual:   "[]",
		Trace:    []StepTrace{{Step: 0, Do: "clear", All: []string{"clear"}, Error: "boom"}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: layout")
	assert.Contains(t, msg, "Expected: all stream [$1]")
	assert.Contains(t, msg, "Actual: []")
	assert.Contains(t, msg, `[0] clear all=[clear] events=[] error="boom"`)
}

// assertionFixture builds a journaled timeline with one edited message
// carrying a reaction and a receipt.
func assertionFixture(t *testing.T) (*Result, *AssertionContext) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tl := timeline.New(DefaultRoom, timeline.WithJournal(st, 0))
	t.Cleanup(tl.Close)

	steps := []Step{
		{Do: "push_live_event", Event: messageEvent("$1", "hello", 1704103200000)},
		{Do: "push_live_event", Event: map[string]any{
			"event_id":         "$e1",
			"sender":           "@alice:example.org",
			"origin_server_ts": int64(1704103260000),
			"type":             "m.room.message",
			"content": map[string]any{
				"msgtype":       "m.text",
				"body":          "* hello!",
				"m.new_content": map[string]any{"msgtype": "m.text", "body": "hello!"},
				"m.relates_to":  map[string]any{"rel_type": "m.replace", "event_id": "$1"},
			},
		}},
		{Do: "push_live_event", Event: map[string]any{
			"event_id":         "$r1",
			"sender":           "@bob:example.org",
			"origin_server_ts": int64(1704103270000),
			"type":             "m.reaction",
			"content": map[string]any{
				"m.relates_to": map[string]any{"rel_type": "m.annotation", "event_id": "$1", "key": "+1"},
			},
		}},
		{Do: "push_receipt", User: "@carol:example.org", EventID: "$1", Timestamp: 1704103300000},
	}
	for _, s := range steps {
		cmd, err := s.command()
		require.NoError(t, err)
		require.NoError(t, tl.Apply(ctx, cmd))
	}

	result := NewResult()
	result.Layout = labels(tl.CurrentItems())
	return result, &AssertionContext{
		Ctx:      ctx,
		Timeline: tl,
		Store:    st,
		Mirrors: map[string][]ir.TimelineItem{
			"all":    tl.CurrentItems(),
			"events": tl.CurrentEventItems(),
		},
	}
}

func TestAssertItem(t *testing.T) {
	result, actx := assertionFixture(t)
	edited := true

	ok := Assertion{
		Type:         AssertItem,
		ID:           "$1",
		Kind:         "message",
		Body:         strPtr("hello!"),
		Edited:       &edited,
		Reactions:    map[string]int{"+1": 1},
		Receipts:     []string{"@carol:example.org"},
		SendState:    "none",
		Verification: "none",
	}
	assert.NoError(t, assertItem(result.Trace, ok, actx))

	tests := []struct {
		name   string
		a      Assertion
		actual string
	}{
		{"absent", Assertion{ID: "$404"}, "no such item"},
		{"kind", Assertion{ID: "$1", Kind: "redacted"}, "message"},
		{"body", Assertion{ID: "$1", Body: strPtr("hello")}, `body "hello!"`},
		{"reactions", Assertion{ID: "$1", Reactions: map[string]int{}}, "reactions map[+1:1]"},
		{"receipts", Assertion{ID: "$1", Receipts: []string{}}, "receipts [@carol:example.org]"},
		{"send state", Assertion{ID: "$1", SendState: "sent"}, "send state none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertItem
			err := assertItem(result.Trace, tt.a, actx)
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.actual, ae.Actual)
		})
	}
}

func TestAssertLayoutAndPending(t *testing.T) {
	result, actx := assertionFixture(t)

	assert.NoError(t, assertLayout(result.Trace, Assertion{Items: []string{"day:2024-01-01", "$1"}}, actx))
	assert.NoError(t, assertLayout(result.Trace, Assertion{Stream: "events", Items: []string{"$1"}}, actx))
	assert.Error(t, assertLayout(result.Trace, Assertion{Items: []string{"$1"}}, actx))

	assert.NoError(t, assertPendingTargets(result.Trace, Assertion{Count: intPtr(0)}, actx))
	assert.Error(t, assertPendingTargets(result.Trace, Assertion{Count: intPtr(1)}, actx))
}

func TestAssertReplay(t *testing.T) {
	result, actx := assertionFixture(t)
	assert.NoError(t, assertReplay(result.Trace, actx))
}

func TestEvaluateAssertions_CollectsAll(t *testing.T) {
	result, actx := assertionFixture(t)

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertPendingTargets, Count: intPtr(3)},
		{Type: AssertReplay},
		{Type: "vibes"},
	}, actx)

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertions[0]:")
	assert.Contains(t, errs[1], "assertions[2]: unknown assertion type: vibes")
}
