package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/store"
	"github.com/roach88/roomline/internal/timeline"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []StepTrace // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, st := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s all=%v events=%v", st.Step, st.Do, st.All, st.Events)
			if st.Error != "" {
				fmt.Fprintf(&buf, " error=%q", st.Error)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// AssertionContext provides what assertions inspect besides the trace.
type AssertionContext struct {
	Ctx      context.Context
	Timeline *timeline.Timeline
	Store    *store.Store

	// Mirrors holds the subscriber-side items of each stream by name.
	Mirrors map[string][]ir.TimelineItem

	// Replay configures the timeline rebuilt from the journal.
	Replay []timeline.Option
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. It does not stop at the first failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertLayout:
		return assertLayout(result.Trace, a, actx)
	case AssertItem:
		return assertItem(result.Trace, a, actx)
	case AssertOpCount:
		return assertOpCount(result.Trace, a)
	case AssertIdle:
		return assertIdle(result.Trace, a)
	case AssertPendingTargets:
		return assertPendingTargets(result.Trace, a, actx)
	case AssertReplay:
		return assertReplay(result.Trace, actx)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func streamOf(a Assertion) string {
	if a.Stream == "" {
		return "all"
	}
	return a.Stream
}

// opsOn returns the summaries one step published on stream.
func opsOn(st StepTrace, stream string) []string {
	if stream == "events" {
		return st.Events
	}
	return st.All
}

// assertLayout compares the item labels of a stream mirror.
func assertLayout(trace []StepTrace, a Assertion, actx *AssertionContext) error {
	stream := streamOf(a)
	got := labels(actx.Mirrors[stream])
	if slices.Equal(got, a.Items) {
		return nil
	}
	return &AssertionError{
		Type:     AssertLayout,
		Expected: fmt.Sprintf("%s stream %v", stream, a.Items),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    trace,
	}
}

// assertItem checks the fields an item assertion sets.
func assertItem(trace []StepTrace, a Assertion, actx *AssertionContext) error {
	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     AssertItem,
			Expected: fmt.Sprintf("%s %s", a.ID, expected),
			Actual:   actual,
			Trace:    trace,
		}
	}

	item, ok := actx.Timeline.Item(a.ID)
	if !ok || item.Event == nil {
		return fail("present", "no such item")
	}
	ev := item.Event

	if a.Kind != "" && string(ev.Content.Kind()) != a.Kind {
		return fail("kind "+a.Kind, string(ev.Content.Kind()))
	}

	msg, isMessage := ev.Content.(*ir.MessageContent)
	if a.Body != nil {
		if !isMessage {
			return fail(fmt.Sprintf("body %q", *a.Body), "content "+string(ev.Content.Kind()))
		}
		if msg.Body != *a.Body {
			return fail(fmt.Sprintf("body %q", *a.Body), fmt.Sprintf("body %q", msg.Body))
		}
	}
	if a.FormattedBody != nil {
		got := ""
		if isMessage {
			got = msg.FormattedBody
		}
		if got != *a.FormattedBody {
			return fail(fmt.Sprintf("formatted body %q", *a.FormattedBody), fmt.Sprintf("formatted body %q", got))
		}
	}
	if a.Edited != nil {
		edited := isMessage && msg.Edited
		if edited != *a.Edited {
			return fail(fmt.Sprintf("edited=%t", *a.Edited), fmt.Sprintf("edited=%t", edited))
		}
	}

	if a.Reactions != nil {
		got := make(map[string]int, len(ev.Reactions))
		for _, g := range ev.Reactions {
			got[g.Key] = len(g.Senders)
		}
		if !maps.Equal(got, a.Reactions) {
			return fail(fmt.Sprintf("reactions %v", a.Reactions), fmt.Sprintf("reactions %v", got))
		}
	}

	if a.SendState != "" {
		got := "none"
		if ev.SendState != nil {
			got = string(ev.SendState.Kind)
		}
		if got != a.SendState {
			return fail("send state "+a.SendState, "send state "+got)
		}
	}

	if a.Verification != "" {
		got := "none"
		if ev.Encryption != nil {
			got = ev.Encryption.Verification.String()
		}
		if got != a.Verification {
			return fail("verification "+a.Verification, "verification "+got)
		}
	}

	if a.Receipts != nil {
		got := make([]string, len(ev.ReadReceipts))
		for i, r := range ev.ReadReceipts {
			got[i] = string(r.User)
		}
		if !slices.Equal(got, a.Receipts) {
			return fail(fmt.Sprintf("receipts %v", a.Receipts), fmt.Sprintf("receipts %v", got))
		}
	}

	return nil
}

// assertOpCount counts published ops of one kind across every step.
func assertOpCount(trace []StepTrace, a Assertion) error {
	stream := streamOf(a)
	count := 0
	for _, st := range trace {
		for _, s := range opsOn(st, stream) {
			if kind, _, _ := strings.Cut(s, " "); kind == a.Op {
				count++
			}
		}
	}

	if count != *a.Count {
		return &AssertionError{
			Type:     AssertOpCount,
			Expected: fmt.Sprintf("%d %s ops on the %s stream", *a.Count, a.Op, stream),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertIdle checks that no step after a.After published on the stream.
func assertIdle(trace []StepTrace, a Assertion) error {
	stream := streamOf(a)
	for _, st := range trace {
		if st.Step <= *a.After {
			continue
		}
		if ops := opsOn(st, stream); len(ops) > 0 {
			return &AssertionError{
				Type:     AssertIdle,
				Expected: fmt.Sprintf("no %s stream ops after step %d", stream, *a.After),
				Actual:   fmt.Sprintf("step %d (%s) published %v", st.Step, st.Do, ops),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertPendingTargets(trace []StepTrace, a Assertion, actx *AssertionContext) error {
	if got := actx.Timeline.PendingTargets(); got != *a.Count {
		return &AssertionError{
			Type:     AssertPendingTargets,
			Expected: fmt.Sprintf("%d pending relation targets", *a.Count),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertReplay rebuilds the room from the journal and compares the
// snapshot hash with the live timeline.
func assertReplay(trace []StepTrace, actx *AssertionContext) error {
	replayed, err := actx.Store.ReplayRoom(actx.Ctx, actx.Timeline.RoomID(), actx.Replay...)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	defer replayed.Close()

	want, err := ir.SnapshotHash(actx.Timeline.CurrentItems())
	if err != nil {
		return err
	}
	got, err := ir.SnapshotHash(replayed.CurrentItems())
	if err != nil {
		return err
	}
	if got != want {
		return &AssertionError{
			Type:     AssertReplay,
			Expected: fmt.Sprintf("replayed items %v (%s)", labels(actx.Timeline.CurrentItems()), want),
			Actual:   fmt.Sprintf("%v (%s)", labels(replayed.CurrentItems()), got),
			Trace:    trace,
		}
	}
	return nil
}
