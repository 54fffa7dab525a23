package timeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/logging"
	"github.com/roach88/roomline/internal/testutil"
)

const (
	room  ir.RoomID = "!room:example.org"
	alice ir.UserID = "@alice:example.org"
	bob   ir.UserID = "@bob:example.org"
)

var ctx = context.Background()

func newTestTimeline(t *testing.T, opts ...Option) *Timeline {
	t.Helper()
	base := []Option{
		WithLogger(logging.Nop()),
		WithTxnGenerator(testutil.NewSequentialTxnGenerator("t")),
		WithNow(testutil.NewManualClock(testutil.Day0).Now),
	}
	tl := New(room, append(base, opts...)...)
	t.Cleanup(tl.Close)
	return tl
}

// mirror is a subscriber that keeps its own copy of the items by
// applying every batch it receives.
type mirror struct {
	t     *testing.T
	sub   *Subscription
	items []ir.TimelineItem
}

func subscribeMirror(t *testing.T, tl *Timeline, events bool) *mirror {
	t.Helper()
	var (
		snap []ir.TimelineItem
		sub  *Subscription
		err  error
	)
	if events {
		snap, sub, err = tl.SubscribeEvents(WithBuffer(1024))
	} else {
		snap, sub, err = tl.Subscribe(WithBuffer(1024))
	}
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return &mirror{t: t, sub: sub, items: snap}
}

// drain applies every queued batch and returns the summaries of their ops.
func (m *mirror) drain() []string {
	m.t.Helper()
	var out []string
	for {
		batch, ok := m.sub.TryNext()
		if !ok {
			return out
		}
		next, err := ir.ApplyDiff(m.items, batch)
		require.NoError(m.t, err)
		m.items = next
		out = append(out, ir.Summaries(batch)...)
	}
}

// batches is drain keeping batch boundaries.
func (m *mirror) batches() [][]string {
	m.t.Helper()
	var out [][]string
	for {
		batch, ok := m.sub.TryNext()
		if !ok {
			return out
		}
		next, err := ir.ApplyDiff(m.items, batch)
		require.NoError(m.t, err)
		m.items = next
		out = append(out, ir.Summaries(batch))
	}
}

// commandKinds lists the command kind of every entry.
func commandKinds(entries []ir.JournalEntry) []ir.CommandKind {
	out := make([]ir.CommandKind, len(entries))
	for i, e := range entries {
		out[i] = e.Command.Kind
	}
	return out
}

// layout renders items as keys, "day:<date>" and "read_marker".
func layout(items []ir.TimelineItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		switch {
		case it.Event != nil:
			out[i] = string(it.Event.Key)
		case it.IsDayDivider():
			out[i] = "day:" + it.Virtual.Date
		default:
			out[i] = string(it.Virtual.Kind)
		}
	}
	return out
}

func itemOf(t *testing.T, tl *Timeline, id string) ir.TimelineItem {
	t.Helper()
	item, ok := tl.Item(id)
	require.True(t, ok, "no item for %s", id)
	return item
}

func messageContent(t *testing.T, item ir.TimelineItem) *ir.MessageContent {
	t.Helper()
	require.NotNil(t, item.Event)
	msg, ok := item.Event.Content.(*ir.MessageContent)
	require.True(t, ok, "content is %T", item.Event.Content)
	return msg
}

func push(t *testing.T, tl *Timeline, events ...ir.RawEvent) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, tl.PushLiveEvent(ctx, ev))
	}
}

// memoryJournal collects journal entries.
type memoryJournal struct {
	mu      sync.Mutex
	entries []ir.JournalEntry
}

func (j *memoryJournal) Append(_ context.Context, e ir.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memoryJournal) snapshot() []ir.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ir.JournalEntry(nil), j.entries...)
}
