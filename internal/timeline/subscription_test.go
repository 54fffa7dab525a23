package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/ir"
	tu "github.com/roach88/roomline/internal/testutil"
)

func TestSubscribe_SnapshotThenBatches(t *testing.T) {
	tl := newTestTimeline(t)
	push(t, tl, tu.Text("$1", alice, tu.At(0), "one"))

	snap, sub, err := tl.Subscribe()
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, []string{"day:2024-01-01", "$1"}, layout(snap))
	assert.Equal(t, StreamAll, sub.Kind())
	assert.NotEmpty(t, sub.ID())

	push(t, tl, tu.Text("$2", alice, tu.At(time.Minute), "two"))

	batch, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"push_back"}, ir.Summaries(batch))

	_, ok := sub.TryNext()
	assert.False(t, ok)
}

func TestSubscribe_NextHonoursContext(t *testing.T) {
	tl := newTestTimeline(t)
	_, sub, err := tl.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribe_NextWakesOnPublish(t *testing.T) {
	tl := newTestTimeline(t)
	_, sub, err := tl.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	got := make(chan []ir.DiffOp, 1)
	go func() {
		batch, err := sub.Next(ctx)
		if err == nil {
			got <- batch
		}
	}()

	push(t, tl, tu.Text("$1", alice, tu.At(0), "one"))

	select {
	case batch := <-got:
		assert.Equal(t, []string{"push_back", "push_front"}, ir.Summaries(batch))
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after publish")
	}
}

func TestSubscribe_LaggingSubscriberIsReset(t *testing.T) {
	tl := newTestTimeline(t)
	_, sub, err := tl.Subscribe(WithBuffer(2))
	require.NoError(t, err)
	defer sub.Close()

	push(t, tl,
		tu.Text("$1", alice, tu.At(0), "one"),
		tu.Text("$2", alice, tu.At(time.Minute), "two"),
		tu.Text("$3", alice, tu.At(2*time.Minute), "three"),
	)

	assert.Equal(t, 1, sub.Pending())
	assert.Equal(t, 1, sub.Resyncs())

	batch, ok := sub.TryNext()
	require.True(t, ok)
	require.Len(t, batch, 1)
	assert.Equal(t, ir.DiffReset, batch[0].Kind)
	assert.Equal(t, tl.CurrentItems(), batch[0].Items)

	// The reset is a full state; later batches apply on top of it.
	items, err := ir.ApplyDiff(nil, batch)
	require.NoError(t, err)
	push(t, tl, tu.Text("$4", alice, tu.At(3*time.Minute), "four"))
	next, ok := sub.TryNext()
	require.True(t, ok)
	items, err = ir.ApplyDiff(items, next)
	require.NoError(t, err)
	assert.Equal(t, tl.CurrentItems(), items)
}

func TestSubscribe_EventsResetHoldsEventsOnly(t *testing.T) {
	tl := newTestTimeline(t)
	_, sub, err := tl.SubscribeEvents(WithBuffer(1))
	require.NoError(t, err)
	defer sub.Close()

	push(t, tl,
		tu.Text("$1", alice, tu.At(0), "one"),
		tu.Text("$2", alice, tu.At(24*time.Hour), "two"),
	)

	batch, ok := sub.TryNext()
	require.True(t, ok)
	require.Equal(t, ir.DiffReset, batch[0].Kind)
	assert.Equal(t, []string{"$1", "$2"}, layout(batch[0].Items))
}

func TestSubscribe_Names(t *testing.T) {
	tl := newTestTimeline(t)

	_, first, err := tl.Subscribe(WithName("ui"))
	require.NoError(t, err)
	assert.Equal(t, "ui", first.Name())

	_, _, err = tl.Subscribe(WithName("ui"))
	assert.ErrorIs(t, err, ErrSubscriptionExists)

	_, _, err = tl.SubscribeEvents(WithName("ui"))
	assert.ErrorIs(t, err, ErrConflictingFilter)

	first.Close()
	first.Close()

	_, again, err := tl.SubscribeEvents(WithName("ui"))
	require.NoError(t, err, "a closed subscription frees its name")
	again.Close()
}

func TestSubscribe_CloseDetaches(t *testing.T) {
	tl := newTestTimeline(t)
	_, sub, err := tl.Subscribe()
	require.NoError(t, err)

	push(t, tl, tu.Text("$1", alice, tu.At(0), "one"))
	sub.Close()
	push(t, tl, tu.Text("$2", alice, tu.At(time.Minute), "two"))

	batch, err := sub.Next(ctx)
	require.NoError(t, err, "queued batches survive Close")
	assert.Equal(t, []string{"push_back", "push_front"}, ir.Summaries(batch))

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}
