package timeline

import (
	"context"
	"sync"

	"github.com/roach88/roomline/internal/ir"
)

// StreamKind selects which items a subscription observes.
type StreamKind string

const (
	// StreamAll observes every item, virtual ones included.
	StreamAll StreamKind = "all"
	// StreamEvents observes event items only; indices count event items.
	StreamEvents StreamKind = "events"
)

// DefaultSubscriberBuffer is the default per-subscriber queue bound, in batches.
const DefaultSubscriberBuffer = 64

// Subscription is a live feed of diff batches.
//
// Each batch is one committed mutation. Applying the batches in order to
// the snapshot returned with the subscription reproduces the timeline.
// A subscriber that falls more than its buffer behind has its queue
// replaced by a single batch holding one Reset.
//
// Thread-safety: Next, TryNext and Close are safe for concurrent use,
// though a subscription is normally drained by one goroutine.
type Subscription struct {
	id       string
	name     string
	kind     StreamKind
	capacity int
	onClose  func(*Subscription)

	mu      sync.Mutex
	queue   [][]ir.DiffOp
	closed  bool
	signal  chan struct{} // buffered, size 1
	resyncs int
}

func newSubscription(id, name string, kind StreamKind, capacity int, onClose func(*Subscription)) *Subscription {
	if capacity < 1 {
		capacity = DefaultSubscriberBuffer
	}
	return &Subscription{
		id:       id,
		name:     name,
		kind:     kind,
		capacity: capacity,
		onClose:  onClose,
		signal:   make(chan struct{}, 1),
	}
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Name returns the subscription name, or "" if anonymous.
func (s *Subscription) Name() string { return s.name }

// Kind returns the stream the subscription observes.
func (s *Subscription) Kind() StreamKind { return s.kind }

// Resyncs returns how many times the subscription was reset for lagging.
func (s *Subscription) Resyncs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncs
}

// deliver queues a batch. snapshot is only called on overflow.
// It reports whether the subscription had to be reset.
func (s *Subscription) deliver(batch []ir.DiffOp, snapshot func() []ir.TimelineItem) (resynced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if len(s.queue) >= s.capacity {
		s.queue = [][]ir.DiffOp{{ir.Reset(snapshot())}}
		s.resyncs++
		resynced = true
	} else {
		s.queue = append(s.queue, batch)
	}

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return resynced
}

// TryNext returns the next batch without blocking.
func (s *Subscription) TryNext() ([]ir.DiffOp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, false
	}
	batch := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return batch, true
}

// Next blocks until a batch is available, the context is done, or the
// subscription is closed and drained.
func (s *Subscription) Next(ctx context.Context) ([]ir.DiffOp, error) {
	for {
		if batch, ok := s.TryNext(); ok {
			return batch, nil
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.signal:
		}
	}
}

// Pending returns the number of queued batches.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription. Batches already queued can still be
// drained with TryNext or Next. Close is idempotent.
func (s *Subscription) Close() {
	if !s.shutdown() {
		return
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}

// shutdown marks the subscription closed and wakes waiters.
// It reports whether this call closed it.
func (s *Subscription) shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.signal)
	return true
}
