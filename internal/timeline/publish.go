package timeline

import (
	"fmt"
	"sync"

	"github.com/roach88/roomline/internal/ir"
)

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	name   string
	buffer int
}

// WithName registers the subscription under a name. Subscribing twice
// under one name fails with ErrSubscriptionExists, or with
// ErrConflictingFilter if the stream kinds differ.
func WithName(name string) SubscribeOption {
	return func(o *subscribeOptions) { o.name = name }
}

// WithBuffer overrides the timeline's subscriber buffer for one subscription.
func WithBuffer(batches int) SubscribeOption {
	return func(o *subscribeOptions) { o.buffer = batches }
}

// publisher fans committed batches out to subscriptions.
//
// Lock order: the timeline's write lock, then publisher.mu, then a
// subscription's own mutex. Subscription.Close takes publisher.mu only
// after releasing its own.
type publisher struct {
	mu    sync.Mutex
	subs  map[string]*Subscription
	order []string
	named map[string]*Subscription
}

func newPublisher() *publisher {
	return &publisher{
		subs:  make(map[string]*Subscription),
		named: make(map[string]*Subscription),
	}
}

func (p *publisher) add(s *Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.name != "" {
		if existing, ok := p.named[s.name]; ok {
			if existing.kind != s.kind {
				return fmt.Errorf("%w: %q is a %s subscription", ErrConflictingFilter, s.name, existing.kind)
			}
			return fmt.Errorf("%w: %q", ErrSubscriptionExists, s.name)
		}
		p.named[s.name] = s
	}
	p.subs[s.id] = s
	p.order = append(p.order, s.id)
	return nil
}

func (p *publisher) remove(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[s.id]; !ok {
		return
	}
	delete(p.subs, s.id)
	if s.name != "" && p.named[s.name] == s {
		delete(p.named, s.name)
	}
	for i, id := range p.order {
		if id == s.id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *publisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// publish delivers one committed batch per stream. Empty batches are not
// delivered. It returns the number of subscriptions that were reset.
func (p *publisher) publish(all, events []ir.DiffOp, snapshotAll, snapshotEvents func() []ir.TimelineItem) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	resynced := 0
	for _, id := range p.order {
		s := p.subs[id]
		batch, snapshot := all, snapshotAll
		if s.kind == StreamEvents {
			batch, snapshot = events, snapshotEvents
		}
		if len(batch) == 0 {
			continue
		}
		if s.deliver(batch, snapshot) {
			resynced++
		}
	}
	return resynced
}

// closeAll shuts every subscription down without calling back into p.
func (p *publisher) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.order {
		p.subs[id].shutdown()
	}
	clear(p.subs)
	clear(p.named)
	p.order = nil
}
