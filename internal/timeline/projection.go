package timeline

import (
	"slices"

	"github.com/roach88/roomline/internal/ir"
)

// orderKey positions an event item. Remote items sort by (ts, seq);
// unconfirmed local echoes sort after every remote item, by seq.
type orderKey struct {
	local bool
	ts    ir.Timestamp
	seq   int64
}

func (k orderKey) less(o orderKey) bool {
	if k.local != o.local {
		return !k.local
	}
	if !k.local && k.ts != o.ts {
		return k.ts < o.ts
	}
	return k.seq < o.seq
}

// entry is the timeline's bookkeeping for one event item.
type entry struct {
	uid   ir.UniqueID
	key   ir.ItemKey
	rec   *record
	order orderKey
	send  *ir.SendState
}

// slot is one position of the projection. entry is nil for virtual items.
type slot struct {
	item  ir.TimelineItem
	entry *entry
}

// projection is the ordered item vector plus the ops recorded against it
// since the last flush. Every mutation goes through insert, set or
// remove so that the recorded ops replay exactly onto the previous state.
type projection struct {
	slots  []slot
	all    []ir.DiffOp
	events []ir.DiffOp
}

func positional(i, n int, item ir.TimelineItem) ir.DiffOp {
	switch {
	case i == n:
		return ir.PushBack(item)
	case i == 0:
		return ir.PushFront(item)
	default:
		return ir.Insert(i, item)
	}
}

// eventIndex counts event slots before i.
func (p *projection) eventIndex(i int) int {
	n := 0
	for _, s := range p.slots[:i] {
		if s.entry != nil {
			n++
		}
	}
	return n
}

func (p *projection) eventCount() int {
	return p.eventIndex(len(p.slots))
}

func (p *projection) insert(i int, s slot) {
	n := len(p.slots)
	var ei, en int
	if s.entry != nil {
		ei, en = p.eventIndex(i), p.eventCount()
	}
	p.slots = slices.Insert(p.slots, i, s)
	p.all = append(p.all, positional(i, n, s.item))
	if s.entry != nil {
		p.events = append(p.events, positional(ei, en, s.item))
	}
}

func (p *projection) set(i int, item ir.TimelineItem) {
	p.slots[i].item = item
	p.all = append(p.all, ir.Set(i, item))
	if p.slots[i].entry != nil {
		p.events = append(p.events, ir.Set(p.eventIndex(i), item))
	}
}

func (p *projection) remove(i int) {
	if p.slots[i].entry != nil {
		p.events = append(p.events, ir.Remove(p.eventIndex(i)))
	}
	p.slots = slices.Delete(p.slots, i, i+1)
	p.all = append(p.all, ir.Remove(i))
}

func (p *projection) clear() {
	if len(p.slots) == 0 {
		return
	}
	hadEvents := p.eventCount() > 0
	p.slots = nil
	p.all = append(p.all, ir.Clear())
	if hadEvents {
		p.events = append(p.events, ir.Clear())
	}
}

// flush returns and resets the recorded ops.
func (p *projection) flush() (all, events []ir.DiffOp) {
	all, events = p.all, p.events
	p.all, p.events = nil, nil
	return all, events
}

func (p *projection) indexOf(uid ir.UniqueID) int {
	return slices.IndexFunc(p.slots, func(s slot) bool { return s.item.ID == uid })
}

// insertionPoint returns where an event item with key k belongs: after
// the last event item that sorts before it, and after the read marker
// if the marker directly follows that item.
func (p *projection) insertionPoint(k orderKey) int {
	for i := len(p.slots) - 1; i >= 0; i-- {
		e := p.slots[i].entry
		if e == nil || !e.order.less(k) {
			continue
		}
		pos := i + 1
		if pos < len(p.slots) && p.slots[pos].item.IsReadMarker() {
			pos++
		}
		return pos
	}
	return 0
}

// fits reports whether the event at i still sorts between its neighbours.
func (p *projection) fits(i int) bool {
	k := p.slots[i].entry.order
	for j := i - 1; j >= 0; j-- {
		if e := p.slots[j].entry; e != nil {
			if !e.order.less(k) {
				return false
			}
			break
		}
	}
	for j := i + 1; j < len(p.slots); j++ {
		if e := p.slots[j].entry; e != nil {
			return k.less(e.order)
		}
	}
	return true
}

func (p *projection) items() []ir.TimelineItem {
	out := make([]ir.TimelineItem, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.item
	}
	return out
}

func (p *projection) eventItems() []ir.TimelineItem {
	out := make([]ir.TimelineItem, 0, len(p.slots))
	for _, s := range p.slots {
		if s.entry != nil {
			out = append(out, s.item)
		}
	}
	return out
}
