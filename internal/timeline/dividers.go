package timeline

import (
	"slices"

	"github.com/roach88/roomline/internal/ir"
)

const dateLayout = "2006-01-02"

func (t *Timeline) dayOf(ts ir.Timestamp) string {
	return ts.Time().In(t.loc).Format(dateLayout)
}

// reconcileVirtual brings the read marker and day dividers in line with
// the event items. It runs after every mutation, before publishing.
func (t *Timeline) reconcileVirtual() {
	t.reconcileReadMarker()
	t.reconcileDividers()
}

// reconcileReadMarker keeps the read marker directly after the fully-read
// event, and only while an event item follows it.
func (t *Timeline) reconcileReadMarker() {
	p := t.proj
	cur := slices.IndexFunc(p.slots, func(s slot) bool { return s.item.IsReadMarker() })

	want := -1
	if !t.opts.hideReadMarker && t.fullyRead != "" {
		if e := t.entries[t.resolve(t.fullyRead)]; e != nil {
			i := p.indexOf(e.uid)
			if slices.ContainsFunc(p.slots[i+1:], func(s slot) bool { return s.entry != nil }) {
				want = i + 1
			}
		}
	}

	if cur == want {
		return
	}
	if cur >= 0 {
		p.remove(cur)
		if want > cur {
			want--
		}
	}
	if want >= 0 {
		p.insert(want, slot{item: ir.TimelineItem{ID: t.newUID(), Virtual: ir.ReadMarker()}})
	}
}

// reconcileDividers keeps exactly one day divider directly before the
// first event item and before every event item whose day differs from
// the previous event item's day.
func (t *Timeline) reconcileDividers() {
	p := t.proj

	needs := make(map[*entry]string)
	prev := ""
	for _, s := range p.slots {
		if s.entry == nil {
			continue
		}
		day := t.dayOf(s.entry.rec.ts)
		if prev == "" || day != prev {
			needs[s.entry] = day
		}
		prev = day
	}

	// Drop dividers that do not sit directly before an event needing one;
	// fix the date of those that do.
	for j := len(p.slots) - 1; j >= 0; j-- {
		s := p.slots[j]
		if !s.item.IsDayDivider() {
			continue
		}
		var day string
		ok := false
		if j+1 < len(p.slots) && p.slots[j+1].entry != nil {
			day, ok = needs[p.slots[j+1].entry]
		}
		switch {
		case !ok:
			p.remove(j)
		case s.item.Virtual.Date != day:
			p.set(j, ir.TimelineItem{ID: s.item.ID, Virtual: ir.DayDivider(day)})
		}
	}

	for i := 0; i < len(p.slots); i++ {
		e := p.slots[i].entry
		if e == nil {
			continue
		}
		day, ok := needs[e]
		if !ok || (i > 0 && p.slots[i-1].item.IsDayDivider()) {
			continue
		}
		p.insert(i, slot{item: ir.TimelineItem{ID: t.newUID(), Virtual: ir.DayDivider(day)}})
		i++
	}
}
