package timeline

import (
	"slices"

	"github.com/roach88/roomline/internal/ir"
)

// aggregation is every relation known for one target key.
// It exists whether or not the target's item does.
type aggregation struct {
	tombstone *redaction
	edits     []*record
	reactions []*record
	others    []*record
}

func (g *aggregation) empty() bool {
	return g.tombstone == nil && len(g.edits) == 0 && len(g.reactions) == 0 && len(g.others) == 0
}

// winningEdit returns the latest edit by sender, ordered by (ts, seq).
// Edits by anyone else are stored but never win.
func (g *aggregation) winningEdit(sender ir.UserID) *record {
	if g == nil {
		return nil
	}
	var best *record
	for _, e := range g.edits {
		if e.sender != sender {
			continue
		}
		if best == nil || e.ts > best.ts || (e.ts == best.ts && e.seq > best.seq) {
			best = e
		}
	}
	return best
}

// reactionGroups renders the reaction multiset in first-seen key order.
// A sender appears at most once per key.
func (g *aggregation) reactionGroups() []ir.ReactionGroup {
	if g == nil || len(g.reactions) == 0 {
		return nil
	}
	var groups []ir.ReactionGroup
	index := make(map[string]int)
	seen := make(map[[2]string]bool)
	for _, r := range g.reactions {
		k := r.relation.key
		id := [2]string{k, string(r.sender)}
		if seen[id] {
			continue
		}
		seen[id] = true
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, ir.ReactionGroup{Key: k})
		}
		groups[i].Senders = append(groups[i].Senders, ir.ReactionSender{
			Sender:    r.sender,
			EventID:   r.eventID,
			Timestamp: r.ts,
		})
	}
	return groups
}

func removeRecord(list []*record, rec *record) []*record {
	return slices.DeleteFunc(list, func(r *record) bool { return r == rec })
}

func (g *aggregation) remove(rec *record) {
	g.edits = removeRecord(g.edits, rec)
	g.reactions = removeRecord(g.reactions, rec)
	g.others = removeRecord(g.others, rec)
}

func (g *aggregation) add(rec *record) {
	switch rec.relation.typ {
	case ir.RelationEdit:
		g.edits = append(g.edits, rec)
	case ir.RelationReaction:
		g.reactions = append(g.reactions, rec)
	default:
		g.others = append(g.others, rec)
	}
}

func (g *aggregation) replace(old, rec *record) {
	for _, list := range [][]*record{g.edits, g.reactions, g.others} {
		if i := slices.Index(list, old); i >= 0 {
			list[i] = rec
			return
		}
	}
	g.add(rec)
}

func (g *aggregation) merge(o *aggregation) {
	if g.tombstone == nil {
		g.tombstone = o.tombstone
	}
	g.edits = append(g.edits, o.edits...)
	g.reactions = append(g.reactions, o.reactions...)
	g.others = append(g.others, o.others...)
}

// effect tells the timeline what an applied record requires.
type effect int

const (
	// effectIgnored: nothing visible changed.
	effectIgnored effect = iota
	// effectNewItem: the record is an item and must be inserted.
	effectNewItem
	// effectUpdatesTarget: the target's item must be re-rendered.
	effectUpdatesTarget
)

// aggregator attaches relations and redactions to target keys.
//
// Targets that have no item yet are pending. Pending targets are kept in
// creation order and the oldest are evicted past maxPending.
type aggregator struct {
	byTarget map[ir.ItemKey]*aggregation

	// relations maps a relation event id to its record.
	relations map[ir.EventID]*record
	// local maps a local echo's transaction id to its relation record.
	local map[ir.TxnID]*record
	// redacted holds relation event ids that were redacted; a late or
	// repeated delivery of one of them is dropped.
	redacted map[ir.EventID]struct{}

	pending    []ir.ItemKey
	maxPending int
	evicted    int

	hasItem func(ir.ItemKey) bool
	resolve func(ir.EventID) ir.ItemKey
}

func newAggregator(maxPending int, hasItem func(ir.ItemKey) bool, resolve func(ir.EventID) ir.ItemKey) *aggregator {
	return &aggregator{
		byTarget:   make(map[ir.ItemKey]*aggregation),
		relations:  make(map[ir.EventID]*record),
		local:      make(map[ir.TxnID]*record),
		redacted:   make(map[ir.EventID]struct{}),
		maxPending: maxPending,
		hasItem:    hasItem,
		resolve:    resolve,
	}
}

func (a *aggregator) get(key ir.ItemKey) *aggregation {
	return a.byTarget[key]
}

func (a *aggregator) ensure(key ir.ItemKey) *aggregation {
	if g, ok := a.byTarget[key]; ok {
		return g
	}
	g := &aggregation{}
	a.byTarget[key] = g
	if !a.hasItem(key) {
		a.pending = append(a.pending, key)
		a.evict()
	}
	return g
}

// apply folds rec into the aggregation state.
func (a *aggregator) apply(rec *record) (effect, ir.ItemKey) {
	switch rec.kind {
	case recordRedaction:
		return a.redact(rec.relation.target, redaction{eventID: rec.eventID, reason: rec.relation.reason, seq: rec.seq})
	case recordRelation:
		return a.relate(rec)
	default:
		a.addOther(rec)
		return effectNewItem, rec.key()
	}
}

// addOther files an item that also relates to another event, such as a
// thread reply, under its target. It stays an item of its own.
func (a *aggregator) addOther(rec *record) {
	if rec.relation == nil {
		return
	}
	a.ensure(a.resolve(rec.relation.target)).add(rec)
}

// dropOther undoes addOther.
func (a *aggregator) dropOther(rec *record) {
	if rec.relation == nil {
		return
	}
	if g := a.byTarget[a.resolve(rec.relation.target)]; g != nil {
		g.remove(rec)
	}
}

func (a *aggregator) relate(rec *record) (effect, ir.ItemKey) {
	if rec.eventID != "" {
		if _, gone := a.redacted[rec.eventID]; gone {
			return effectIgnored, ""
		}
		if _, dup := a.relations[rec.eventID]; dup {
			return effectIgnored, ""
		}
		// A redaction that arrived before this relation left a tombstone
		// under the relation's own key.
		own := ir.KeyForEvent(rec.eventID)
		if g := a.byTarget[own]; g != nil && g.tombstone != nil {
			a.forget(own)
			a.redacted[rec.eventID] = struct{}{}
			return effectIgnored, ""
		}
		if rec.redactedBy != nil {
			a.redacted[rec.eventID] = struct{}{}
			return effectIgnored, ""
		}
		a.relations[rec.eventID] = rec
	} else {
		a.local[rec.txnID] = rec
	}

	target := a.resolve(rec.relation.target)
	a.ensure(target).add(rec)
	if a.hasItem(target) {
		return effectUpdatesTarget, target
	}
	return effectIgnored, target
}

// redact tombstones id, or removes it from its target if it is a relation.
func (a *aggregator) redact(id ir.EventID, red redaction) (effect, ir.ItemKey) {
	if rel, ok := a.relations[id]; ok {
		delete(a.relations, id)
		a.redacted[id] = struct{}{}
		target := a.resolve(rel.relation.target)
		if g := a.byTarget[target]; g != nil {
			g.remove(rel)
		}
		if a.hasItem(target) {
			return effectUpdatesTarget, target
		}
		return effectIgnored, target
	}
	if _, ok := a.redacted[id]; ok {
		return effectIgnored, ""
	}

	key := a.resolve(id)
	g := a.ensure(key)
	if g.tombstone != nil {
		return effectIgnored, key
	}
	g.tombstone = &red
	if a.hasItem(key) {
		return effectUpdatesTarget, key
	}
	return effectIgnored, key
}

// tombstone marks key redacted at ingest.
func (a *aggregator) tombstone(key ir.ItemKey, red redaction) {
	g := a.ensure(key)
	if g.tombstone == nil {
		g.tombstone = &red
	}
}

// confirmLocal swaps a local relation echo for its remote counterpart.
// It returns the target key, or "" if txn is not a local relation.
func (a *aggregator) confirmLocal(txn ir.TxnID, rec *record) ir.ItemKey {
	old, ok := a.local[txn]
	if !ok {
		return ""
	}
	delete(a.local, txn)
	target := a.resolve(old.relation.target)
	if g := a.byTarget[target]; g != nil {
		g.remove(old)
	}
	return target
}

// cancelLocal drops a local relation echo. It reports the target key and
// whether txn was known.
func (a *aggregator) cancelLocal(txn ir.TxnID) (ir.ItemKey, bool) {
	old, ok := a.local[txn]
	if !ok {
		return "", false
	}
	delete(a.local, txn)
	target := a.resolve(old.relation.target)
	if g := a.byTarget[target]; g != nil {
		g.remove(old)
	}
	return target, true
}

// replaceRelation swaps a relation record for its decrypted form.
// Both must target the same key.
func (a *aggregator) replaceRelation(old, rec *record) ir.ItemKey {
	target := a.resolve(rec.relation.target)
	if old.relation != nil {
		if prev := a.resolve(old.relation.target); prev != target {
			if g := a.byTarget[prev]; g != nil {
				g.remove(old)
			}
			a.ensure(target).add(rec)
			a.relations[rec.eventID] = rec
			return target
		}
	}
	a.ensure(target).replace(old, rec)
	a.relations[rec.eventID] = rec
	return target
}

// forgetRelation removes a relation record, e.g. before re-applying it as an item.
func (a *aggregator) forgetRelation(rec *record) {
	delete(a.relations, rec.eventID)
	if g := a.byTarget[a.resolve(rec.relation.target)]; g != nil {
		g.remove(rec)
	}
}

// rekey moves the aggregation of from onto to, merging if both exist.
func (a *aggregator) rekey(from, to ir.ItemKey) {
	g, ok := a.byTarget[from]
	if !ok {
		return
	}
	delete(a.byTarget, from)
	if dst, ok := a.byTarget[to]; ok {
		dst.merge(g)
		return
	}
	a.byTarget[to] = g
}

// forget drops the aggregation of key and its relation index entries.
func (a *aggregator) forget(key ir.ItemKey) {
	g, ok := a.byTarget[key]
	if !ok {
		return
	}
	delete(a.byTarget, key)
	for _, list := range [][]*record{g.edits, g.reactions, g.others} {
		for _, r := range list {
			if r.eventID != "" {
				delete(a.relations, r.eventID)
			} else {
				delete(a.local, r.txnID)
			}
		}
	}
}

// compact drops pending keys that gained an item or were forgotten.
func (a *aggregator) compact() {
	a.pending = slices.DeleteFunc(a.pending, func(k ir.ItemKey) bool {
		_, ok := a.byTarget[k]
		return !ok || a.hasItem(k)
	})
}

func (a *aggregator) evict() {
	if a.maxPending <= 0 || len(a.pending) <= a.maxPending {
		return
	}
	a.compact()
	for len(a.pending) > a.maxPending {
		victim := a.pending[0]
		a.pending = a.pending[1:]
		a.forget(victim)
		a.evicted++
	}
}

// pendingCount returns the number of targets waiting for their event.
func (a *aggregator) pendingCount() int {
	a.compact()
	return len(a.pending)
}

func (a *aggregator) reset() {
	clear(a.byTarget)
	clear(a.relations)
	clear(a.local)
	clear(a.redacted)
	a.pending = nil
}
