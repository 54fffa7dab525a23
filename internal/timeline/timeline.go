package timeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/logging"
)

// Timeline is the reconciliation engine for one room.
//
// Thread-safety model:
//   - Push*, Apply, Clear: safe from any goroutine; serialized by the write lock
//   - Subscribe, CurrentItems: safe from any goroutine
//   - Run: must be called from at most one goroutine
//
// INVARIANTS:
//   - Every event-backed item has a unique key and a stable UniqueID
//   - Ops published for a commit replay exactly onto the previous state
//   - Virtual items never carry relation metadata
type Timeline struct {
	roomID  ir.RoomID
	opts    options
	loc     *time.Location
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu         sync.RWMutex
	closed     bool
	seq        int64
	uid        uint64
	entries    map[ir.ItemKey]*entry
	records    map[ir.EventID]*record
	confirmed  map[ir.TxnID]ir.EventID
	receipts   map[ir.UserID]receipt
	fullyRead  ir.EventID
	journalSeq int64
	agg        *aggregator
	proj       *projection

	pub   *publisher
	queue *commandQueue
}

type receipt struct {
	eventID ir.EventID
	ts      ir.Timestamp
}

// New creates an empty timeline for roomID.
func New(roomID ir.RoomID, opts ...Option) *Timeline {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &Timeline{
		roomID:     roomID,
		opts:       o,
		loc:        o.loc,
		limiter:    rate.NewLimiter(discardLogRate, discardLogBurst),
		entries:    make(map[ir.ItemKey]*entry),
		records:    make(map[ir.EventID]*record),
		confirmed:  make(map[ir.TxnID]ir.EventID),
		receipts:   make(map[ir.UserID]receipt),
		journalSeq: o.journalSeq,
		proj:       &projection{},
		pub:        newPublisher(),
		queue:      newCommandQueue(),
	}
	if o.logger != nil {
		t.logger = *o.logger
	} else {
		t.logger = logging.WithRoom("timeline", string(roomID))
	}
	t.agg = newAggregator(o.maxPending, t.hasItem, t.resolve)
	return t
}

// RoomID returns the room the timeline renders.
func (t *Timeline) RoomID() ir.RoomID {
	return t.roomID
}

// PushLiveEvent ingests an event from the sync stream. A live event that
// confirms a local echo replaces the echo in place. With a decryptor
// configured, an encrypted event is decrypted before it is applied, so
// subscribers see it once, already decrypted or failed.
func (t *Timeline) PushLiveEvent(ctx context.Context, raw ir.RawEvent) error {
	return t.Apply(ctx, ir.Command{Kind: ir.CommandLiveEvent, Event: &raw})
}

// PushLocalEcho shows an event the user is sending before the server
// confirms it. A missing transaction id is generated; a missing
// timestamp is taken from the wall clock.
func (t *Timeline) PushLocalEcho(ctx context.Context, raw ir.RawEvent) (ir.TxnID, error) {
	cmd, err := t.apply(ctx, ir.Command{Kind: ir.CommandLocalEcho, Event: &raw})
	if err != nil {
		return "", err
	}
	return cmd.Event.TxnID, nil
}

// PushRedaction tombstones eventID. Redacting an unknown id is remembered
// and applied when the event arrives.
func (t *Timeline) PushRedaction(ctx context.Context, eventID ir.EventID, reason string) error {
	return t.Apply(ctx, ir.Command{Kind: ir.CommandRedaction, EventID: eventID, Reason: reason})
}

// PushDecryptionResult applies the outcome of decrypting eventID.
func (t *Timeline) PushDecryptionResult(ctx context.Context, eventID ir.EventID, result ir.DecryptionResult) error {
	return t.Apply(ctx, ir.Command{Kind: ir.CommandDecryption, EventID: eventID, Result: &result})
}

// PushReceipt moves user's read receipt to eventID. Receipts only move forward.
func (t *Timeline) PushReceipt(ctx context.Context, user ir.UserID, eventID ir.EventID, ts ir.Timestamp) error {
	return t.Apply(ctx, ir.Command{Kind: ir.CommandReceipt, User: user, EventID: eventID, Timestamp: ts})
}

// MarkFullyRead places the read marker after eventID.
func (t *Timeline) MarkFullyRead(ctx context.Context, eventID ir.EventID) error {
	return t.Apply(ctx, ir.Command{Kind: ir.CommandFullyRead, EventID: eventID})
}

// PushSendFailure marks the local echo txn as failed to send.
func (t *Timeline) PushSendFailure(ctx context.Context, txn ir.TxnID, reason string) error {
	return t.Apply(ctx, ir.Command{Kind: ir.CommandSendFailure, TxnID: txn, Reason: reason})
}

// CancelLocalEcho removes the local echo txn.
func (t *Timeline) CancelLocalEcho(ctx context.Context, txn ir.TxnID) error {
	return t.Apply(ctx, ir.Command{Kind: ir.CommandCancelEcho, TxnID: txn})
}

// Clear drops every item and all relation state.
func (t *Timeline) Clear(ctx context.Context) error {
	return t.Apply(ctx, ir.Command{Kind: ir.CommandClearHistory})
}

// Apply runs one command. It is the path shared by the Push* methods,
// Run and Replay.
func (t *Timeline) Apply(ctx context.Context, cmd ir.Command) error {
	if cmd.Kind == ir.CommandLiveEvent && cmd.Event != nil && t.opts.decryptor != nil {
		if tg, ok := t.liveTarget(cmd.Event); ok {
			return t.applyEncrypted(ctx, cmd, tg)
		}
	}
	_, err := t.apply(ctx, cmd)
	return err
}

// apply is the single mutate-then-publish step.
func (t *Timeline) apply(ctx context.Context, cmd ir.Command) (ir.Command, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return cmd, ErrTimelineClosed
	}

	cmd = t.prepare(cmd)
	if err := t.fold(cmd); err != nil {
		if IsDiscarded(err) {
			t.logDiscard(cmd, err)
		}
		// fold validates before mutating; anything recorded is still valid.
		t.reconcileVirtual()
		t.commit()
		return cmd, err
	}

	t.opts.metrics.CommandIngested(string(t.roomID), string(cmd.Kind))
	t.reconcileVirtual()
	t.commit()
	t.record(ctx, cmd)
	return cmd, nil
}

// prepare fills in the generated fields of a local echo so that the
// journal records exactly what was applied.
func (t *Timeline) prepare(cmd ir.Command) ir.Command {
	if cmd.Event == nil {
		return cmd
	}
	ev := *cmd.Event
	cmd.Event = &ev
	if cmd.Kind == ir.CommandLocalEcho && ev.EventID == "" {
		if ev.TxnID == "" {
			ev.TxnID = t.opts.txnGen.Generate()
		}
		if ev.Timestamp == 0 {
			ev.Timestamp = ir.TimestampOf(t.opts.now())
		}
	}
	return cmd
}

func (t *Timeline) fold(cmd ir.Command) error {
	switch cmd.Kind {
	case ir.CommandLiveEvent:
		if cmd.Event == nil {
			return fmt.Errorf("%w: %s without event", ErrInvalidCommand, cmd.Kind)
		}
		_, err := t.foldLive(cmd.Event, nil)
		return err
	case ir.CommandLocalEcho:
		if cmd.Event == nil {
			return fmt.Errorf("%w: %s without event", ErrInvalidCommand, cmd.Kind)
		}
		return t.foldEcho(cmd.Event)
	case ir.CommandRedaction:
		return t.foldRedaction(cmd.EventID, cmd.Reason)
	case ir.CommandDecryption:
		return t.foldDecryption(cmd.EventID, cmd.Result)
	case ir.CommandReceipt:
		return t.foldReceipt(cmd.User, cmd.EventID, cmd.Timestamp)
	case ir.CommandFullyRead:
		if cmd.EventID == "" {
			return fmt.Errorf("%w: %s without event_id", ErrInvalidCommand, cmd.Kind)
		}
		t.fullyRead = cmd.EventID
		return nil
	case ir.CommandSendFailure:
		return t.foldSendFailure(cmd.TxnID, cmd.Reason)
	case ir.CommandCancelEcho:
		return t.foldCancel(cmd.TxnID)
	case ir.CommandClearHistory:
		t.foldClear()
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, cmd.Kind)
	}
}

// foldLive applies a live event. dec, when set, is the outcome of
// decrypting it; the returned outcome tells whether it was folded in.
func (t *Timeline) foldLive(raw *ir.RawEvent, dec *ir.DecryptionResult) (decryptOutcome, error) {
	rec, err := normalize(raw, t.nextSeq())
	if err != nil {
		return decryptionSkipped, err
	}

	outcome := decryptionSkipped
	if dec != nil && rec.undecrypted() {
		next := t.decrypted(rec, *dec)
		if rec.isItem() && !next.isItem() {
			// The placeholder must exist before it can turn into a relation.
			outcome = decryptionDeferred
		} else {
			rec, outcome = next, decryptionFolded
		}
	}

	if txn := raw.ConfirmsTxn(); txn != "" && rec.eventID != "" {
		if e := t.entries[ir.KeyForTxn(txn)]; e != nil && rec.isItem() {
			t.confirmEcho(e, rec, txn)
			return outcome, nil
		}
		if rec.kind == recordRelation {
			if target := t.agg.confirmLocal(txn, rec); target != "" {
				defer t.rerender(target)
			}
		}
	}

	if rec.eventID != "" {
		if _, seen := t.records[rec.eventID]; seen {
			t.logger.Debug().Str("event_id", string(rec.eventID)).Msg("duplicate event ignored")
			return decryptionSkipped, nil
		}
	}

	t.ingest(rec)
	return outcome, nil
}

func (t *Timeline) foldEcho(raw *ir.RawEvent) error {
	if raw.EventID != "" {
		return discard(raw, ReasonEchoHasEventID, nil)
	}
	rec, err := normalize(raw, t.nextSeq())
	if err != nil {
		return err
	}
	rec.local = true
	t.ingest(rec)
	return nil
}

func (t *Timeline) foldRedaction(id ir.EventID, reason string) error {
	if id == "" {
		return fmt.Errorf("%w: redaction without event_id", ErrInvalidCommand)
	}
	eff, key := t.agg.redact(id, redaction{reason: reason, seq: t.nextSeq()})
	if eff == effectUpdatesTarget {
		t.rerender(key)
	}
	return nil
}

func (t *Timeline) foldDecryption(id ir.EventID, result *ir.DecryptionResult) error {
	if result == nil {
		return fmt.Errorf("%w: decryption result missing", ErrInvalidCommand)
	}
	if err := result.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	rec, ok := t.records[id]
	if !ok || rec.envelope == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}

	if result.Failure != nil && rec.decrypted {
		return nil
	}
	t.replaceRecord(rec, t.decrypted(rec, *result))
	return nil
}

// decrypted returns rec with a decryption outcome applied. A payload that
// does not normalize counts as a failure.
func (t *Timeline) decrypted(rec *record, result ir.DecryptionResult) *record {
	if result.Failure != nil {
		return rec.withFailure(result.Failure)
	}
	next, err := rec.withDecryption(*result.Event)
	if err != nil {
		t.logger.Warn().
			Err(err).
			Str("event_id", string(rec.eventID)).
			Str("content", logging.RedactJSON(result.Event.Content)).
			Msg("decrypted payload unusable")
		return rec.withFailure(&ir.DecryptionFailure{Code: ir.FailureUnknownSession, Message: err.Error()})
	}
	return next
}

func (t *Timeline) foldReceipt(user ir.UserID, id ir.EventID, ts ir.Timestamp) error {
	if user == "" || id == "" {
		return fmt.Errorf("%w: receipt needs user and event_id", ErrInvalidCommand)
	}
	old, had := t.receipts[user]
	if had && old.eventID == id {
		return nil
	}
	if had {
		oe, ne := t.entries[t.resolve(old.eventID)], t.entries[t.resolve(id)]
		if oe != nil && ne != nil && ne.order.less(oe.order) {
			return nil
		}
	}
	t.receipts[user] = receipt{eventID: id, ts: ts}
	if had {
		t.rerender(t.resolve(old.eventID))
	}
	t.rerender(t.resolve(id))
	return nil
}

func (t *Timeline) foldSendFailure(txn ir.TxnID, reason string) error {
	e := t.entries[ir.KeyForTxn(txn)]
	if e == nil {
		if _, ok := t.agg.local[txn]; ok {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, txn)
	}
	e.send = &ir.SendState{Kind: ir.SendSendingFailed, Error: reason}
	t.rerender(e.key)
	return nil
}

func (t *Timeline) foldCancel(txn ir.TxnID) error {
	key := ir.KeyForTxn(txn)
	if e := t.entries[key]; e != nil {
		t.proj.remove(t.proj.indexOf(e.uid))
		delete(t.entries, key)
		t.agg.forget(key)
		t.agg.dropOther(e.rec)
		return nil
	}
	if target, ok := t.agg.cancelLocal(txn); ok {
		t.rerender(target)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownTransaction, txn)
}

func (t *Timeline) foldClear() {
	t.proj.clear()
	clear(t.entries)
	clear(t.records)
	clear(t.confirmed)
	clear(t.receipts)
	t.fullyRead = ""
	t.agg.reset()
}

// ingest routes a normalized record through the aggregator.
func (t *Timeline) ingest(rec *record) {
	if rec.eventID != "" {
		t.records[rec.eventID] = rec
	}
	eff, key := t.agg.apply(rec)
	switch eff {
	case effectNewItem:
		t.addItem(rec)
	case effectUpdatesTarget:
		t.rerender(key)
	}
}

func (t *Timeline) addItem(rec *record) {
	key := rec.key()
	if _, ok := t.entries[key]; ok {
		return
	}
	e := &entry{
		uid:   t.newUID(),
		key:   key,
		rec:   rec,
		order: orderKey{local: rec.local, ts: rec.ts, seq: rec.seq},
	}
	if rec.local {
		e.send = &ir.SendState{Kind: ir.SendNotSentYet}
	}
	t.entries[key] = e
	t.attach(rec, key)
	t.proj.insert(t.proj.insertionPoint(e.order), slot{item: t.render(e), entry: e})
}

// attach applies what an item record carries for itself: a redaction
// from unsigned data and a server-bundled edit.
func (t *Timeline) attach(rec *record, key ir.ItemKey) {
	if rec.redactedBy != nil {
		t.agg.tombstone(key, *rec.redactedBy)
	}
	if b := rec.bundled; b != nil {
		if _, seen := t.records[b.eventID]; !seen {
			t.records[b.eventID] = b
			t.agg.apply(b)
		}
	}
}

// confirmEcho turns the local echo e into the remote event rec, keeping
// its UniqueID. The item is replaced in place unless its position changed.
func (t *Timeline) confirmEcho(e *entry, rec *record, txn ir.TxnID) {
	newKey := rec.key()
	t.records[rec.eventID] = rec
	t.confirmed[txn] = rec.eventID
	delete(t.entries, e.key)
	t.agg.rekey(e.key, newKey)
	t.agg.dropOther(e.rec)

	if _, ok := t.entries[newKey]; ok {
		// The remote event was already rendered; the echo is redundant.
		t.proj.remove(t.proj.indexOf(e.uid))
		t.rerender(newKey)
		return
	}

	e.key = newKey
	e.rec = rec
	e.order = orderKey{ts: rec.ts, seq: rec.seq}
	e.send = &ir.SendState{Kind: ir.SendSent, EventID: rec.eventID}
	t.entries[newKey] = e
	t.agg.addOther(rec)
	t.attach(rec, newKey)

	i := t.proj.indexOf(e.uid)
	if t.proj.fits(i) {
		t.proj.set(i, t.render(e))
		return
	}
	t.proj.remove(i)
	t.proj.insert(t.proj.insertionPoint(e.order), slot{item: t.render(e), entry: e})
}

// replaceRecord swaps old for its re-normalized form after a decryption
// result, moving it between item and relation roles if needed.
func (t *Timeline) replaceRecord(old, next *record) {
	key := ir.KeyForEvent(old.eventID)
	switch {
	case old.isItem() && next.isItem():
		t.records[old.eventID] = next
		t.agg.dropOther(old)
		t.agg.addOther(next)
		if e := t.entries[key]; e != nil {
			e.rec = next
			t.attach(next, key)
			t.rerender(key)
		}

	case old.isItem():
		// Decrypted into a relation or redaction: the placeholder goes away.
		if e := t.entries[key]; e != nil {
			t.proj.remove(t.proj.indexOf(e.uid))
			delete(t.entries, key)
		}
		t.agg.forget(key)
		t.agg.dropOther(old)
		delete(t.records, old.eventID)
		t.ingest(next)

	case next.kind == recordRelation:
		t.records[old.eventID] = next
		if _, live := t.agg.relations[old.eventID]; !live {
			return
		}
		prev := t.resolve(old.relation.target)
		target := t.agg.replaceRelation(old, next)
		if prev != target {
			t.rerender(prev)
		}
		t.rerender(target)

	default:
		prev := t.resolve(old.relation.target)
		if _, live := t.agg.relations[old.eventID]; live {
			t.agg.forgetRelation(old)
			t.rerender(prev)
		}
		delete(t.records, old.eventID)
		t.ingest(next)
	}
}

// nextSeq is the logical arrival clock. Replaying the same commands into a
// fresh timeline yields the same seqs.
func (t *Timeline) nextSeq() int64 {
	t.seq++
	return t.seq
}

func (t *Timeline) newUID() ir.UniqueID {
	t.uid++
	return ir.UniqueID(t.uid)
}

func (t *Timeline) hasItem(key ir.ItemKey) bool {
	_, ok := t.entries[key]
	return ok
}

// resolve maps an id from a relation, redaction or receipt onto the key
// of the item it designates. Transaction ids of confirmed echoes resolve
// to the confirming event.
func (t *Timeline) resolve(id ir.EventID) ir.ItemKey {
	if eid, ok := t.confirmed[ir.TxnID(id)]; ok {
		return ir.KeyForEvent(eid)
	}
	if k := ir.KeyForTxn(ir.TxnID(id)); t.hasItem(k) {
		return k
	}
	return ir.KeyForEvent(id)
}

func (t *Timeline) render(e *entry) ir.TimelineItem {
	return ir.TimelineItem{
		ID:    e.uid,
		Event: build(e.rec, t.agg.get(e.key), t.receiptsFor(e), e.send),
	}
}

// rerender rebuilds key's item and records a Set if it changed.
func (t *Timeline) rerender(key ir.ItemKey) {
	e := t.entries[key]
	if e == nil {
		return
	}
	i := t.proj.indexOf(e.uid)
	item := t.render(e)
	if reflect.DeepEqual(t.proj.slots[i].item, item) {
		return
	}
	t.proj.set(i, item)
}

func (t *Timeline) receiptsFor(e *entry) []ir.Receipt {
	if e.rec.eventID == "" {
		return nil
	}
	var out []ir.Receipt
	for user, r := range t.receipts {
		if r.eventID == e.rec.eventID {
			out = append(out, ir.Receipt{User: user, Timestamp: r.ts})
		}
	}
	slices.SortFunc(out, func(a, b ir.Receipt) int {
		switch {
		case a.User < b.User:
			return -1
		case a.User > b.User:
			return 1
		default:
			return 0
		}
	})
	return out
}

// commit publishes the ops recorded since the last commit.
func (t *Timeline) commit() {
	all, events := t.proj.flush()
	room := string(t.roomID)
	for _, op := range all {
		t.opts.metrics.OpPublished(room, string(op.Kind))
	}
	if len(all) > 0 || len(events) > 0 {
		resynced := t.pub.publish(all, events, t.proj.items, t.proj.eventItems)
		for range resynced {
			t.opts.metrics.SubscriberResynced(room)
		}
		if resynced > 0 {
			t.logger.Warn().Int("subscribers", resynced).Msg("lagging subscribers reset")
		}
	}
	t.observe()
}

func (t *Timeline) observe() {
	t.opts.metrics.Observe(string(t.roomID), len(t.proj.slots), t.agg.pendingCount(), t.pub.count())
}

// record appends cmd to the journal, if any. Journal failures are logged;
// the command has already been applied.
func (t *Timeline) record(ctx context.Context, cmd ir.Command) {
	if t.opts.journal == nil {
		return
	}
	t.journalSeq++
	id, err := ir.JournalEntryID(t.roomID, t.journalSeq, cmd)
	if err != nil {
		t.logger.Error().Err(err).Str("command", string(cmd.Kind)).Msg("journal entry not canonical")
		return
	}
	entry := ir.JournalEntry{
		ID:      id,
		Seq:     t.journalSeq,
		RoomID:  t.roomID,
		Command: cmd,
		Version: ir.JournalVersion,
	}
	if err := t.opts.journal.Append(ctx, entry); err != nil {
		t.logger.Error().Err(err).Int64("seq", entry.Seq).Msg("journal append failed")
	}
}

func (t *Timeline) logDiscard(cmd ir.Command, err error) {
	reason := DiscardReasonOf(err)
	t.opts.metrics.EventDiscarded(string(t.roomID), string(reason))
	if !t.limiter.Allow() {
		return
	}
	ev := t.logger.Warn().Err(err).Str("reason", string(reason)).Str("command", string(cmd.Kind))
	if cmd.Event != nil {
		ev = ev.Str("event_id", string(cmd.Event.EventID)).
			Str("type", cmd.Event.Type).
			Str("content", logging.RedactJSON(cmd.Event.Content))
	}
	ev.Msg("event discarded")
}

// Subscribe returns a snapshot of every item and a subscription whose
// first batch applies on top of exactly that snapshot.
func (t *Timeline) Subscribe(opts ...SubscribeOption) ([]ir.TimelineItem, *Subscription, error) {
	return t.subscribe(StreamAll, opts)
}

// SubscribeEvents is Subscribe restricted to event items. Op indices
// count event items only and virtual item changes are not delivered.
func (t *Timeline) SubscribeEvents(opts ...SubscribeOption) ([]ir.TimelineItem, *Subscription, error) {
	return t.subscribe(StreamEvents, opts)
}

func (t *Timeline) subscribe(kind StreamKind, opts []SubscribeOption) ([]ir.TimelineItem, *Subscription, error) {
	o := subscribeOptions{buffer: t.opts.buffer}
	for _, opt := range opts {
		opt(&o)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil, ErrTimelineClosed
	}

	sub := newSubscription(uuid.Must(uuid.NewV7()).String(), o.name, kind, o.buffer, t.pub.remove)
	if err := t.pub.add(sub); err != nil {
		return nil, nil, err
	}
	t.observe()

	if kind == StreamEvents {
		return t.proj.eventItems(), sub, nil
	}
	return t.proj.items(), sub, nil
}

// CurrentItems returns a copy of the current items.
func (t *Timeline) CurrentItems() []ir.TimelineItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.proj.items()
}

// CurrentEventItems returns a copy of the current event items.
func (t *Timeline) CurrentEventItems() []ir.TimelineItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.proj.eventItems()
}

// Item returns the item for an event id or transaction id.
func (t *Timeline) Item(id string) (ir.TimelineItem, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.entries[t.resolve(ir.EventID(id))]
	if e == nil {
		return ir.TimelineItem{}, false
	}
	return t.proj.slots[t.proj.indexOf(e.uid)].item, true
}

// PendingTargets returns the number of relation targets whose event has not arrived.
func (t *Timeline) PendingTargets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agg.pendingCount()
}

// Evicted returns how many pending targets were dropped for retention.
func (t *Timeline) Evicted() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.agg.evicted
}

// Enqueue submits a command to the Run loop. It returns false once the
// timeline is closed.
func (t *Timeline) Enqueue(cmd ir.Command) bool {
	return t.queue.Enqueue(cmd)
}

// Run applies enqueued commands until ctx is done or the timeline is
// closed. Per-command errors are logged and do not stop the loop.
func (t *Timeline) Run(ctx context.Context) error {
	t.logger.Info().Msg("timeline run loop starting")

	for {
		if cmd, ok := t.queue.TryDequeue(); ok {
			if err := t.Apply(ctx, cmd); err != nil {
				if errors.Is(err, ErrTimelineClosed) {
					return nil
				}
				if !IsDiscarded(err) {
					t.logger.Error().Err(err).Str("command", string(cmd.Kind)).Msg("command failed")
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			t.logger.Info().Msg("timeline run loop stopping: context cancelled")
			t.queue.Close()
			return ctx.Err()

		case <-t.queue.Wait():
			// The signal channel closes with the queue, which fires this
			// case immediately.
			if t.queue.Len() == 0 && t.queue.Closed() {
				t.logger.Info().Msg("timeline run loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Close detaches every subscription and rejects further commands.
// Batches already queued on a subscription can still be drained.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.pub.closeAll()
	t.queue.Close()
	t.observe()
}
