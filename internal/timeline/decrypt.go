package timeline

import (
	"context"
	"errors"
	"slices"

	"github.com/roach88/roomline/internal/ir"
)

// Decryptor is the encryption collaborator. Decrypt may block; the
// timeline never calls it while holding its lock.
type Decryptor interface {
	Decrypt(ctx context.Context, eventID ir.EventID, env ir.EncryptedEnvelope) (ir.DecryptedEvent, error)
}

// DecryptorFunc adapts a function to Decryptor.
type DecryptorFunc func(ctx context.Context, eventID ir.EventID, env ir.EncryptedEnvelope) (ir.DecryptedEvent, error)

// Decrypt calls f.
func (f DecryptorFunc) Decrypt(ctx context.Context, eventID ir.EventID, env ir.EncryptedEnvelope) (ir.DecryptedEvent, error) {
	return f(ctx, eventID, env)
}

type decryptTarget struct {
	id  ir.EventID
	env ir.EncryptedEnvelope
	seq int64
}

// undecrypted collects the encrypted records still awaiting a key. An
// empty ids means all of them, oldest first.
func (t *Timeline) undecrypted(ids []ir.EventID) []decryptTarget {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []decryptTarget
	add := func(rec *record) {
		if rec != nil && rec.undecrypted() {
			out = append(out, decryptTarget{id: rec.eventID, env: *rec.envelope, seq: rec.seq})
		}
	}
	if len(ids) > 0 {
		for _, id := range ids {
			add(t.records[id])
		}
		return out
	}
	for _, rec := range t.records {
		add(rec)
	}
	slices.SortFunc(out, func(a, b decryptTarget) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return out
}

// RetryDecryption asks the decryptor again for undecrypted events, for
// example after new room keys arrived. With no ids every undecrypted
// event is retried. It returns the number of successful decryptions.
func (t *Timeline) RetryDecryption(ctx context.Context, ids ...ir.EventID) (int, error) {
	if t.opts.decryptor == nil {
		return 0, ErrNoDecryptor
	}
	return t.decrypt(ctx, t.undecrypted(ids))
}

func (t *Timeline) decrypt(ctx context.Context, targets []decryptTarget) (int, error) {
	n := 0
	for _, tg := range targets {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		result, err := t.fetch(ctx, tg)
		if err != nil {
			return n, err
		}
		if result.Failure == nil {
			n++
		}
		if err := t.PushDecryptionResult(ctx, tg.id, result); err != nil && !errors.Is(err, ErrUnknownEvent) {
			return n, err
		}
	}
	return n, nil
}

// fetch asks the decryptor about one event. A decryptor error becomes a
// failure result; fetch itself fails only when ctx is done.
func (t *Timeline) fetch(ctx context.Context, tg decryptTarget) (ir.DecryptionResult, error) {
	room := string(t.roomID)
	dec, err := t.opts.decryptor.Decrypt(ctx, tg.id, tg.env)
	if err != nil {
		if ctx.Err() != nil {
			return ir.DecryptionResult{}, ctx.Err()
		}
		result := ir.DecryptionResult{Failure: ir.AsDecryptionFailure(err)}
		t.opts.metrics.DecryptionAttempted(room, string(result.Failure.Code))
		t.logger.Debug().
			Str("event_id", string(tg.id)).
			Str("session_id", tg.env.SessionID).
			Err(err).
			Msg("decryption failed")
		return result, nil
	}
	t.opts.metrics.DecryptionAttempted(room, "ok")
	return ir.Decrypted(dec), nil
}

type decryptOutcome int

const (
	// decryptionSkipped: the event was not new or not encrypted.
	decryptionSkipped decryptOutcome = iota
	// decryptionFolded: the event was applied already decrypted.
	decryptionFolded
	// decryptionDeferred: the event was applied as a placeholder and the
	// result still has to follow as its own command.
	decryptionDeferred
)

// liveTarget reports whether raw is a new encrypted event, and its envelope.
func (t *Timeline) liveTarget(raw *ir.RawEvent) (decryptTarget, bool) {
	rec, err := normalize(raw, 0)
	if err != nil || rec.eventID == "" || !rec.undecrypted() {
		return decryptTarget{}, false
	}
	t.mu.RLock()
	_, seen := t.records[rec.eventID]
	t.mu.RUnlock()
	if seen {
		return decryptTarget{}, false
	}
	return decryptTarget{id: rec.eventID, env: *rec.envelope}, true
}

// applyEncrypted decrypts a live event without holding the lock, then
// applies the event and the outcome as one commit. The journal gets the
// live event followed by the decryption result, which replays to the
// same items.
func (t *Timeline) applyEncrypted(ctx context.Context, cmd ir.Command, tg decryptTarget) error {
	result, err := t.fetch(ctx, tg)
	if err != nil {
		t.logger.Warn().Err(err).Str("event_id", string(tg.id)).Msg("decryption aborted")
		_, err := t.apply(ctx, cmd)
		return err
	}

	deferred, err := t.applyDecrypted(ctx, cmd, result)
	if err != nil || !deferred {
		return err
	}
	if err := t.PushDecryptionResult(ctx, tg.id, result); err != nil && !errors.Is(err, ErrUnknownEvent) {
		return err
	}
	return nil
}

// applyDecrypted is apply for a live event whose decryption outcome is
// already known. It reports whether the outcome still has to be pushed.
func (t *Timeline) applyDecrypted(ctx context.Context, cmd ir.Command, result ir.DecryptionResult) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false, ErrTimelineClosed
	}

	cmd = t.prepare(cmd)
	outcome, err := t.foldLive(cmd.Event, &result)
	if err != nil {
		if IsDiscarded(err) {
			t.logDiscard(cmd, err)
		}
		t.reconcileVirtual()
		t.commit()
		return false, err
	}

	room := string(t.roomID)
	t.opts.metrics.CommandIngested(room, string(cmd.Kind))
	if outcome == decryptionFolded {
		t.opts.metrics.CommandIngested(room, string(ir.CommandDecryption))
	}
	t.reconcileVirtual()
	t.commit()
	t.record(ctx, cmd)
	if outcome == decryptionFolded {
		t.record(ctx, ir.Command{Kind: ir.CommandDecryption, EventID: cmd.Event.EventID, Result: &result})
	}
	return outcome == decryptionDeferred, nil
}
