package timeline

import (
	"context"
	"fmt"

	"github.com/roach88/roomline/internal/ir"
)

// Journal records applied commands so a timeline can be rebuilt.
//
// Append is called under the timeline's write lock, in commit order, so
// journal seq order is apply order.
type Journal interface {
	Append(ctx context.Context, entry ir.JournalEntry) error
}

// Replay rebuilds a timeline by applying entries in order.
//
// Replay is structural: journal entries go through the same Apply path
// as live commands. Decryption results were journaled as commands, so no
// decryptor is called during replay, and nothing is re-appended to the
// journal. Both are restored afterwards, so the returned timeline can
// keep ingesting where the journal left off.
func Replay(ctx context.Context, roomID ir.RoomID, entries []ir.JournalEntry, opts ...Option) (*Timeline, error) {
	t := New(roomID, opts...)

	journal, decryptor := t.opts.journal, t.opts.decryptor
	t.opts.journal, t.opts.decryptor = nil, nil
	defer func() {
		t.opts.journal, t.opts.decryptor = journal, decryptor
	}()

	var last int64
	for _, e := range entries {
		if e.RoomID != roomID {
			return t, fmt.Errorf("journal entry %d belongs to room %s, not %s", e.Seq, e.RoomID, roomID)
		}
		if e.Seq <= last {
			return t, fmt.Errorf("journal entry %d out of order after %d", e.Seq, last)
		}
		last = e.Seq
		if err := t.Apply(ctx, e.Command); err != nil && !IsDiscarded(err) {
			return t, fmt.Errorf("replay entry %d (%s): %w", e.Seq, e.Command.Kind, err)
		}
	}

	t.mu.Lock()
	if last > t.journalSeq {
		t.journalSeq = last
	}
	t.mu.Unlock()

	t.logger.Info().Int("entries", len(entries)).Int64("last_seq", last).Msg("timeline replayed")
	return t, nil
}
