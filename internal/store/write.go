package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/roomline/internal/ir"
)

var (
	// ErrSeqConflict is returned when a room's seq already holds a
	// different command.
	ErrSeqConflict = errors.New("journal seq already used")

	// ErrCorruptEntry is returned when a stored entry does not hash to its id.
	ErrCorruptEntry = errors.New("journal entry corrupt")
)

// Append inserts a journal entry. It implements timeline.Journal.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency - re-appending the same
// entry is silently ignored. A different entry at the same (room, seq)
// violates UNIQUE(room_id, seq) and returns ErrSeqConflict.
func (s *Store) Append(ctx context.Context, entry ir.JournalEntry) error {
	return appendEntry(ctx, s.db, entry)
}

// AppendBatch inserts entries atomically: either all are stored or none.
func (s *Store) AppendBatch(ctx context.Context, entries []ir.JournalEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range entries {
		if err := appendEntry(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append batch: commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendEntry(ctx context.Context, db execer, e ir.JournalEntry) error {
	if e.ID == "" {
		id, err := ir.JournalEntryID(e.RoomID, e.Seq, e.Command)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		e.ID = id
	}
	if e.Version == "" {
		e.Version = ir.JournalVersion
	}

	command, err := marshalCommand(e.Command)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO journal
		(id, room_id, seq, kind, command, version, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		string(e.RoomID),
		e.Seq,
		string(e.Command.Kind),
		command,
		e.Version,
		ir.EngineVersion,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("append %s seq %d: %w", e.RoomID, e.Seq, ErrSeqConflict)
		}
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// WriteSnapshot records the hash of a room's items at a journal seq.
// Writing the same (room, seq) again replaces the previous hash.
func (s *Store) WriteSnapshot(ctx context.Context, roomID ir.RoomID, seq int64, items []ir.TimelineItem) (string, error) {
	hash, err := ir.SnapshotHash(items)
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (room_id, seq, hash, items)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, seq) DO UPDATE SET hash = excluded.hash, items = excluded.items
	`, string(roomID), seq, hash, len(items))
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return hash, nil
}

// DeleteRoom removes a room's journal and snapshots.
func (s *Store) DeleteRoom(ctx context.Context, roomID ir.RoomID) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete room: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM journal WHERE room_id = ?`, string(roomID))
	if err != nil {
		return 0, fmt.Errorf("delete room: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE room_id = ?`, string(roomID)); err != nil {
		return 0, fmt.Errorf("delete room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete room: commit: %w", err)
	}
	return n, nil
}
