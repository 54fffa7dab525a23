package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/roomline/internal/ir"
)

// ReadRoom returns every journal entry of a room.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the room has no entries.
func (s *Store) ReadRoom(ctx context.Context, roomID ir.RoomID) ([]ir.JournalEntry, error) {
	return s.ReadRoomSince(ctx, roomID, 0)
}

// ReadRoomSince returns the entries of a room with seq greater than after.
func (s *Store) ReadRoomSince(ctx context.Context, roomID ir.RoomID, after int64) ([]ir.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, seq, command, version
		FROM journal
		WHERE room_id = ? AND seq > ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(roomID), after)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []ir.JournalEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}

	return entries, nil
}

// ReadEntry retrieves a single journal entry by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadEntry(ctx context.Context, id string) (ir.JournalEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, seq, command, version
		FROM journal
		WHERE id = ?
	`, id)
	return scanEntry(row)
}

// Snapshot is a recorded items hash.
type Snapshot struct {
	RoomID ir.RoomID
	Seq    int64
	Hash   string
	Items  int
}

// ReadSnapshots returns a room's snapshots ordered by seq.
func (s *Store) ReadSnapshots(ctx context.Context, roomID ir.RoomID) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, seq, hash, items
		FROM snapshots
		WHERE room_id = ?
		ORDER BY seq ASC
	`, string(roomID))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		var (
			snap Snapshot
			room string
		)
		if err := rows.Scan(&room, &snap.Seq, &snap.Hash, &snap.Items); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.RoomID = ir.RoomID(room)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry decodes one journal row and checks it against its id.
func scanEntry(row scanner) (ir.JournalEntry, error) {
	var (
		e       ir.JournalEntry
		room    string
		command string
	)
	if err := row.Scan(&e.ID, &room, &e.Seq, &command, &e.Version); err != nil {
		if err == sql.ErrNoRows {
			return ir.JournalEntry{}, err
		}
		return ir.JournalEntry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	e.RoomID = ir.RoomID(room)

	cmd, err := unmarshalCommand(command)
	if err != nil {
		return ir.JournalEntry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	e.Command = cmd

	want, err := ir.JournalEntryID(e.RoomID, e.Seq, cmd)
	if err != nil {
		return ir.JournalEntry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if want != e.ID {
		return ir.JournalEntry{}, fmt.Errorf("entry %s at seq %d: %w", e.ID, e.Seq, ErrCorruptEntry)
	}
	return e, nil
}
