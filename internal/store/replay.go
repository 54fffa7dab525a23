package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/timeline"
)

// RoomStats summarizes a room's journal.
type RoomStats struct {
	RoomID  ir.RoomID
	Entries int64
	LastSeq int64
	Bytes   int64
	ByKind  map[ir.CommandKind]int64
}

// GetRoomStats reads the journal statistics of one room.
func (s *Store) GetRoomStats(ctx context.Context, roomID ir.RoomID) (RoomStats, error) {
	stats := RoomStats{RoomID: roomID, ByKind: make(map[ir.CommandKind]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(seq), 0), COALESCE(SUM(LENGTH(command)), 0)
		FROM journal
		WHERE room_id = ?
	`, string(roomID)).Scan(&stats.Entries, &stats.LastSeq, &stats.Bytes)
	if err != nil {
		return stats, fmt.Errorf("get room stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*)
		FROM journal
		WHERE room_id = ?
		GROUP BY kind
		ORDER BY kind ASC
	`, string(roomID))
	if err != nil {
		return stats, fmt.Errorf("get room stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind string
			n    int64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return stats, fmt.Errorf("get room stats: %w", err)
		}
		stats.ByKind[ir.CommandKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("get room stats: %w", err)
	}
	return stats, nil
}

// ListRooms returns every room with a journal, sorted by id.
func (s *Store) ListRooms(ctx context.Context) ([]ir.RoomID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT room_id
		FROM journal
		ORDER BY room_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []ir.RoomID{}
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		rooms = append(rooms, ir.RoomID(room))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// GetLastSeq returns the highest journal seq of a room, or 0 if it has none.
func (s *Store) GetLastSeq(ctx context.Context, roomID ir.RoomID) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM journal WHERE room_id = ?
	`, string(roomID)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// ReplayRoom rebuilds a room's timeline from its journal.
//
// The returned timeline journals into s from the next seq on, so a
// process can restart, replay and keep ingesting.
func (s *Store) ReplayRoom(ctx context.Context, roomID ir.RoomID, opts ...timeline.Option) (*timeline.Timeline, error) {
	entries, err := s.ReadRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("replay room: %w", err)
	}

	var last int64
	if n := len(entries); n > 0 {
		last = entries[n-1].Seq
	}

	opts = append(opts, timeline.WithJournal(s, last))
	tl, err := timeline.Replay(ctx, roomID, entries, opts...)
	if err != nil {
		return nil, fmt.Errorf("replay room: %w", err)
	}
	return tl, nil
}

// VerifySnapshots replays a room and checks every recorded snapshot hash
// against the items at that seq. It returns the seqs whose hash differs.
func (s *Store) VerifySnapshots(ctx context.Context, roomID ir.RoomID, opts ...timeline.Option) ([]int64, error) {
	snaps, err := s.ReadSnapshots(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ReadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	var mismatched []int64
	for _, snap := range snaps {
		prefix := entries
		for i, e := range entries {
			if e.Seq > snap.Seq {
				prefix = entries[:i]
				break
			}
		}
		tl, err := timeline.Replay(ctx, roomID, prefix, opts...)
		if err != nil {
			return nil, fmt.Errorf("verify snapshot %d: %w", snap.Seq, err)
		}
		hash, err := ir.SnapshotHash(tl.CurrentItems())
		tl.Close()
		if err != nil {
			return nil, fmt.Errorf("verify snapshot %d: %w", snap.Seq, err)
		}
		if hash != snap.Hash {
			mismatched = append(mismatched, snap.Seq)
		}
	}
	return mismatched, nil
}
