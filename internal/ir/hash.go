package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainJournal  = "roomline/journal/v1"
	DomainSnapshot = "roomline/snapshot/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// JournalEntryID computes the content-addressed id of a journaled command.
// The id is stable across restarts and replays given the same inputs.
func JournalEntryID(roomID RoomID, seq int64, cmd Command) (string, error) {
	canonical, err := CanonicalValue(map[string]any{
		"room_id": string(roomID),
		"seq":     seq,
		"command": cmd,
	})
	if err != nil {
		return "", fmt.Errorf("JournalEntryID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainJournal, canonical), nil
}

// SnapshotHash fingerprints a projection. Two projections with equal
// hashes render identically, including item identities.
func SnapshotHash(items []TimelineItem) (string, error) {
	canonical, err := CanonicalValue(items)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustJournalEntryID is like JournalEntryID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustJournalEntryID(roomID RoomID, seq int64, cmd Command) string {
	id, err := JournalEntryID(roomID, seq, cmd)
	if err != nil {
		panic(err)
	}
	return id
}
