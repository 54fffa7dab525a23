package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/store"
	"github.com/roach88/roomline/internal/timeline"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Room     string // optional - specific room only
}

// ReplayRoomResult holds the replay result for a single room.
type ReplayRoomResult struct {
	Room          string           `json:"room"`
	Entries       int64            `json:"entries"`
	LastSeq       int64            `json:"last_seq"`
	Bytes         int64            `json:"bytes"`
	ByKind        map[string]int64 `json:"by_kind"`
	Items         int              `json:"items"`
	Hash          string           `json:"hash"`
	Deterministic bool             `json:"deterministic"`
	Snapshots     int              `json:"snapshots"`
	Mismatched    []int64          `json:"mismatched_snapshots,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Rooms      []ReplayRoomResult `json:"rooms"`
	TotalRooms int                `json:"total_rooms"`
	AllOK      bool               `json:"all_ok"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the journal and verify determinism",
		Long: `Rebuild room timelines from the ingestion journal.

Each room is replayed twice and the two item lists must hash the same.
Recorded snapshots are checked against the items at their seq.

Exit codes:
  0 - Every room replays deterministically and matches its snapshots
  1 - A replay differs or a snapshot mismatches
  2 - Command error (database not found, etc.)

Examples:
  roomline replay --db ./roomline.db
  roomline replay --db ./roomline.db --room '!r:example.org'
  roomline replay --db ./roomline.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Room, "room", "", "replay specific room only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var rooms []ir.RoomID
	if opts.Room != "" {
		rooms = []ir.RoomID{ir.RoomID(opts.Room)}
	} else if rooms, err = st.ListRooms(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to list rooms", err)
	}

	tlOpts, err := timeline.OptionsFromConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid timeline config", err)
	}

	result := ReplayResult{
		Rooms:      make([]ReplayRoomResult, 0, len(rooms)),
		TotalRooms: len(rooms),
		AllOK:      true,
	}
	for _, room := range rooms {
		rr, err := replayRoom(ctx, st, room, tlOpts)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay room %s", room), err)
		}
		if !rr.Deterministic || len(rr.Mismatched) > 0 {
			result.AllOK = false
		}
		result.Rooms = append(result.Rooms, rr)
	}

	var failed *CLIError
	if !result.AllOK {
		failed = &CLIError{Code: "E_DETERMINISM", Message: "replay verification failed"}
	}

	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if out.JSON() {
		if err := out.Result(result, failed); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd, result, opts.Verbose)
	}

	if failed != nil {
		return NewExitError(ExitFailure, failed.Message)
	}
	return nil
}

// replayRoom replays one room twice, compares the hashes and checks snapshots.
func replayRoom(ctx context.Context, st *store.Store, room ir.RoomID, tlOpts []timeline.Option) (ReplayRoomResult, error) {
	stats, err := st.GetRoomStats(ctx, room)
	if err != nil {
		return ReplayRoomResult{}, err
	}
	entries, err := st.ReadRoom(ctx, room)
	if err != nil {
		return ReplayRoomResult{}, err
	}

	first, err := replayHash(ctx, room, entries, tlOpts)
	if err != nil {
		return ReplayRoomResult{}, fmt.Errorf("first replay failed: %w", err)
	}
	second, err := replayHash(ctx, room, entries, tlOpts)
	if err != nil {
		return ReplayRoomResult{}, fmt.Errorf("second replay failed: %w", err)
	}

	snaps, err := st.ReadSnapshots(ctx, room)
	if err != nil {
		return ReplayRoomResult{}, err
	}
	mismatched, err := st.VerifySnapshots(ctx, room, tlOpts...)
	if err != nil {
		return ReplayRoomResult{}, err
	}

	byKind := make(map[string]int64, len(stats.ByKind))
	for k, n := range stats.ByKind {
		byKind[string(k)] = n
	}

	return ReplayRoomResult{
		Room:          string(room),
		Entries:       stats.Entries,
		LastSeq:       stats.LastSeq,
		Bytes:         stats.Bytes,
		ByKind:        byKind,
		Items:         first.items,
		Hash:          first.hash,
		Deterministic: first.hash == second.hash,
		Snapshots:     len(snaps),
		Mismatched:    mismatched,
	}, nil
}

type replayed struct {
	hash  string
	items int
}

func replayHash(ctx context.Context, room ir.RoomID, entries []ir.JournalEntry, tlOpts []timeline.Option) (replayed, error) {
	tl, err := timeline.Replay(ctx, room, entries, tlOpts...)
	if err != nil {
		return replayed{}, err
	}
	defer tl.Close()

	items := tl.CurrentItems()
	hash, err := ir.SnapshotHash(items)
	if err != nil {
		return replayed{}, err
	}
	return replayed{hash: hash, items: len(items)}, nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) {
	w := cmd.OutOrStdout()

	if result.TotalRooms == 0 {
		fmt.Fprintln(w, "No rooms found in journal.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %s\n\n", plural(int64(result.TotalRooms), "room", "rooms"))

	for _, r := range result.Rooms {
		status := "ok  "
		if !r.Deterministic || len(r.Mismatched) > 0 {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s %s\n", status, r.Room)
		fmt.Fprintf(w, "  Journal: %s, %s, last seq %d\n",
			plural(r.Entries, "entry", "entries"), size(r.Bytes), r.LastSeq)
		fmt.Fprintf(w, "  Items: %s, hash %s\n", count(int64(r.Items)), shortID(r.Hash))
		if verbose {
			for _, kind := range slices.Sorted(maps.Keys(r.ByKind)) {
				fmt.Fprintf(w, "    %s: %s\n", kind, count(r.ByKind[kind]))
			}
		}
		if r.Snapshots > 0 {
			fmt.Fprintf(w, "  Snapshots: %d checked, %d mismatched\n", r.Snapshots, len(r.Mismatched))
		}
		if !r.Deterministic {
			fmt.Fprintln(w, "  Warning: non-deterministic replay detected!")
		}
		fmt.Fprintln(w)
	}

	if result.AllOK {
		fmt.Fprintln(w, "All rooms verified deterministic")
		return
	}
	fmt.Fprintln(w, "Replay verification failed")
}
