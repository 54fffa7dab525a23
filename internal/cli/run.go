package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/timeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Room     string
	Database string
	Snapshot bool
}

// RunResult summarizes a command file applied to a timeline.
type RunResult struct {
	Room      string           `json:"room"`
	Commands  int              `json:"commands"`
	Applied   int              `json:"applied"`
	Discarded map[string]int   `json:"discarded,omitempty"`
	Rejected  []string         `json:"rejected,omitempty"`
	Items     int              `json:"items"`
	Pending   int              `json:"pending_targets"`
	Layout    []string         `json:"layout"`
	Hash      string           `json:"hash"`
	Snapshot  *SnapshotSummary `json:"snapshot,omitempty"`
}

// SnapshotSummary is a snapshot written at the end of a run.
type SnapshotSummary struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <commands.jsonl>",
		Short: "Apply a file of ingestion commands to a timeline",
		Long: `Apply a file of ingestion commands to a room timeline.

Each line of the file is one command in journal form, for example:
  {"kind":"push_live_event","event":{"event_id":"$1","sender":"@a:x","origin_server_ts":1,"type":"m.room.message","content":{"body":"hi"}}}
  {"kind":"push_redaction","event_id":"$1"}

Discarded events and rejected commands are reported and do not stop the
run. With --db (or journal.enabled) every applied command is journaled; a
room that already has a journal is replayed first and extended.

Examples:
  roomline run --room '!r:example.org' commands.jsonl
  roomline run --room '!r:example.org' --db ./roomline.db --snapshot commands.jsonl`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommands(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Room, "room", "", "room id (required)")
	_ = cmd.MarkFlagRequired("room")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database (overrides journal.path)")
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "record a snapshot hash after the run")

	return cmd
}

func runCommands(opts *RunOptions, path string, cmd *cobra.Command) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open command file", err)
	}
	defer f.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(opts.RootOptions, ir.RoomID(opts.Room), opts.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	result := RunResult{Room: opts.Room, Discarded: map[string]int{}}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		result.Commands++

		var c ir.Command
		if err := json.Unmarshal(data, &c); err != nil {
			result.Rejected = append(result.Rejected, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if err := s.Timeline.Apply(ctx, c); err != nil {
			if timeline.IsDiscarded(err) {
				result.Discarded[string(timeline.DiscardReasonOf(err))]++
				out.VerboseLog("line %d: %v", line, err)
				continue
			}
			result.Rejected = append(result.Rejected, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		result.Applied++
	}
	if err := scanner.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read command file", err)
	}

	items := s.Timeline.CurrentItems()
	result.Items = len(items)
	result.Pending = s.Timeline.PendingTargets()
	result.Layout = make([]string, len(items))
	for i, it := range items {
		result.Layout[i] = it.Label()
	}
	if result.Hash, err = ir.SnapshotHash(items); err != nil {
		return WrapExitError(ExitFailure, "failed to hash items", err)
	}

	if opts.Snapshot {
		if s.Store == nil {
			return NewExitError(ExitCommandError, "--snapshot needs a journal (--db or journal.enabled)")
		}
		seq, err := s.Store.GetLastSeq(ctx, ir.RoomID(opts.Room))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		hash, err := s.Store.WriteSnapshot(ctx, ir.RoomID(opts.Room), seq, items)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to write snapshot", err)
		}
		result.Snapshot = &SnapshotSummary{Seq: seq, Hash: hash}
	}

	if out.JSON() {
		return out.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Room %s: applied %s of %s\n", result.Room,
		count(int64(result.Applied)), plural(int64(result.Commands), "command", "commands"))
	for _, reason := range slices.Sorted(maps.Keys(result.Discarded)) {
		fmt.Fprintf(w, "  discarded %s: %s\n", reason, count(int64(result.Discarded[reason])))
	}
	for _, r := range result.Rejected {
		fmt.Fprintf(w, "  rejected %s\n", r)
	}
	fmt.Fprintf(w, "Items: %s (pending relation targets: %d)\n", count(int64(result.Items)), result.Pending)
	for i, label := range result.Layout {
		fmt.Fprintf(w, "  [%d] %s\n", i, label)
	}
	fmt.Fprintf(w, "Hash: %s\n", result.Hash)
	if result.Snapshot != nil {
		fmt.Fprintf(w, "Snapshot written at seq %d\n", result.Snapshot.Seq)
	}
	return nil
}
