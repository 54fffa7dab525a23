package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/logging"
	"github.com/roach88/roomline/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Room     string
	Since    int64
	Limit    int
}

// TraceEntry is one journal entry as printed by trace.
type TraceEntry struct {
	Seq     int64  `json:"seq"`
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Target  string `json:"target,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// TraceResult holds the entries of one room.
type TraceResult struct {
	Room    string       `json:"room"`
	Entries []TraceEntry `json:"entries"`
	LastSeq int64        `json:"last_seq"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the ingestion journal of a room",
		Long: `Show the ingestion journal of a room in apply order.

Each entry lists its seq, content-addressed id, command kind and the event
or transaction it touched.

Examples:
  roomline trace --db ./roomline.db --room '!r:example.org'
  roomline trace --db ./roomline.db --room '!r:example.org' --since 120 --limit 20
  roomline trace --db ./roomline.db --room '!r:example.org' --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Room, "room", "", "room id (required)")
	_ = cmd.MarkFlagRequired("room")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only entries after this seq")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	room := ir.RoomID(opts.Room)
	entries, err := st.ReadRoomSince(ctx, room, opts.Since)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	last, err := st.GetLastSeq(ctx, room)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	result := TraceResult{Room: opts.Room, Entries: make([]TraceEntry, len(entries)), LastSeq: last}
	for i, e := range entries {
		result.Entries[i] = traceEntry(e)
	}

	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if out.JSON() {
		return out.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(result.Entries) == 0 {
		fmt.Fprintf(w, "No journal entries for %s\n", opts.Room)
		return nil
	}
	fmt.Fprintf(w, "Journal for %s (%s, last seq %d)\n", opts.Room,
		plural(int64(len(result.Entries)), "entry", "entries"), last)
	for _, e := range result.Entries {
		fmt.Fprintf(w, "%6d  %-22s %-12s %s", e.Seq, e.Kind, shortID(e.ID), e.Target)
		if e.Summary != "" {
			fmt.Fprintf(w, "  %s", e.Summary)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func traceEntry(e ir.JournalEntry) TraceEntry {
	c := e.Command
	te := TraceEntry{Seq: e.Seq, ID: e.ID, Kind: string(c.Kind)}

	switch {
	case c.Event != nil && c.Event.EventID != "":
		te.Target = string(c.Event.EventID)
	case c.Event != nil && c.Event.TxnID != "":
		te.Target = "txn:" + string(c.Event.TxnID)
	case c.EventID != "":
		te.Target = string(c.EventID)
	case c.TxnID != "":
		te.Target = "txn:" + string(c.TxnID)
	}

	switch c.Kind {
	case ir.CommandLiveEvent, ir.CommandLocalEcho:
		if c.Event != nil {
			te.Summary = c.Event.Type + " from " + string(c.Event.Sender)
		}
	case ir.CommandReceipt:
		te.Summary = "by " + string(c.User)
	case ir.CommandDecryption:
		if c.Result != nil && c.Result.Failure != nil {
			te.Summary = "failed: " + string(c.Result.Failure.Code)
		} else {
			te.Summary = "decrypted"
		}
	case ir.CommandRedaction, ir.CommandSendFailure:
		te.Summary = c.Reason
	}
	return te
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// openExistingStore opens a journal that must already exist.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path, store.WithLogger(logging.Component("store")))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
