package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/roomline/internal/driver"
	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/logging"
)

// DriveOptions holds flags for the drive command.
type DriveOptions struct {
	*RootOptions
	Room     string
	Database string
}

// NewDriveCommand creates the drive command.
func NewDriveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DriveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Drive a timeline with JSON control messages on stdin",
		Long: `Drive a room timeline with JSON control messages.

Reads one request per line from stdin and writes one response per line to
stdout. Malformed requests get an error response and do not stop the loop.

  {"id":"1","action":"push_live_event","event":{...}}
  {"id":"2","action":"subscribe","stream":"events","name":"ui"}
  {"id":"3","action":"poll","subscription":"ui"}

With metrics.enabled the Prometheus collectors are served on metrics.addr.

Examples:
  roomline drive --room '!r:example.org' < requests.jsonl
  roomline drive --room '!r:example.org' --db ./roomline.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrive(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Room, "room", "", "room id (required)")
	_ = cmd.MarkFlagRequired("room")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database (overrides journal.path)")

	return cmd
}

func runDrive(opts *DriveOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(opts.RootOptions, ir.RoomID(opts.Room), opts.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	s.serveMetrics(ctx, opts.Config.Metrics.Addr)

	d := driver.New(s.Timeline, driver.WithLogger(logging.WithRoom("driver", opts.Room)))
	defer d.Close()

	err = d.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "driver stopped", err)
	}
	return nil
}
