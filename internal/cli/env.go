package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/logging"
	"github.com/roach88/roomline/internal/metrics"
	"github.com/roach88/roomline/internal/store"
	"github.com/roach88/roomline/internal/timeline"
)

// session is one timeline built from the loaded configuration, with the
// journal and metrics registry it writes to.
type session struct {
	Timeline *timeline.Timeline
	Store    *store.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// openSession builds a timeline for roomID. dbPath overrides
// journal.path and turns the journal on; with neither set the timeline
// is not journaled.
func openSession(opts *RootOptions, roomID ir.RoomID, dbPath string, extra ...timeline.Option) (*session, error) {
	cfg := opts.Config
	s := &session{logger: logging.WithRoom("cli", string(roomID))}

	tlOpts, err := timeline.OptionsFromConfig(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid timeline config", err)
	}
	tlOpts = append(tlOpts, timeline.WithLogger(logging.WithRoom("timeline", string(roomID))))

	if cfg.Metrics.Enabled {
		s.Registry = prometheus.NewRegistry()
		s.Metrics = metrics.New(s.Registry, cfg.Metrics.Namespace)
		tlOpts = append(tlOpts, timeline.WithMetrics(s.Metrics))
	}

	path := dbPath
	if path == "" && cfg.Journal.Enabled {
		path = cfg.Journal.Path
	}
	if path != "" {
		st, err := store.Open(path, store.WithLogger(logging.Component("store")))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		s.Store = st

		last, err := st.GetLastSeq(context.Background(), roomID)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		if last > 0 {
			// Resume: rebuild the room and keep journaling after its last seq.
			tl, err := st.ReplayRoom(context.Background(), roomID, append(tlOpts, extra...)...)
			if err != nil {
				st.Close()
				return nil, WrapExitError(ExitCommandError, "failed to replay journal", err)
			}
			s.Timeline = tl
			s.logger.Info().Int64("last_seq", last).Str("path", path).Msg("journal resumed")
			return s, nil
		}
		tlOpts = append(tlOpts, timeline.WithJournal(st, 0))
	}

	s.Timeline = timeline.New(roomID, append(tlOpts, extra...)...)
	return s, nil
}

// Close closes the timeline and the journal.
func (s *session) Close() {
	s.Timeline.Close()
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.logger.Error().Err(err).Msg("error closing journal")
		}
	}
}

// serveMetrics exposes the session registry on addr until ctx is done.
// It is a no-op when metrics are disabled.
func (s *session) serveMetrics(ctx context.Context, addr string) {
	if s.Registry == nil || addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(s.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
