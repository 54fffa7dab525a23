package timeline

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/roach88/roomline/internal/config"
	"github.com/roach88/roomline/internal/metrics"
)

// DefaultPendingRetention caps relation targets whose event is unseen.
const DefaultPendingRetention = 1024

// Discard warnings are rate limited; malformed floods are counted, not logged.
const (
	discardLogRate  = rate.Limit(1)
	discardLogBurst = 10
)

// Option configures a Timeline.
type Option func(*options)

type options struct {
	loc            *time.Location
	buffer         int
	maxPending     int
	hideReadMarker bool
	decryptor      Decryptor
	journal        Journal
	journalSeq     int64
	metrics        *metrics.Metrics
	logger         *zerolog.Logger
	txnGen         TxnIDGenerator
	now            func() time.Time
}

func defaultOptions() options {
	return options{
		loc:        time.UTC,
		buffer:     DefaultSubscriberBuffer,
		maxPending: DefaultPendingRetention,
		txnGen:     UUIDv7Generator{},
		now:        time.Now,
	}
}

// WithLocation sets the zone used to compute day-divider boundaries.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithSubscriberBuffer bounds each subscriber queue, in batches.
func WithSubscriberBuffer(batches int) Option {
	return func(o *options) { o.buffer = batches }
}

// WithPendingRetention caps pending relation targets. Zero means unbounded.
func WithPendingRetention(n int) Option {
	return func(o *options) { o.maxPending = n }
}

// WithHiddenReadMarker suppresses the read marker item.
func WithHiddenReadMarker(hide bool) Option {
	return func(o *options) { o.hideReadMarker = hide }
}

// WithDecryptor enables decryption of encrypted live events.
func WithDecryptor(d Decryptor) Option {
	return func(o *options) { o.decryptor = d }
}

// WithJournal records every applied command. lastSeq is the highest seq
// already in the journal for this room.
func WithJournal(j Journal, lastSeq int64) Option {
	return func(o *options) {
		o.journal = j
		o.journalSeq = lastSeq
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger overrides the room-scoped component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithTxnGenerator sets the generator for local echoes without a transaction id.
func WithTxnGenerator(g TxnIDGenerator) Option {
	return func(o *options) { o.txnGen = g }
}

// WithNow sets the wall clock used to stamp local echoes without a timestamp.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// OptionsFromConfig maps the timeline section of cfg onto options.
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithLocation(loc),
		WithSubscriberBuffer(cfg.Timeline.SubscriberBuffer),
		WithPendingRetention(cfg.Timeline.PendingRetention),
		WithHiddenReadMarker(cfg.Timeline.HideReadMarker),
	}, nil
}
