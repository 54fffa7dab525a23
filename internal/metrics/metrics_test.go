package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "roomline")

	m.CommandIngested("!r", "push_live_event")
	m.CommandIngested("!r", "push_live_event")
	m.EventDiscarded("!r", "missing_sender")
	m.OpPublished("!r", "set")
	m.SubscriberResynced("!r")
	m.DecryptionAttempted("!r", "ok")
	m.Observe("!r", 3, 1, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ingested.WithLabelValues("!r", "push_live_event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Discarded.WithLabelValues("!r", "missing_sender")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiffOps.WithLabelValues("!r", "set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resyncs.WithLabelValues("!r")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecryptCalls.WithLabelValues("!r", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Items.WithLabelValues("!r")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pending.WithLabelValues("!r")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Subscribers.WithLabelValues("!r")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CommandIngested("!r", "x")
		m.EventDiscarded("!r", "x")
		m.OpPublished("!r", "x")
		m.SubscriberResynced("!r")
		m.DecryptionAttempted("!r", "x")
		m.Observe("!r", 1, 1, 1)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "roomline")
	m.CommandIngested("!r", "push_live_event")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roomline_commands_ingested_total")
}
