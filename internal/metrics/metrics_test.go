package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/omochice/pvpgn-gateway/internal/metrics"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.BackendOpened()
	m.BackendState("CONNECTED")
	m.BackendState("CONNECTED")
	m.Event("TALK")
	m.Frame(metrics.Inbound, "login")
	m.Dropped()
	m.Error("client")
	m.BackendFault(metrics.FaultHandshake)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveBackends))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendStates.WithLabelValues("CONNECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDecoded.WithLabelValues("TALK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Frames.WithLabelValues("in", "login")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("client")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendFaults.WithLabelValues("handshake")))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed()
		m.BackendOpened()
		m.BackendClosed()
		m.BackendState("ERROR")
		m.Event("RAW")
		m.Frame(metrics.Outbound, "status")
		m.Dropped()
		m.Error("server")
		m.BackendFault(metrics.FaultStream)
	})
}
