package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSessionGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
}

func TestFrameCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Frame(Uplink, Forwarded)
	m.Frame(Uplink, Forwarded)
	m.Frame(Downlink, Dropped)
	m.RoomConnect(false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues(Uplink, Forwarded)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues(Downlink, Dropped)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.roomConnects.WithLabelValues("error")))
}

func TestNewOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
