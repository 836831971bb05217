// Package metrics exposes bridge counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicebridge"

// Frame directions.
const (
	Uplink   = "phone_to_room"
	Downlink = "room_to_phone"
)

// Frame results.
const (
	Forwarded = "forwarded"
	Dropped   = "dropped"
	Failed    = "failed"
)

type Metrics struct {
	sessionsTotal   prometheus.Counter
	sessionsActive  prometheus.Gauge
	sessionDuration prometheus.Histogram
	frames          *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	roomConnects    *prometheus.CounterVec
}

// New registers the bridge metrics on reg. A nil reg means the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		sessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of call sessions created",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of call sessions not yet closed",
		}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of call sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Audio frames by direction and result",
		}, []string{"direction", "result"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Call session state transitions",
		}, []string{"from_state", "to_state"}),
		roomConnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_connects_total",
			Help:      "Room connect attempts by result",
		}, []string{"result"}),
	}
}

// Nop returns metrics bound to a private registry, for tests and tools.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) SessionOpened() {
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(seconds float64) {
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(seconds)
}

func (m *Metrics) Frame(direction, result string) {
	m.frames.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) Transition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RoomConnect(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.roomConnects.WithLabelValues(result).Inc()
}
