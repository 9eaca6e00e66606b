// Package metrics holds the Prometheus collectors shared by the feed
// connectors and the ingestion supervisor. All methods are safe on a nil
// *Metrics, which disables collection.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ais_ingest"

// Error kinds counted by Error.
const (
	ErrConnection  = "connection"
	ErrDecode      = "decode"
	ErrPersistence = "persistence"
)

// Metrics holds the ingestion collectors.
type Metrics struct {
	framesReceived *prometheus.CounterVec
	events         *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	errors         *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	connected      *prometheus.GaugeVec
	vesselsCreated prometheus.Counter
	positions      prometheus.Counter
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Raw frames read from a feed",
		}, []string{"feed"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Frames decoded into vessel events",
		}, []string{"type"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Frames that decoded to nothing",
		}, []string{"reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Non-fatal runtime errors by kind",
		}, []string{"kind"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_sessions_total",
			Help:      "Feed sessions established",
		}, []string{"feed"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connected",
			Help:      "1 while a feed session is open",
		}, []string{"feed"}),
		vesselsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vessels_created_total",
			Help:      "Vessel snapshots created by first sightings",
		}),
		positions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_recorded_total",
			Help:      "Position history rows appended",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.framesReceived, m.events, m.skipped, m.errors,
			m.sessions, m.connected, m.vesselsCreated, m.positions)
	}
	return m
}

func (m *Metrics) FrameReceived(feed string) {
	if m != nil {
		m.framesReceived.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) Event(eventType string) {
	if m != nil {
		m.events.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) Skipped(reason string) {
	if m != nil {
		m.skipped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Error(kind string) {
	if m != nil {
		m.errors.WithLabelValues(kind).Inc()
	}
}

// SessionStarted counts a session and marks the feed connected.
func (m *Metrics) SessionStarted(feed string) {
	if m != nil {
		m.sessions.WithLabelValues(feed).Inc()
		m.connected.WithLabelValues(feed).Set(1)
	}
}

func (m *Metrics) SessionEnded(feed string) {
	if m != nil {
		m.connected.WithLabelValues(feed).Set(0)
	}
}

func (m *Metrics) VesselCreated() {
	if m != nil {
		m.vesselsCreated.Inc()
	}
}

func (m *Metrics) PositionRecorded() {
	if m != nil {
		m.positions.Inc()
	}
}
