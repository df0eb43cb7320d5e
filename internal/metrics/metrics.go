package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type collector struct {
	EventCounter      *prometheus.CounterVec
	ErrorEventCounter *prometheus.CounterVec
	ConflictCounter   *prometheus.CounterVec
	DuplicateCounter  *prometheus.CounterVec
	DroppedClients    prometheus.Counter
	Connections       *prometheus.GaugeVec
}

// Metrics records realtime coordination activity. A nil *Metrics is a no-op.
type Metrics struct {
	collector *collector
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	c := &collector{
		EventCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "scrim_events_published_total", Help: "Sequenced events published"},
			[]string{"event"}),

		ErrorEventCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "scrim_error_events_total", Help: "Error events sent to clients"},
			[]string{"code"}),

		ConflictCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "scrim_version_conflicts_total", Help: "Optimistic commit retries"},
			[]string{"entity"}),

		DuplicateCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "scrim_duplicate_commands_total", Help: "Commands ignored by the idempotency guard"},
			[]string{"scope"}),

		DroppedClients: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "scrim_slow_clients_dropped_total", Help: "Connections closed because their send buffer was full"}),

		Connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "scrim_ws_connections", Help: "Open websocket connections"},
			[]string{"channel"}),
	}

	for _, metric := range []prometheus.Collector{
		c.EventCounter,
		c.ErrorEventCounter,
		c.ConflictCounter,
		c.DuplicateCounter,
		c.DroppedClients,
		c.Connections,
	} {
		reg.MustRegister(metric)
	}

	return &Metrics{collector: c}
}

func (m *Metrics) EventPublished(event string) {
	if m == nil {
		return
	}
	m.collector.EventCounter.With(prometheus.Labels{"event": event}).Inc()
}

func (m *Metrics) ErrorSent(code string) {
	if m == nil {
		return
	}
	m.collector.ErrorEventCounter.With(prometheus.Labels{"code": code}).Inc()
}

func (m *Metrics) VersionConflict(entity string) {
	if m == nil {
		return
	}
	m.collector.ConflictCounter.With(prometheus.Labels{"entity": entity}).Inc()
}

func (m *Metrics) DuplicateIgnored(scope string) {
	if m == nil {
		return
	}
	m.collector.DuplicateCounter.With(prometheus.Labels{"scope": scope}).Inc()
}

func (m *Metrics) ClientDropped() {
	if m == nil {
		return
	}
	m.collector.DroppedClients.Inc()
}

func (m *Metrics) ConnectionOpened(channel string) {
	if m == nil {
		return
	}
	m.collector.Connections.With(prometheus.Labels{"channel": channel}).Inc()
}

func (m *Metrics) ConnectionClosed(channel string) {
	if m == nil {
		return
	}
	m.collector.Connections.With(prometheus.Labels{"channel": channel}).Dec()
}
