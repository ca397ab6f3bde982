package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "biostream"

// Handshake results.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics contains the transport-level collectors.
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    *prometheus.CounterVec
	Handshakes          *prometheus.CounterVec
	NegotiatedDevices   prometheus.Histogram
	FramesSent          prometheus.Counter
	BytesSent           prometheus.Counter
	WriteErrors         prometheus.Counter
	ClientFramesDecoded prometheus.Counter
	ClientFramesDropped prometheus.Counter
}

// New creates the transport collectors. They are not registered.
func New() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "connections_active",
				Help:      "Number of client connections currently served",
			},
		),

		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "connections_total",
				Help:      "Total number of accepted TCP connections",
			},
			[]string{"result"},
		),

		Handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "handshakes_total",
				Help:      "Total number of handshakes by result",
			},
			[]string{"result"},
		),

		NegotiatedDevices: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "negotiated_devices",
				Help:      "Number of devices negotiated per handshake",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
			},
		),

		FramesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "frames_sent_total",
				Help:      "Total number of frames written to clients",
			},
		),

		BytesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "bytes_sent_total",
				Help:      "Total number of frame bytes written to clients",
			},
		),

		WriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "write_errors_total",
				Help:      "Total number of failed frame writes",
			},
		),

		ClientFramesDecoded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "client",
				Name:      "frames_total",
				Help:      "Total number of frames decoded by the client",
			},
		),

		ClientFramesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "client",
				Name:      "frames_dropped_total",
				Help:      "Total number of frames missing from the client stream",
			},
		),
	}
}

// Collectors returns every collector of m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.Handshakes,
		m.NegotiatedDevices,
		m.FramesSent,
		m.BytesSent,
		m.WriteErrors,
		m.ClientFramesDecoded,
		m.ClientFramesDropped,
	}
}

// Register registers every collector of m with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordConnection counts an accepted connection. Rejected connections
// are closed immediately and never become active.
func (m *Metrics) RecordConnection(accepted bool) {
	if m == nil {
		return
	}
	if !accepted {
		m.ConnectionsTotal.WithLabelValues("rejected").Inc()
		return
	}
	m.ConnectionsTotal.WithLabelValues("accepted").Inc()
	m.ConnectionsActive.Inc()
}

// RecordDisconnect marks an accepted connection as finished.
func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// RecordHandshake counts a handshake and the devices it negotiated.
func (m *Metrics) RecordHandshake(devices int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Handshakes.WithLabelValues(ResultFailed).Inc()
		return
	}
	m.Handshakes.WithLabelValues(ResultOK).Inc()
	m.NegotiatedDevices.Observe(float64(devices))
}

// RecordFrameSent counts one frame write of size bytes.
func (m *Metrics) RecordFrameSent(size int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(size))
}

// RecordWriteError counts a failed frame write.
func (m *Metrics) RecordWriteError() {
	if m == nil {
		return
	}
	m.WriteErrors.Inc()
}

// RecordClientFrame counts one decoded client frame and the frames missing
// before it.
func (m *Metrics) RecordClientFrame(dropped int) {
	if m == nil {
		return
	}
	m.ClientFramesDecoded.Inc()
	if dropped > 0 {
		m.ClientFramesDropped.Add(float64(dropped))
	}
}
