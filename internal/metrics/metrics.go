// Package metrics exposes board link counters to Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mksystems/hwlink/internal/diag"
)

const namespace = "hwlink"

// NewRegistry creates a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the link counters. It is a diag.Sink, so it can sit in the
// same fanout as the log and the monitor queue.
type Metrics struct {
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	PayloadBytes   *prometheus.CounterVec
	Resyncs        *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	Connections    *prometheus.CounterVec
	Sessions       prometheus.Gauge
}

// New creates the link metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded and dispatched, by board and command",
		}, []string{"board", "command"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to boards, by board and command",
		}, []string{"board", "command"}),
		PayloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Payload bytes by board and direction",
		}, []string{"board", "direction"}),
		Resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Stream resynchronisations by board",
		}, []string{"board"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Protocol errors by board and kind",
		}, []string{"board", "kind"}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Connects and disconnects by board",
		}, []string{"board", "event"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_connected",
			Help:      "Board sessions currently connected",
		}),
	}

	reg.MustRegister(
		m.FramesReceived,
		m.FramesSent,
		m.PayloadBytes,
		m.Resyncs,
		m.Errors,
		m.Connections,
		m.Sessions,
	)
	return m
}

func commandLabel(cmd byte) string {
	return fmt.Sprintf("0x%02x", cmd)
}

// Emit updates the counters for one diagnostic event.
func (m *Metrics) Emit(e diag.Event) {
	switch e.Kind {
	case diag.KindFrame:
		m.FramesReceived.WithLabelValues(e.Board, commandLabel(e.Command)).Inc()
		m.PayloadBytes.WithLabelValues(e.Board, "in").Add(float64(e.Bytes))
	case diag.KindSent:
		m.FramesSent.WithLabelValues(e.Board, commandLabel(e.Command)).Inc()
		m.PayloadBytes.WithLabelValues(e.Board, "out").Add(float64(e.Bytes))
	case diag.KindResync:
		m.Resyncs.WithLabelValues(e.Board).Inc()
	case diag.KindUnknownCommand, diag.KindChecksum, diag.KindIOError, diag.KindHandlerError:
		m.Errors.WithLabelValues(e.Board, string(e.Kind)).Inc()
	case diag.KindConnection:
		switch e.Message {
		case diag.Connected:
			m.Sessions.Inc()
		case diag.Disconnected:
			m.Sessions.Dec()
		default:
			return
		}
		m.Connections.WithLabelValues(e.Board, e.Message).Inc()
	}
}
