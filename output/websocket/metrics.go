package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jjdmol/LOFAR-sub071/metric"
)

type feedMetrics struct {
	clients     prometheus.Gauge
	connections prometheus.Counter
	sent        prometheus.Counter
	dropped     prometheus.Counter
	bytesSent   prometheus.Counter
	errors      *prometheus.CounterVec
}

func newFeedMetrics(registry *metric.MetricsRegistry) (*feedMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beamlet", Subsystem: "websocket", Name: name, Help: help,
		})
	}

	m := &feedMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beamlet", Subsystem: "websocket", Name: "clients_connected",
			Help: "Connected websocket clients",
		}),
		connections: counter("connections_total", "Websocket connections accepted"),
		sent:        counter("messages_sent_total", "Window messages written to clients"),
		dropped:     counter("messages_dropped_total", "Window messages dropped for slow clients"),
		bytesSent:   counter("bytes_sent_total", "Bytes written to clients"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beamlet", Subsystem: "websocket", Name: "errors_total",
			Help: "Websocket errors by kind",
		}, []string{"kind"}),
	}

	const service = "websocket"
	for _, err := range []error{
		registry.RegisterGauge(service, "clients", m.clients),
		registry.RegisterCounter(service, "connections", m.connections),
		registry.RegisterCounter(service, "sent", m.sent),
		registry.RegisterCounter(service, "dropped", m.dropped),
		registry.RegisterCounter(service, "bytes_sent", m.bytesSent),
		registry.RegisterCounterVec(service, "errors", m.errors),
	} {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}
