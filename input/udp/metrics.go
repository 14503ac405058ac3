package udp

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jjdmol/LOFAR-sub071/metric"
)

// Metrics holds Prometheus metrics for the UDP input
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	malformed       prometheus.Counter
	socketErrors    prometheus.Counter
	writeErrors     prometheus.Counter
	batchSize       prometheus.Histogram
	writeLatency    prometheus.Histogram
	lastActivity    prometheus.Gauge
}

// newMetrics creates and registers UDP input metrics. A nil registry yields nil metrics.
func newMetrics(registry *metric.MetricsRegistry, port int) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"port": strconv.Itoa(port)}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beamlet", Subsystem: "udp", Name: name,
			ConstLabels: labels, Help: help,
		})
	}

	m := &Metrics{
		packetsReceived: counter("packets_received_total", "Total datagrams received"),
		bytesReceived:   counter("bytes_received_total", "Total bytes received"),
		malformed:       counter("malformed_frames_total", "Datagrams dropped for a wrong frame size"),
		socketErrors:    counter("socket_errors_total", "Socket read errors encountered"),
		writeErrors:     counter("write_errors_total", "Batches the buffer refused"),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beamlet", Subsystem: "udp", Name: "batch_size",
			ConstLabels: labels, Help: "Packets per buffer write",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beamlet", Subsystem: "udp", Name: "write_duration_seconds",
			ConstLabels: labels, Help: "Time to store one batch, including flow-control waits",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beamlet", Subsystem: "udp", Name: "last_activity_timestamp",
			ConstLabels: labels, Help: "Unix timestamp of the last received datagram",
		}),
	}

	service := "udp_" + strconv.Itoa(port)
	for _, err := range []error{
		registry.RegisterCounter(service, "packets_received", m.packetsReceived),
		registry.RegisterCounter(service, "bytes_received", m.bytesReceived),
		registry.RegisterCounter(service, "malformed_frames", m.malformed),
		registry.RegisterCounter(service, "socket_errors", m.socketErrors),
		registry.RegisterCounter(service, "write_errors", m.writeErrors),
		registry.RegisterHistogram(service, "batch_size", m.batchSize),
		registry.RegisterHistogram(service, "write_latency", m.writeLatency),
		registry.RegisterGauge(service, "last_activity", m.lastActivity),
	} {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}
