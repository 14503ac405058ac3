package beam

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jjdmol/LOFAR-sub071/metric"
)

type streamerMetrics struct {
	windows        prometheus.Counter
	windowsDropped prometheus.Counter
	resyncs        prometheus.Counter
	published      prometheus.Counter
	publishErrors  prometheus.Counter
	flaggedSamples prometheus.Counter
	truncated      prometheus.Counter
	lag            *prometheus.GaugeVec
}

func newStreamerMetrics(registry *metric.MetricsRegistry) (*streamerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beamlet", Subsystem: "output", Name: name, Help: help,
		})
	}

	m := &streamerMetrics{
		windows:        counter("windows_total", "Read windows scheduled"),
		windowsDropped: counter("windows_dropped_total", "Read windows dropped because the job queue was full"),
		resyncs:        counter("resyncs_total", "Times the streamer fell out of the history window and skipped ahead"),
		published:      counter("messages_published_total", "Subband messages published"),
		publishErrors:  counter("publish_errors_total", "Subband messages that could not be published"),
		flaggedSamples: counter("flagged_samples_total", "Samples published with a gap flag"),
		truncated:      counter("truncated_windows_total", "Read windows that lost data to the writer"),
		lag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "beamlet", Subsystem: "output", Name: "lag_samples",
			Help: "Distance from the next window's end to the newest written sample",
		}, []string{"beam"}),
	}

	const service = "output"
	for _, err := range []error{
		registry.RegisterCounter(service, "windows", m.windows),
		registry.RegisterCounter(service, "windows_dropped", m.windowsDropped),
		registry.RegisterCounter(service, "resyncs", m.resyncs),
		registry.RegisterCounter(service, "published", m.published),
		registry.RegisterCounter(service, "publish_errors", m.publishErrors),
		registry.RegisterCounter(service, "flagged_samples", m.flaggedSamples),
		registry.RegisterCounter(service, "truncated_windows", m.truncated),
		registry.RegisterGaugeVec(service, "lag", m.lag),
	} {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}
