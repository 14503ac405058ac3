package buffer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jjdmol/LOFAR-sub071/metric"
)

// bufferMetrics holds Prometheus metrics for buffer operations.
type bufferMetrics struct {
	packetsWritten     prometheus.Counter
	packetsRejected    prometheus.Counter
	gapSamples         prometheus.Counter
	invalidatedSamples prometheus.Counter
	writerStalls       prometheus.Counter
	forcedWrites       prometheus.Counter
	transactions       prometheus.Counter
	truncated          prometheus.Counter

	stallDuration prometheus.Histogram

	activeReaders prometheus.Gauge
	newest        prometheus.Gauge
	writerBlocked prometheus.Gauge
}

// newBufferMetrics creates and registers buffer metrics with the provided registry.
func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "beamlet",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "beamlet",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &bufferMetrics{
		packetsWritten:     counter("packets_written_total", "Total number of packets stored"),
		packetsRejected:    counter("packets_rejected_total", "Total number of packets dropped for arriving behind the write cursor"),
		gapSamples:         counter("gap_samples_total", "Total number of samples missing from the packet stream"),
		invalidatedSamples: counter("invalidated_samples_total", "Total number of samples overwritten under an active reader"),
		writerStalls:       counter("writer_stalls_total", "Total number of times the writer waited for readers"),
		forcedWrites:       counter("forced_writes_total", "Total number of writer waits that ended by deadline"),
		transactions:       counter("read_transactions_total", "Total number of read transactions begun"),
		truncated:          counter("truncated_transactions_total", "Total number of read transactions that lost data to the writer"),
		stallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "beamlet",
			Subsystem:   "buffer",
			Name:        "writer_stall_seconds",
			ConstLabels: labels,
			Help:        "Time the writer spent waiting for readers",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		activeReaders: gauge("active_readers", "Number of open read transactions"),
		newest:        gauge("newest_timestamp", "End of the most recently completed write"),
		writerBlocked: gauge("writer_blocked", "1 while the writer waits for readers, 0 otherwise"),
	}

	counters := map[string]prometheus.Counter{
		"buffer_packets_written":        m.packetsWritten,
		"buffer_packets_rejected":       m.packetsRejected,
		"buffer_gap_samples":            m.gapSamples,
		"buffer_invalidated_samples":    m.invalidatedSamples,
		"buffer_writer_stalls":          m.writerStalls,
		"buffer_forced_writes":          m.forcedWrites,
		"buffer_read_transactions":      m.transactions,
		"buffer_truncated_transactions": m.truncated,
	}
	for name, c := range counters {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterHistogram(prefix, "buffer_writer_stall", m.stallDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_active_readers", m.activeReaders); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_newest_timestamp", m.newest); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_writer_blocked", m.writerBlocked); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(end int64) {
	m.packetsWritten.Inc()
	m.newest.Set(float64(end))
}

func (m *bufferMetrics) recordReject() {
	m.packetsRejected.Inc()
}

func (m *bufferMetrics) recordGap(n int64) {
	m.gapSamples.Add(float64(n))
}

func (m *bufferMetrics) recordInvalidated(n int64) {
	m.invalidatedSamples.Add(float64(n))
}

func (m *bufferMetrics) recordStall(d time.Duration, forced bool) {
	m.writerStalls.Inc()
	m.stallDuration.Observe(d.Seconds())
	if forced {
		m.forcedWrites.Inc()
	}
}

func (m *bufferMetrics) recordBlocked(b bool) {
	if b {
		m.writerBlocked.Set(1)
		return
	}
	m.writerBlocked.Set(0)
}

func (m *bufferMetrics) recordBegin() {
	m.transactions.Inc()
	m.activeReaders.Inc()
}

func (m *bufferMetrics) recordEnd(truncated bool) {
	m.activeReaders.Dec()
	if truncated {
		m.truncated.Inc()
	}
}
