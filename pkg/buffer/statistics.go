package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. It is always collected, independent of Prometheus.
type Statistics struct {
	packetsWritten     atomic.Int64
	packetsRejected    atomic.Int64
	gaps               atomic.Int64
	gapSamples         atomic.Int64
	invalidatedSamples atomic.Int64
	writerStalls       atomic.Int64
	forcedWrites       atomic.Int64
	stallNanos         atomic.Int64
	transactions       atomic.Int64
	truncated          atomic.Int64
	activeReaders      atomic.Int64
	newest             atomic.Int64
	writerBlocked      atomic.Bool

	startTime time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Written records a packet that reached the store.
func (s *Statistics) Written(end int64) {
	s.packetsWritten.Add(1)
	s.newest.Store(end)
}

// Rejected records a packet dropped because its timestamp lies before the writer's cursor.
func (s *Statistics) Rejected() {
	s.packetsRejected.Add(1)
}

// Gap records a forward jump of n samples in the packet stream.
func (s *Statistics) Gap(n int64) {
	s.gaps.Add(1)
	s.gapSamples.Add(n)
}

// Invalidated records n samples flagged because the writer overwrote them under a reader.
func (s *Statistics) Invalidated(n int64) {
	s.invalidatedSamples.Add(n)
}

// Stalled records one synchronous-mode wait and whether it ended by deadline.
func (s *Statistics) Stalled(d time.Duration, forced bool) {
	s.writerStalls.Add(1)
	s.stallNanos.Add(int64(d))
	if forced {
		s.forcedWrites.Add(1)
	}
}

// Blocked records that the writer started or stopped waiting for readers.
func (s *Statistics) Blocked(b bool) {
	s.writerBlocked.Store(b)
}

// TransactionBegun records a new read transaction.
func (s *Statistics) TransactionBegun() {
	s.transactions.Add(1)
	s.activeReaders.Add(1)
}

// TransactionEnded records the end of a read transaction.
func (s *Statistics) TransactionEnded(truncated bool) {
	s.activeReaders.Add(-1)
	if truncated {
		s.truncated.Add(1)
	}
}

func (s *Statistics) PacketsWritten() int64  { return s.packetsWritten.Load() }
func (s *Statistics) PacketsRejected() int64 { return s.packetsRejected.Load() }
func (s *Statistics) Gaps() int64            { return s.gaps.Load() }
func (s *Statistics) GapSamples() int64      { return s.gapSamples.Load() }
func (s *Statistics) WriterStalls() int64    { return s.writerStalls.Load() }
func (s *Statistics) ForcedWrites() int64    { return s.forcedWrites.Load() }
func (s *Statistics) Transactions() int64    { return s.transactions.Load() }
func (s *Statistics) ActiveReaders() int64   { return s.activeReaders.Load() }

// WriterBlocked reports whether the writer is waiting for readers right now.
func (s *Statistics) WriterBlocked() bool {
	return s.writerBlocked.Load()
}

// InvalidatedSamples returns the number of samples lost to overwrites under a reader.
func (s *Statistics) InvalidatedSamples() int64 {
	return s.invalidatedSamples.Load()
}

// TruncatedTransactions returns the number of ended transactions that lost data to the writer.
func (s *Statistics) TruncatedTransactions() int64 {
	return s.truncated.Load()
}

// StallTime returns the accumulated time the writer spent waiting for readers.
func (s *Statistics) StallTime() time.Duration {
	return time.Duration(s.stallNanos.Load())
}

// Throughput returns the average number of packets written per second.
func (s *Statistics) Throughput() float64 {
	elapsed := time.Since(s.startTime)
	if elapsed == 0 {
		return 0.0
	}
	return float64(s.PacketsWritten()) / elapsed.Seconds()
}

// RejectRate returns the fraction of received packets that were rejected (0.0 to 1.0).
func (s *Statistics) RejectRate() float64 {
	written := s.PacketsWritten()
	rejected := s.PacketsRejected()
	if written+rejected == 0 {
		return 0.0
	}
	return float64(rejected) / float64(written+rejected)
}

// Uptime returns how long the buffer has been running.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// StatsSummary is a point-in-time snapshot of Statistics.
type StatsSummary struct {
	PacketsWritten        int64         `json:"packets_written"`
	PacketsRejected       int64         `json:"packets_rejected"`
	Gaps                  int64         `json:"gaps"`
	GapSamples            int64         `json:"gap_samples"`
	InvalidatedSamples    int64         `json:"invalidated_samples"`
	WriterStalls          int64         `json:"writer_stalls"`
	ForcedWrites          int64         `json:"forced_writes"`
	StallTime             time.Duration `json:"stall_time"`
	WriterBlocked         bool          `json:"writer_blocked"`
	Transactions          int64         `json:"transactions"`
	TruncatedTransactions int64         `json:"truncated_transactions"`
	ActiveReaders         int64         `json:"active_readers"`
	NewestTimestamp       int64         `json:"newest_timestamp"`
	Throughput            float64       `json:"throughput"`
	RejectRate            float64       `json:"reject_rate"`
	Uptime                time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		PacketsWritten:        s.PacketsWritten(),
		PacketsRejected:       s.PacketsRejected(),
		Gaps:                  s.Gaps(),
		GapSamples:            s.GapSamples(),
		InvalidatedSamples:    s.InvalidatedSamples(),
		WriterStalls:          s.WriterStalls(),
		ForcedWrites:          s.ForcedWrites(),
		StallTime:             s.StallTime(),
		WriterBlocked:         s.WriterBlocked(),
		Transactions:          s.Transactions(),
		TruncatedTransactions: s.TruncatedTransactions(),
		ActiveReaders:         s.ActiveReaders(),
		NewestTimestamp:       s.newest.Load(),
		Throughput:            s.Throughput(),
		RejectRate:            s.RejectRate(),
		Uptime:                s.Uptime(),
	}
}
