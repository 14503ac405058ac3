package buffer

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jjdmol/LOFAR-sub071/errors"
)

// BeamletBuffer is a circular store of beamlet samples indexed by absolute sample time.
//
// One writer appends fixed-size packets through WritePacket or WritePackets. Any number of
// readers open ReadTransactions over per-beam windows of recent history. Readers never
// block the writer in asynchronous mode; in synchronous mode the writer waits, up to
// MaxNetworkDelay, for readers holding slots it is about to overwrite.
type BeamletBuffer struct {
	cfg   Config
	index TimeIndex

	store    *sampleStore
	validity *validityTracker
	arbiter  *rangeArbiter
	flow     *flowController

	// writeMu serializes writer calls. The cursor is only touched under it.
	writeMu sync.Mutex
	cursor  cursor

	stats   *Statistics
	metrics *bufferMetrics
	logger  *slog.Logger
	closed  atomic.Bool
}

// NewBeamletBuffer allocates the store for cfg. Statistics are always collected;
// use WithMetrics to also export them to Prometheus.
func NewBeamletBuffer(cfg Config, options ...Option) (*BeamletBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := applyOptions(options...)
	index := NewTimeIndex(cfg.Capacity)
	arbiter := newRangeArbiter(index)
	logger := opts.logger.With("component", "beamlet-buffer")

	b := &BeamletBuffer{
		cfg:      cfg,
		index:    index,
		store:    newSampleStore(index, cfg.SubbandCount, cfg.PacketLength),
		validity: newValidityTracker(index.Capacity()),
		arbiter:  arbiter,
		flow: &flowController{
			arbiter:     arbiter,
			synchronous: cfg.Synchronous,
			maxDelay:    cfg.MaxNetworkDelay,
			clk:         opts.clock,
			logger:      logger,
		},
		stats:  NewStatistics(),
		logger: logger,
	}

	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapFatal(err, "BeamletBuffer", "NewBeamletBuffer", "metrics registration")
		}
		b.metrics = m
	}
	b.flow.blocked = b.writerBlocked

	logger.Debug("Beamlet buffer created",
		"capacity", cfg.Capacity,
		"packet_length", cfg.PacketLength,
		"subbands", cfg.SubbandCount,
		"beams", cfg.BeamCount,
		"synchronous", cfg.Synchronous)

	return b, nil
}

func (b *BeamletBuffer) writerBlocked(blocked bool) {
	if b.metrics != nil {
		b.metrics.recordBlocked(blocked)
	}
	b.stats.Blocked(blocked)
}

// Config returns the configuration the buffer was built with.
func (b *BeamletBuffer) Config() Config {
	return b.cfg
}

// Index returns the buffer's time-to-slot mapping.
func (b *BeamletBuffer) Index() TimeIndex {
	return b.index
}

// Stats returns the buffer statistics.
func (b *BeamletBuffer) Stats() *Statistics {
	return b.stats
}

// NewestWritten returns the end of the most recent completed write. ok is false until
// the first packet lands.
func (b *BeamletBuffer) NewestWritten() (end int64, ok bool) {
	return b.validity.newestWritten()
}

// ValidRanges returns a snapshot of the absolute time ranges currently holding complete data.
func (b *BeamletBuffer) ValidRanges() []Range {
	return b.validity.snapshot()
}

// ActiveReaders returns the number of open read transactions.
func (b *BeamletBuffer) ActiveReaders() int {
	return b.arbiter.activeReaders()
}

// Close stops accepting writes and new transactions. A writer waiting on readers returns
// ErrBufferClosed. Open transactions stay readable until they end.
func (b *BeamletBuffer) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.arbiter.close()
	b.logger.Debug("Beamlet buffer closed", "stats", b.stats.Summary())
	return nil
}
