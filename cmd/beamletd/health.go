package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jjdmol/LOFAR-sub071/health"
	"github.com/jjdmol/LOFAR-sub071/input/udp"
	"github.com/jjdmol/LOFAR-sub071/output/beam"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
)

// inputIdleAfter is how long the UDP input may go without packets before it is degraded.
const inputIdleAfter = 10 * time.Second

type natsHealth interface {
	IsHealthy() bool
	Failures() int32
}

func natsCheck(client natsHealth) health.Check {
	return func(context.Context) health.Status {
		if client.IsHealthy() {
			return health.NewHealthy("nats", "connected")
		}
		return health.NewUnhealthy("nats", fmt.Sprintf("not connected after %d failures", client.Failures()))
	}
}

func inputCheck(stats func() udp.Stats, now func() time.Time) health.Check {
	return func(context.Context) health.Status {
		s := stats()
		m := &health.Metrics{
			Processed:    s.PacketsReceived,
			Errors:       s.Malformed + s.WriteErrors,
			LastActivity: s.LastActivity,
		}
		switch {
		case !s.Running:
			return health.NewUnhealthy("udp", "not receiving").WithMetrics(m)
		case s.LastActivity.IsZero():
			return health.NewDegraded("udp", "no packets received yet").WithMetrics(m)
		case now().Sub(s.LastActivity) > inputIdleAfter:
			idle := now().Sub(s.LastActivity).Round(time.Second)
			return health.NewDegraded("udp", fmt.Sprintf("no packets for %v", idle)).WithMetrics(m)
		}
		return health.NewHealthy("udp", "receiving").WithMetrics(m)
	}
}

// outputCheck compares publish counters with the previous evaluation: nothing but
// failures since then is unhealthy, a mix is degraded.
func outputCheck(stats func() beam.StreamerStats) health.Check {
	var last beam.StreamerStats
	return func(context.Context) health.Status {
		s := stats()
		published := s.Published - last.Published
		failed := s.PublishErrors - last.PublishErrors
		last = s

		m := &health.Metrics{Processed: s.Published, Errors: s.PublishErrors}
		switch {
		case failed > 0 && published == 0:
			return health.NewUnhealthy("output", fmt.Sprintf("%d publishes failed, none succeeded", failed)).WithMetrics(m)
		case failed > 0:
			return health.NewDegraded("output", fmt.Sprintf("%d of %d publishes failed", failed, failed+published)).WithMetrics(m)
		}
		return health.NewHealthy("output", "publishing").WithMetrics(m)
	}
}

// bufferCheck is degraded while readers are being truncated or the synchronous writer
// is forcing writes past them.
func bufferCheck(stats func() buffer.StatsSummary) health.Check {
	var last buffer.StatsSummary
	return func(context.Context) health.Status {
		s := stats()
		truncated := s.TruncatedTransactions - last.TruncatedTransactions
		forced := s.ForcedWrites - last.ForcedWrites
		last = s

		m := &health.Metrics{Processed: s.PacketsWritten, Errors: s.PacketsRejected}
		if s.WriterBlocked {
			return health.NewDegraded("buffer", "writer waiting for readers").WithMetrics(m)
		}
		if truncated > 0 || forced > 0 {
			return health.NewDegraded("buffer",
				fmt.Sprintf("%d reads truncated, %d forced writes since last check", truncated, forced)).WithMetrics(m)
		}
		return health.NewHealthy("buffer", "ok").WithMetrics(m)
	}
}
