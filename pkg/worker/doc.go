// Package worker provides a generic worker pool for concurrent job processing.
//
// # Overview
//
// A Pool runs a fixed number of goroutines that drain a bounded queue of jobs of type T.
// Submit never blocks: when the queue is full the job is dropped, counted, and
// ErrQueueFull is returned, so a real-time producer is never held up by slow consumers.
//
//	pool := worker.NewPool(4, 64,
//	    func(ctx context.Context, job streamJob) error {
//	        return publish(ctx, job)
//	    },
//	    worker.WithMetricsRegistry[streamJob](registry, "beam_output"),
//	)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// # Lifecycle
//
// Start launches the workers. Stop closes the queue and waits for queued jobs to finish;
// cancelling the context passed to Start abandons them instead.
//
// # Observability
//
// Stats are always collected. WithMetricsRegistry additionally exports queue depth,
// busy workers, outcomes and processing time under the beamlet_worker_ prefix.
package worker
