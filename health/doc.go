// Package health tracks the health of the daemon's components.
//
// Each component registers a Check. A Monitor runs the checks on an interval, logs
// every state change and folds the results into one Status: unhealthy when any check is
// unhealthy, degraded when any is degraded, healthy otherwise. Monitor.Handler serves
// that status as JSON with HTTP 503 while unhealthy, which is what orchestrator probes
// look at.
//
//	monitor := health.NewMonitor("beamletd", logger)
//	monitor.Register("nats", func(context.Context) health.Status {
//	    if client.IsHealthy() {
//	        return health.NewHealthy("nats", "connected")
//	    }
//	    return health.NewUnhealthy("nats", client.Status().String())
//	})
//	go monitor.Run(ctx, 5*time.Second)
//
// FromError strips URLs, addresses, paths and credentials from error text because the
// health endpoint is unauthenticated.
package health
