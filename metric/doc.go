// Package metric provides the Prometheus metrics registry and HTTP endpoint shared by the
// beamlet input section components.
//
// Components never register with the Prometheus default registry. They receive a
// *MetricsRegistry and register their collectors under a "service.metric" key, so that a
// second registration of the same metric fails loudly instead of panicking:
//
//	registry := metric.NewMetricsRegistry()
//	buf, err := buffer.NewBeamletBuffer(cfg, buffer.WithMetrics(registry, "station"))
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//
// A nil registry is the "metrics disabled" signal throughout the module.
package metric
