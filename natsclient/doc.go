// Package natsclient manages the NATS connection that beam data is published on.
//
// The client wraps nats.go with a circuit breaker, structured logging and an orderly
// shutdown. After a configurable number of consecutive connection failures (default 5) the
// breaker opens and Connect fails fast with ErrCircuitOpen. When the backoff elapses the
// breaker half-opens and the next Connect is let through. Each round that fails again
// doubles the backoff up to the configured maximum.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("beamletd"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	msg := nats.NewMsg("beamlet.0.12")
//	msg.Header.Set("Beamlet-Offset", "0")
//	msg.Data = samples
//	err = client.PublishMsg(ctx, msg)
//
// # Errors
//
// Publish errors are classified with the errors package. A missing connection returns
// ErrNotConnected. Oversized payloads and bad subjects are invalid and retrying them does
// not help. Everything else is transient.
//
// # Connection Lifecycle
//
// Disconnected, Connecting, Connected and Reconnecting follow the nats.go handlers;
// CircuitOpen is entered only by Connect failures. Close unsubscribes, drains within the
// drain timeout or the context deadline, whichever is shorter, and clears credentials.
//
// # Testing
//
// NewTestClient starts a NATS server in a container through testcontainers and returns a
// connected client. Tests that use it carry the integration build tag.
package natsclient
