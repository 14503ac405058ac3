// Package retry provides exponential backoff retry for transient failures.
//
// Do runs an operation until it succeeds, the attempts run out, or the context ends.
// Errors wrapped with NonRetryable, and errors classified invalid or fatal by the errors
// package, stop the loop immediately.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    conn, err = net.ListenUDP("udp", addr)
//	    return err
//	})
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (bus publishing)
//   - Quick(): 10 attempts, 50ms-1s delay (socket binding at startup)
//
// DoWithClock takes the backoff timers from a clock.Clock so tests can step through
// the schedule.
package retry
