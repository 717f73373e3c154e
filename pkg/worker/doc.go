// Package worker provides a generic bounded worker pool.
//
// A pool owns a fixed set of goroutines reading from a bounded channel.
// Submit never blocks: when the queue is full the item is dropped and
// ErrQueueFull is returned, which callers surface as a backpressure signal.
// The bridge runs a single-lane pool so source topic events are evaluated in
// arrival order, with the queue absorbing bursts, and reports the pool's
// dropped count through its health check.
//
// Statistics are always tracked; Prometheus metrics are opt-in via
// WithMetricsRegistry. Worker count and queue size are fixed at creation.
package worker
