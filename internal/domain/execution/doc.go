// Package execution defines the executor capability consumed by the task
// service and relays a run's events to its channel.
//
// An Executor turns a Request into a pull-based Stream of events. Relay
// drives that stream for one run: it preserves order, applies back-pressure
// through an unbuffered channel, marks the single terminal delivery and
// turns transport failures into one terminal error event.
//
// Error categories for failed runs come from Classify:
//   - context.DeadlineExceeded -> timeout
//   - context.Canceled         -> cancelled
//   - ErrModelUnavailable      -> model_unavailable
//   - anything else            -> invocation_failed
package execution
