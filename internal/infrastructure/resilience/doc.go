/*
Package resilience provides circuit breaker implementation for graceful degradation.

# Overview

This package implements the circuit breaker pattern used in front of remote
task executors. When the executor keeps failing, new runs are refused
immediately and reported as model_unavailable instead of waiting on a dead
dependency.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure thresholds and timeouts
- Automatic state transitions
- Concurrent request handling
- Pluggable success classification (caller cancellation is not a failure)
- State change callbacks for monitoring
- Generic Call helper for value-returning operations

# Usage

	// Create a circuit breaker
	breaker := resilience.New("service", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state change", zap.String("name", name), zap.Stringer("to", to))
		},
	})

	// Execute request through breaker
	stream, err := resilience.Call(breaker, func() (Stream, error) {
		return client.Open(ctx)
	})
	if resilience.IsRejection(err) {
		// fail fast
	}

# States

- Closed: Normal operation, requests pass through
- Open: Service unavailable, requests fail immediately
- Half-Open: Testing if service recovered, limited requests allowed

# Pattern

The circuit breaker transitions between states based on success/failure rates:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
