/*
Package monitoring provides Prometheus metrics for the task service.

# Overview

Metrics are registered on an injected prometheus.Registerer, so every
server instance (and every test) owns its registry.

# Features

- HTTP request metrics (latency, throughput, size) keyed by route template
- Session lifecycle metrics (created, active, terminal by state, swept)
- Bind rejections by error category
- WebSocket connection and message metrics
- Executor run counts and durations by outcome
- Uptime, Go runtime and process collectors

# Usage

	reg := monitoring.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	timer := monitoring.NewTimer(metrics, "simulated")
	// ... run the task ...
	timer.Stop("completed")
*/
package monitoring
