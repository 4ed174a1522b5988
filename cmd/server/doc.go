// Package main is the entry point for the browser task service.
//
// Clients create a task over REST, then attach a WebSocket to the returned
// session and stream the executor's progress until a terminal event.
//
//	Client → POST /v1/tasks → session id
//	Client → WS /ws/{session_id} → {"action":"start"} → status/step events → complete|error
//
// Executors:
//   - simulated: deterministic in-process run, the default
//   - grpc: a remote automation worker over a streaming RPC
//   - http: a remote automation worker streaming NDJSON
//
// Configuration:
//   - Environment variables (12-factor)
//   - An optional YAML or TOML file (CONFIG_FILE or -config)
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -executor grpc
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
