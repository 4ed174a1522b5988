// Package config provides 12-factor configuration management for the task service.
//
// Configuration is loaded from environment variables with sensible defaults.
// A YAML or TOML file named by CONFIG_FILE may override individual keys, and
// CLI flags override both for development flexibility. Configuration is
// immutable once the server starts.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, shutdown timeout)
//   - Session: Grace period, sweep interval, maximum running duration
//   - Executor: Executor kind, default model, remote worker address
//   - Stream: WebSocket ping interval, write timeout, read limit
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server running on %s\n", cfg.Addr())
//
// Environment Variables:
//   - API_PORT (or PORT), HOST, SHUTDOWN_TIMEOUT
//   - SESSION_GRACE_PERIOD, SESSION_SWEEP_INTERVAL, MAX_RUN_DURATION
//   - EXECUTOR_KIND, LLM_MODEL, EXECUTOR_ADDR, EXECUTOR_URL
//   - WS_PING_INTERVAL, WS_WRITE_TIMEOUT, WS_READ_LIMIT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - CONFIG_FILE
package config
