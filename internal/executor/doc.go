// Package executor selects the automation executor from configuration.
//
// Implementations live in subpackages:
//   - simulated: deterministic in-process runs for development and tests
//   - remote: gRPC and HTTP/NDJSON workers
package executor
