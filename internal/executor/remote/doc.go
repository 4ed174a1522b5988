// Package remote adapts out-of-process automation workers to the
// execution.Executor contract.
//
// Two transports are supported:
//   - gRPC: a server-streaming call on browsertask.v1.Executor/Run whose
//     request and events are google.protobuf.Struct messages.
//     RegisterExecutor serves any Executor on that contract.
//   - HTTP: POST /v1/runs answered with newline-delimited JSON events.
//
// Both guard run creation with a circuit breaker. An open circuit, an
// Unavailable status or a 502/503 answer surface as
// execution.ErrModelUnavailable.
package remote
