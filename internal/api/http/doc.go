// Package http provides the request/response endpoints of the task service.
//
// Endpoints:
//   - GET  /                     service identity
//   - GET  /health               liveness probe
//   - POST /v1/tasks             create a session for a task
//   - GET  /v1/tasks/:session_id read-only session snapshot
//
// Failures answer with {status:"error", category, message}; clients branch
// on category.
package http
