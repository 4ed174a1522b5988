// Package types provides shared data structures for the task service.
//
// Core Types:
//   - SessionState: Lifecycle of a session record (created → connected → running → completed/failed, or expired)
//   - SessionSnapshot: Consistent read-only view of a record
//   - Event: Progress message relayed from the executor to the channel
//   - Error, Category: Categorized errors shared by HTTP and channel boundaries
//
// Request Types:
//   - CreateTaskRequest, CreateTaskResponse: Task creation call
//   - Command: Client-to-server channel message (start, cancel)
//
// Example Usage:
//
//	ev := types.ErrorEvent(types.CategoryTimeout, "run exceeded 10m0s", nil)
//	if ev.Terminal() {
//	    // close the channel
//	}
package types
