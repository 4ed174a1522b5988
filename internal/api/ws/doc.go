// Package ws serves the execution channel: one WebSocket per session that
// accepts start and cancel commands and streams the executor's events back
// until a single terminal event closes it.
package ws
