// Package server assembles the HTTP router, the execution channel and the
// background workers into one process and owns their shutdown order.
package server
