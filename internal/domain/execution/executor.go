package execution

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

// ErrModelUnavailable is returned when the backing model cannot serve runs.
var ErrModelUnavailable = errors.New("model unavailable")

// Request describes one run
type Request struct {
	SessionID string
	Task      string
	Model     string
}

// Stream is a lazy, finite, non-restartable sequence of events. Recv
// returns io.EOF after the last event. Close releases the underlying run
// and may be called more than once.
type Stream interface {
	Recv() (types.Event, error)
	Close() error
}

// Executor performs a browser task and reports progress.
// Run may fail synchronously; later failures arrive as a terminal error
// event or a Recv error.
type Executor interface {
	Name() string
	Run(ctx context.Context, req Request) (Stream, error)
}

// Canceller is implemented by executors whose runs stop promptly when the
// Run context is cancelled.
type Canceller interface {
	SupportsCancel() bool
}

// SupportsCancel reports whether e honours cooperative cancellation
func SupportsCancel(e Executor) bool {
	c, ok := e.(Canceller)
	return ok && c.SupportsCancel()
}
