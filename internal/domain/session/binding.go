package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

// Binding is the exclusive handle a channel holds on its session. Only the
// holder may move the session forward.
type Binding struct {
	registry *Registry
	rec      *record
	ctx      context.Context
	cancel   context.CancelFunc
}

// ID returns the bound session's identifier
func (b *Binding) ID() string { return b.rec.id }

// Task returns the task description given at creation
func (b *Binding) Task() string { return b.rec.task }

// Model returns the model identifier given at creation
func (b *Binding) Model() string { return b.rec.model }

// Context is cancelled when the binding is released or the session removed
func (b *Binding) Context() context.Context { return b.ctx }

// Snapshot returns the current view of the session
func (b *Binding) Snapshot() types.SessionSnapshot {
	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()
	return b.rec.snapshot()
}

// Start moves the session from Connected to Running
func (b *Binding) Start() error { return b.transition(types.SessionRunning) }

// Complete marks a successful run
func (b *Binding) Complete() error { return b.transition(types.SessionCompleted) }

// Fail marks a failed, timed out or cancelled run
func (b *Binding) Fail() error { return b.transition(types.SessionFailed) }

// Release detaches the channel. A session released before reaching a
// terminal state becomes Expired and is left for the sweeper. Idempotent.
func (b *Binding) Release() {
	b.rec.mu.Lock()
	if b.rec.owner == b {
		b.rec.owner = nil
		if !b.rec.state.Terminal() {
			prev := b.rec.state
			b.rec.state = types.SessionExpired
			b.rec.updatedAt = b.registry.now()
			b.registry.metrics.RecordSessionTerminal(types.SessionExpired.String())
			b.registry.logger.Info("channel released before completion",
				zap.String("session_id", b.rec.id),
				zap.Stringer("state", prev),
			)
		}
	}
	b.rec.mu.Unlock()
	b.cancel()
}

func (b *Binding) transition(to types.SessionState) error {
	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()

	if b.rec.removed {
		return notFound(b.rec.id)
	}
	if b.rec.owner != b {
		return types.NewError(types.CategorySessionTerminal,
			fmt.Sprintf("session %s is no longer bound to this channel", b.rec.id), nil)
	}
	from := b.rec.state
	if !from.CanTransition(to) {
		return types.NewError(types.CategoryInternal,
			fmt.Sprintf("illegal session transition %s -> %s", from, to), nil)
	}

	b.rec.state = to
	b.rec.updatedAt = b.registry.now()
	if to.Terminal() {
		b.registry.metrics.RecordSessionTerminal(to.String())
	}
	return nil
}
