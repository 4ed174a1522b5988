package simulated

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

// Config shapes the simulated run
type Config struct {
	Steps     int
	StepDelay time.Duration
}

// Executor produces a deterministic run without driving a browser:
// one status event, Steps step events, then complete.
type Executor struct {
	cfg Config
}

// New creates a simulated executor
func New(cfg Config) *Executor {
	if cfg.Steps < 0 {
		cfg.Steps = 0
	}
	return &Executor{cfg: cfg}
}

// Name identifies the executor in logs and metrics
func (e *Executor) Name() string { return "simulated" }

// SupportsCancel reports that runs stop when the Run context is cancelled
func (e *Executor) SupportsCancel() bool { return true }

// Run starts a run. It fails synchronously only for an empty task.
func (e *Executor) Run(ctx context.Context, req execution.Request) (execution.Stream, error) {
	if req.Task == "" {
		return nil, fmt.Errorf("simulated: empty task")
	}
	return &stream{ctx: ctx, cfg: e.cfg, req: req}, nil
}

type stream struct {
	ctx context.Context
	cfg Config
	req execution.Request

	mu     sync.Mutex
	next   int // 0 status, 1..Steps steps, Steps+1 complete
	closed bool
}

func (s *stream) Recv() (types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.next > s.cfg.Steps+1 {
		return types.Event{}, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return types.Event{}, err
	}

	i := s.next
	if i > 0 && s.cfg.StepDelay > 0 {
		timer := time.NewTimer(s.cfg.StepDelay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return types.Event{}, s.ctx.Err()
		case <-timer.C:
		}
	}
	s.next++

	switch {
	case i == 0:
		return types.Event{
			Type:    types.EventStatus,
			Message: fmt.Sprintf("Starting task: %s", s.req.Task),
			Data:    map[string]interface{}{"task": s.req.Task, "model": s.req.Model},
		}, nil
	case i <= s.cfg.Steps:
		return types.Event{
			Type:    types.EventStep,
			Message: fmt.Sprintf("Step %d of %d", i, s.cfg.Steps),
			Data: map[string]interface{}{
				"step":   i,
				"total":  s.cfg.Steps,
				"action": "simulated_action",
			},
		}, nil
	default:
		return types.Event{
			Type:    types.EventComplete,
			Message: "Task completed",
			Data: map[string]interface{}{
				"result": fmt.Sprintf("Simulated run of %q finished after %d steps", s.req.Task, s.cfg.Steps),
				"steps":  s.cfg.Steps,
				"model":  s.req.Model,
			},
		}, nil
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
