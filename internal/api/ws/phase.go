package ws

import "fmt"

// Phase is the channel's position in the execution protocol
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingStart
	PhaseRunning
	PhaseCompleted
	PhaseFailed
	PhaseCancelled
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingStart:
		return "awaiting_start"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the channel is done
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// next lists the legal successors of each phase
var next = map[Phase][]Phase{
	PhaseIdle:          {PhaseAwaitingStart},
	PhaseAwaitingStart: {PhaseRunning},
	PhaseRunning:       {PhaseCompleted, PhaseFailed, PhaseCancelled},
}

// CanTransition reports whether p -> to is legal
func (p Phase) CanTransition(to Phase) bool {
	for _, n := range next[p] {
		if n == to {
			return true
		}
	}
	return false
}

// machine guards phase changes for one channel. It is owned by the
// channel's serving goroutine and needs no locking.
type machine struct {
	phase Phase
}

func (m *machine) to(p Phase) error {
	if !m.phase.CanTransition(p) {
		return fmt.Errorf("illegal channel transition %s -> %s", m.phase, p)
	}
	m.phase = p
	return nil
}
