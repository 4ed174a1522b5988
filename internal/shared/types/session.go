package types

import "time"

// SessionState is the lifecycle state of a session record
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionConnected
	SessionRunning
	SessionCompleted
	SessionFailed
	SessionExpired
)

// String returns the wire name of the state
func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionConnected:
		return "connected"
	case SessionRunning:
		return "running"
	case SessionCompleted:
		return "completed"
	case SessionFailed:
		return "failed"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible
func (s SessionState) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionExpired:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal forward move.
// Created -> Connected -> Running -> {Completed, Failed}; any non-terminal
// state may expire.
func (s SessionState) CanTransition(to SessionState) bool {
	switch s {
	case SessionCreated:
		return to == SessionConnected || to == SessionExpired
	case SessionConnected:
		return to == SessionRunning || to == SessionExpired
	case SessionRunning:
		return to == SessionCompleted || to == SessionFailed || to == SessionExpired
	case SessionCompleted, SessionFailed, SessionExpired:
		return false
	}
	return false
}

// SessionSnapshot is an immutable, consistent view of one session record
type SessionSnapshot struct {
	ID        string       `json:"session_id"`
	State     SessionState `json:"state"`
	Task      string       `json:"task"`
	Model     string       `json:"model"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Bound     bool         `json:"bound"`
}

// SessionStats contains registry statistics
type SessionStats struct {
	Total   int                  `json:"total"`
	ByState map[SessionState]int `json:"by_state"`
}
