package types

// EventType discriminates server-to-client messages
type EventType string

const (
	EventStatus   EventType = "status"
	EventStep     EventType = "step"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Core reports whether t is one of the four protocol kinds
func (t EventType) Core() bool {
	switch t {
	case EventStatus, EventStep, EventComplete, EventError:
		return true
	}
	return false
}

// Terminal reports whether t ends a session's event sequence
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one progress message produced by an executor and relayed to the
// bound channel
type Event struct {
	Type    EventType              `json:"type"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

// Terminal reports whether the event ends the sequence
func (e Event) Terminal() bool {
	return e.Type.Terminal()
}

// Category returns data.category for error events, if any
func (e Event) Category() Category {
	if e.Data == nil {
		return ""
	}
	switch v := e.Data["category"].(type) {
	case string:
		return Category(v)
	case Category:
		return v
	}
	return ""
}

// ErrorEvent builds an error message carrying a stable category
func ErrorEvent(category Category, message string, data map[string]interface{}) Event {
	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["category"] = string(category)
	return Event{Type: EventError, Message: message, Data: payload}
}
