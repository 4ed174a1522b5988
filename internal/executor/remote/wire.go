package remote

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

// runRequest is the body sent to a worker for one run
type runRequest struct {
	SessionID string `json:"session_id"`
	Task      string `json:"task"`
	Model     string `json:"model"`
}

func newRunRequest(req execution.Request) runRequest {
	return runRequest{SessionID: req.SessionID, Task: req.Task, Model: req.Model}
}

func (r runRequest) toMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id": r.SessionID,
		"task":       r.Task,
		"model":      r.Model,
	}
}

func runRequestFromMap(m map[string]interface{}) execution.Request {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return execution.Request{SessionID: str("session_id"), Task: str("task"), Model: str("model")}
}

func eventToMap(ev types.Event) map[string]interface{} {
	data := ev.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return map[string]interface{}{
		"type":    string(ev.Type),
		"message": ev.Message,
		"data":    data,
	}
}

func eventFromMap(m map[string]interface{}) (types.Event, error) {
	kind, ok := m["type"].(string)
	if !ok || kind == "" {
		return types.Event{}, fmt.Errorf("event without type")
	}
	msg, _ := m["message"].(string)
	data, _ := m["data"].(map[string]interface{})
	return types.Event{Type: types.EventType(kind), Message: msg, Data: data}, nil
}

// newBreaker guards run creation against a failing worker
func newBreaker(name string, logger *logging.Logger) *resilience.Breaker {
	return resilience.New(name, resilience.Settings{
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("executor circuit changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}
