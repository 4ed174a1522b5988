package execution

import (
	"context"
	"errors"
	"io"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

// Delivery is one event ready for the channel. Terminal is set on the
// last delivery of a run and never on any other.
type Delivery struct {
	Event    types.Event
	Terminal bool
}

// Relay pulls events from stream and delivers them in order. The returned
// channel is unbuffered, so the executor is only pulled as fast as the
// consumer accepts deliveries. Exactly one terminal delivery is sent unless
// ctx ends first; nothing follows it. A Recv error or an end of stream
// before a terminal event is reported as a synthesized invocation_failed
// error. Relay closes the stream and the channel when it returns.
func Relay(ctx context.Context, stream Stream, sessionID string) <-chan Delivery {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		defer stream.Close()

		for {
			ev, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					err = errors.New("executor ended without a terminal event")
				}
				send(ctx, out, Delivery{Event: FailureEvent(sessionID, err), Terminal: true})
				return
			}

			ev = Normalize(ev, sessionID)
			terminal := ev.Terminal()
			if !send(ctx, out, Delivery{Event: ev, Terminal: terminal}) || terminal {
				return
			}
		}
	}()

	return out
}

func send(ctx context.Context, out chan<- Delivery, d Delivery) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// Normalize maps executor kinds onto the four wire kinds. Richer kinds
// (thinking, action, screenshot, ...) become step events with the original
// kind kept in data.phase. Data is never nil and always carries session_id.
func Normalize(ev types.Event, sessionID string) types.Event {
	data := make(map[string]interface{}, len(ev.Data)+2)
	for k, v := range ev.Data {
		data[k] = v
	}

	if !ev.Type.Core() {
		if _, ok := data["phase"]; !ok && ev.Type != "" {
			data["phase"] = string(ev.Type)
		}
		ev.Type = types.EventStep
	}
	if ev.Type == types.EventError {
		if _, ok := data["category"]; !ok {
			data["category"] = string(types.CategoryInvocationFailed)
		}
	}
	data["session_id"] = sessionID

	ev.Data = data
	return ev
}
