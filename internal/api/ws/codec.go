package ws

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/utils"
)

// encodeEvent renders a server message as {type, message, data}. Data is
// always an object.
func encodeEvent(ev types.Event) ([]byte, error) {
	if ev.Data == nil {
		ev.Data = map[string]interface{}{}
	}
	return sonic.Marshal(ev)
}

// decodeCommand parses a client message. Unknown actions are reported so
// the caller can answer with a protocol error.
func decodeCommand(data []byte) (types.Command, error) {
	if err := utils.ValidateCommandSize(data); err != nil {
		return types.Command{}, err
	}

	var cmd types.Command
	if err := sonic.Unmarshal(data, &cmd); err != nil {
		return types.Command{}, fmt.Errorf("malformed command: expected JSON object with an action")
	}

	switch cmd.Action {
	case types.ActionStart, types.ActionCancel:
		return cmd, nil
	case "":
		return types.Command{}, fmt.Errorf("command is missing an action")
	default:
		return types.Command{}, fmt.Errorf("unknown action %q", cmd.Action)
	}
}
