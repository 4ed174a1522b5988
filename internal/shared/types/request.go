package types

// CreateTaskRequest is the body of the task creation call
type CreateTaskRequest struct {
	Task  string `json:"task" binding:"required"`
	Model string `json:"model"`
}

// CreateTaskResponse is returned once a session has been allocated
type CreateTaskResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ErrorResponse is the body of every failed HTTP call
type ErrorResponse struct {
	Status   string   `json:"status"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// NewErrorResponse builds an error body for category
func NewErrorResponse(category Category, message string) ErrorResponse {
	return ErrorResponse{Status: "error", Category: category, Message: message}
}

// Action is a client-to-server command verb on the execution channel
type Action string

const (
	ActionStart  Action = "start"
	ActionCancel Action = "cancel"
)

// Command is a client-to-server channel message
type Command struct {
	Action Action `json:"action"`
	Task   string `json:"task,omitempty"`
}
