package execution

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

// Classify maps an executor failure to the category reported to clients.
func Classify(err error) types.Category {
	var typed *types.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &typed) && typed.Category.Execution():
		return typed.Category
	case errors.Is(err, context.DeadlineExceeded):
		return types.CategoryTimeout
	case errors.Is(err, context.Canceled):
		return types.CategoryCancelled
	case errors.Is(err, ErrModelUnavailable):
		return types.CategoryModelUnavailable
	default:
		return types.CategoryInvocationFailed
	}
}

// FailureEvent builds the single terminal error event for err
func FailureEvent(sessionID string, err error) types.Event {
	return types.ErrorEvent(Classify(err), err.Error(), map[string]interface{}{
		"session_id": sessionID,
	})
}
