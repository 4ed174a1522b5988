package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/session"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/id"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

func setup(t *testing.T) (*gin.Engine, *session.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := session.NewRegistry(time.Minute, logging.NewNop())
	router := gin.New()
	NewHandlers(reg, "gpt-4o", "1.2.3", logging.NewNop()).Register(router)
	return router, reg
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, reg := setup(t)
	reg.Create("busy", "m")

	w := do(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"status": "ok", "service": ServiceName, "version": "1.2.3"}, body)
}

func TestRoot(t *testing.T) {
	router, _ := setup(t)
	w := do(router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ServiceName)
}

func TestCreateTaskAppliesDefaultModel(t *testing.T) {
	router, reg := setup(t)

	w := do(router, http.MethodPost, "/v1/tasks", `{"task":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.CreateTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, CreatedMessage, resp.Message)
	assert.True(t, id.IsValidSession(resp.SessionID))

	snap, ok := reg.Get(resp.SessionID)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", snap.Model)
	assert.Equal(t, "hello", snap.Task)
	assert.Equal(t, types.SessionCreated, snap.State)
}

func TestCreateTaskExplicitModel(t *testing.T) {
	router, reg := setup(t)

	w := do(router, http.MethodPost, "/v1/tasks", `{"task":"hello","model":"claude-3-5-sonnet"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.CreateTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	snap, _ := reg.Get(resp.SessionID)
	assert.Equal(t, "claude-3-5-sonnet", snap.Model)
}

func TestCreateTaskRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing task", `{"model":"gpt-4o"}`},
		{"blank task", `{"task":"   "}`},
		{"not json", `task=hello`},
		{"bad model", `{"task":"hello","model":"gpt 4o; drop"}`},
		{"oversized task", `{"task":"` + strings.Repeat("a", 17*1024) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, reg := setup(t)

			w := do(router, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp types.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, types.CategoryInvalidRequest, resp.Category)
			assert.Zero(t, reg.Stats().Total)
		})
	}
}

func TestCreateTaskAllocationFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := session.NewRegistry(time.Minute, logging.NewNop(),
		session.WithIDSource(func() string { return "00000000-0000-4000-8000-000000000001" }))
	router := gin.New()
	NewHandlers(reg, "gpt-4o", "dev", nil).Register(router)

	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/v1/tasks", `{"task":"a"}`).Code)

	w := do(router, http.MethodPost, "/v1/tasks", `{"task":"b"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"internal_error"`)
}

func TestGetTask(t *testing.T) {
	router, reg := setup(t)
	sessionID, err := reg.Create("hello", "gpt-4o")
	require.NoError(t, err)

	w := do(router, http.MethodGet, "/v1/tasks/"+sessionID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, sessionID, snap["session_id"])
	assert.Equal(t, "created", snap["state"])
	assert.Equal(t, "hello", snap["task"])
}

func TestGetTaskNotFound(t *testing.T) {
	router, _ := setup(t)

	for _, path := range []string{"/v1/tasks/not-a-uuid", "/v1/tasks/" + id.NewSessionID().String()} {
		w := do(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), `"category":"not_found"`)
	}
}
