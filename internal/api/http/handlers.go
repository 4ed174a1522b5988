package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/session"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/id"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/utils"
)

// ServiceName is reported by the root and health endpoints
const ServiceName = "browser-task-service"

// CreatedMessage tells the client what to do with a new session
const CreatedMessage = "Task created. Connect via WebSocket to start execution."

// Handlers contains the request/response endpoints
type Handlers struct {
	registry     *session.Registry
	defaultModel string
	version      string
	logger       *logging.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(registry *session.Registry, defaultModel, version string, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		registry:     registry,
		defaultModel: defaultModel,
		version:      version,
		logger:       logger.Named("api"),
	}
}

// Register mounts the handlers on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.POST("/v1/tasks", h.CreateTask)
	r.GET("/v1/tasks/:session_id", h.GetTask)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": ServiceName,
		"version": h.version,
		"status":  "online",
	})
}

// Health reports process liveness only; it never reflects session state
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": ServiceName,
		"version": h.version,
	})
}

// CreateTask allocates a session for a task. Execution starts once a
// channel binds to the returned session and sends start.
func (h *Handlers) CreateTask(c *gin.Context) {
	var req types.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, types.CategoryInvalidRequest, "task is required")
		return
	}

	if err := utils.ValidateTask(req.Task); err != nil {
		abort(c, http.StatusBadRequest, types.CategoryInvalidRequest, err.Error())
		return
	}
	req.Model = strings.TrimSpace(req.Model)
	if err := utils.ValidateModel(req.Model); err != nil {
		abort(c, http.StatusBadRequest, types.CategoryInvalidRequest, err.Error())
		return
	}
	if req.Model == "" {
		req.Model = h.defaultModel
	}

	sessionID, err := h.registry.Create(req.Task, req.Model)
	if err != nil {
		h.logger.Error("failed to create session", append(tracing.Fields(c.Request.Context()), zap.Error(err))...)
		abort(c, http.StatusInternalServerError, types.CategoryOf(err), types.MessageOf(err))
		return
	}

	h.logger.Info("task created",
		zap.String("session_id", sessionID),
		zap.String("model", req.Model),
		zap.Int("task_bytes", len(req.Task)),
	)

	c.JSON(http.StatusOK, types.CreateTaskResponse{
		Status:    "ok",
		SessionID: sessionID,
		Message:   CreatedMessage,
	})
}

// GetTask returns a read-only snapshot of one session
func (h *Handlers) GetTask(c *gin.Context) {
	sessionID := c.Param("session_id")
	if !id.IsValidSession(sessionID) {
		abort(c, http.StatusNotFound, types.CategoryNotFound, "session not found")
		return
	}

	snap, ok := h.registry.Get(sessionID)
	if !ok {
		abort(c, http.StatusNotFound, types.CategoryNotFound, "session not found")
		return
	}

	c.JSON(http.StatusOK, snap)
}

func abort(c *gin.Context, status int, category types.Category, message string) {
	c.AbortWithStatusJSON(status, types.NewErrorResponse(category, message))
}
