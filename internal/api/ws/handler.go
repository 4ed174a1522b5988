package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/session"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/utils"
)

// Options configures the channel transport and run ceiling
type Options struct {
	MaxRunDuration time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
}

// DefaultOptions returns the production channel settings
func DefaultOptions() Options {
	return Options{
		MaxRunDuration: 10 * time.Minute,
		PingInterval:   20 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadLimit:      utils.MaxCommandSize,
	}
}

// Handler serves execution channels
type Handler struct {
	registry *session.Registry
	executor execution.Executor
	opts     Options
	upgrader websocket.Upgrader
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	baseCtx  context.Context
}

// NewHandler creates a new WebSocket handler
func NewHandler(registry *session.Registry, executor execution.Executor, opts Options, logger *logging.Logger) *Handler {
	defaults := DefaultOptions()
	if opts.MaxRunDuration <= 0 {
		opts.MaxRunDuration = defaults.MaxRunDuration
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaults.ReadLimit
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Handler{
		registry: registry,
		executor: executor,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Browser clients are served from any origin, like the CORS policy
			},
		},
		logger:  logger.Named("ws"),
		baseCtx: context.Background(),
	}
}

// WithMetrics adds metrics tracking to the handler
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// WithTracer adds a span per run
func (h *Handler) WithTracer(tracer *tracing.Tracer) *Handler {
	h.tracer = tracer
	return h
}

// WithBaseContext ties open channels to the server's lifetime. When ctx is
// done, running tasks are stopped and channels closed.
func (h *Handler) WithBaseContext(ctx context.Context) *Handler {
	h.baseCtx = ctx
	return h
}

// Register mounts the channel endpoint on r
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/ws/:session_id", h.HandleConnection)
}

// HandleConnection upgrades the request, binds the session and serves the
// channel until it closes
func (h *Handler) HandleConnection(c *gin.Context) {
	sessionID := c.Param("session_id")
	logger := h.logger.Session(sessionID).With(tracing.Fields(c.Request.Context())...)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.opts.ReadLimit)

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ch := &channel{
		h:         h,
		conn:      conn,
		sessionID: sessionID,
		logger:    logger,
	}

	binding, err := h.registry.Bind(c.Request.Context(), sessionID)
	if err != nil {
		category := types.CategoryOf(err)
		logger.Info("bind rejected", zap.String("category", string(category)))
		ch.write(types.ErrorEvent(category, types.MessageOf(err), ch.data()))
		ch.close(websocket.ClosePolicyViolation, string(category))
		return
	}
	defer binding.Release()

	ch.binding = binding
	ch.serve()
}

type inbound struct {
	cmd types.Command
	err error
}

// channel is one bound connection. All fields are owned by the goroutine
// running serve; the read loop only hands messages over.
type channel struct {
	h         *Handler
	conn      *websocket.Conn
	binding   *session.Binding
	sessionID string
	logger    *logging.Logger
	state     machine

	runCancel  context.CancelFunc
	deliveries <-chan execution.Delivery
	deadline   *time.Timer
	timer      *monitoring.Timer
	span       *tracing.Span
}

func (ch *channel) serve() {
	ctx := ch.binding.Context()
	done := make(chan struct{})
	defer close(done)

	cmds := make(chan inbound)
	readErr := make(chan error, 1)
	go ch.readLoop(cmds, readErr, done)

	ping := time.NewTicker(ch.h.opts.PingInterval)
	defer ping.Stop()

	_ = ch.state.to(PhaseAwaitingStart)
	ch.logger.Info("channel bound, awaiting start")

	for {
		var deadline <-chan time.Time
		if ch.deadline != nil {
			deadline = ch.deadline.C
		}

		select {
		case in := <-cmds:
			if ch.handle(in) {
				return
			}

		case d, ok := <-ch.deliveries:
			if !ok {
				// Relay only closes early when the run context ended.
				ch.deliveries = nil
				continue
			}
			if ch.deliver(d) {
				return
			}

		case <-deadline:
			ch.stopRun(types.CategoryTimeout)
			ch.fail(PhaseFailed, types.ErrorEvent(types.CategoryTimeout,
				fmt.Sprintf("task exceeded maximum running duration of %s", ch.h.opts.MaxRunDuration), ch.data()))
			return

		case <-ping.C:
			if err := ch.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ch.h.opts.WriteTimeout)); err != nil {
				ch.disconnected(err)
				return
			}

		case err := <-readErr:
			ch.disconnected(err)
			return

		case <-ch.h.baseCtx.Done():
			ch.shutdown("server shutting down")
			return

		case <-ctx.Done():
			ch.shutdown("session removed")
			return
		}
	}
}

func (ch *channel) readLoop(cmds chan<- inbound, readErr chan<- error, done <-chan struct{}) {
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		ch.h.metrics.RecordWSMessage("in", "command")

		cmd, err := decodeCommand(data)
		select {
		case cmds <- inbound{cmd: cmd, err: err}:
		case <-done:
			return
		}
	}
}

// handle processes one client command and reports whether the channel is done
func (ch *channel) handle(in inbound) bool {
	if in.err != nil {
		ch.protocolError(in.err.Error())
		return false
	}

	switch in.cmd.Action {
	case types.ActionStart:
		return ch.start(in.cmd.Task)
	case types.ActionCancel:
		return ch.cancel()
	default:
		ch.protocolError(fmt.Sprintf("unknown action %q", in.cmd.Action))
		return false
	}
}

func (ch *channel) start(task string) bool {
	if ch.state.phase != PhaseAwaitingStart {
		ch.protocolError(fmt.Sprintf("start is not accepted while %s", ch.state.phase))
		return false
	}

	if strings.TrimSpace(task) == "" {
		task = ch.binding.Task()
	} else if err := utils.ValidateTask(task); err != nil {
		ch.protocolError(err.Error())
		return false
	}

	if err := ch.binding.Start(); err != nil {
		ch.logger.Error("failed to mark session running", zap.Error(err))
		ch.write(types.ErrorEvent(types.CategoryOf(err), types.MessageOf(err), ch.data()))
		ch.close(websocket.CloseInternalServerErr, string(types.CategoryOf(err)))
		return true
	}
	_ = ch.state.to(PhaseRunning)

	// A run the executor cannot stop must not die with the connection; its
	// output is drained and discarded instead.
	base := ch.binding.Context()
	if !execution.SupportsCancel(ch.h.executor) {
		base = context.WithoutCancel(base)
	}
	runCtx, cancel := context.WithCancel(base)
	ch.runCancel = cancel

	ch.timer = monitoring.NewTimer(ch.h.metrics, ch.h.executor.Name())
	if ch.h.tracer != nil {
		ch.span, runCtx = ch.h.tracer.StartSpan(runCtx, "ws.run")
		ch.span.SetTag("session_id", ch.sessionID)
		ch.span.SetTag("executor", ch.h.executor.Name())
	}

	req := execution.Request{SessionID: ch.sessionID, Task: task, Model: ch.binding.Model()}
	ch.logger.Info("starting task",
		zap.String("model", req.Model),
		zap.String("executor", ch.h.executor.Name()),
	)

	stream, err := ch.h.executor.Run(runCtx, req)
	if err != nil {
		ch.logger.Warn("executor invocation failed", zap.Error(err))
		ch.stopRun(execution.Classify(err))
		ch.fail(PhaseFailed, execution.FailureEvent(ch.sessionID, err))
		return true
	}

	ch.deliveries = execution.Relay(runCtx, stream, ch.sessionID)
	ch.deadline = time.NewTimer(ch.h.opts.MaxRunDuration)
	return false
}

func (ch *channel) cancel() bool {
	if ch.state.phase != PhaseRunning {
		ch.protocolError(fmt.Sprintf("cancel is not accepted while %s", ch.state.phase))
		return false
	}

	if !execution.SupportsCancel(ch.h.executor) {
		ch.send(types.ErrorEvent(types.CategoryNotCancellable,
			"executor does not support cancellation; the task keeps running", ch.data()))
		return false
	}

	ch.logger.Info("task cancelled by client")
	ch.stopRun(types.CategoryCancelled)
	ch.fail(PhaseCancelled, types.ErrorEvent(types.CategoryCancelled, "task cancelled by client", ch.data()))
	return true
}

// deliver forwards one executor event and reports whether the channel is done
func (ch *channel) deliver(d execution.Delivery) bool {
	if !d.Terminal {
		if err := ch.write(d.Event); err != nil {
			ch.disconnected(err)
			return true
		}
		return false
	}

	ch.clearDeadline()
	if d.Event.Type == types.EventComplete {
		ch.finishSpan(nil)
		ch.timer.Stop("completed")
		if err := ch.binding.Complete(); err != nil {
			ch.logger.Error("failed to mark session completed", zap.Error(err))
		}
		_ = ch.state.to(PhaseCompleted)
		ch.logger.Info("task completed")
		ch.finish(d.Event)
		return true
	}

	category := d.Event.Category()
	ch.finishSpan(fmt.Errorf("%s: %s", category, d.Event.Message))
	ch.timer.Stop(string(category))
	ch.fail(PhaseFailed, d.Event)
	return true
}

// fail moves session and channel to a failed terminal phase and sends ev
func (ch *channel) fail(phase Phase, ev types.Event) {
	if err := ch.binding.Fail(); err != nil {
		ch.logger.Error("failed to mark session failed", zap.Error(err))
	}
	_ = ch.state.to(phase)
	ch.logger.Info("task ended",
		zap.Stringer("phase", phase),
		zap.String("category", string(ev.Category())),
	)
	ch.finish(ev)
}

// finish sends the terminal event, removes the session and closes
func (ch *channel) finish(ev types.Event) {
	_ = ch.write(ev)
	ch.h.registry.Remove(ch.sessionID)
	ch.close(websocket.CloseNormalClosure, string(ev.Type))
}

// stopRun ends a run that did not reach its own terminal event. Cancellable
// runs are cancelled; others are drained in the background.
func (ch *channel) stopRun(outcome types.Category) {
	ch.clearDeadline()
	if ch.span != nil {
		ch.finishSpan(fmt.Errorf("run stopped: %s", outcome))
	}

	if execution.SupportsCancel(ch.h.executor) || ch.deliveries == nil {
		if ch.runCancel != nil {
			ch.runCancel()
		}
		if ch.timer != nil {
			ch.timer.Stop(string(outcome))
		}
		return
	}

	go ch.discard(ch.deliveries, ch.runCancel, ch.timer, outcome)
	ch.deliveries = nil
}

// discard consumes a detached run so the executor can finish, logging what
// it would have sent.
func (ch *channel) discard(deliveries <-chan execution.Delivery, cancel context.CancelFunc, timer *monitoring.Timer, outcome types.Category) {
	defer cancel()
	limit := time.NewTimer(ch.h.opts.MaxRunDuration)
	defer limit.Stop()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				timer.Stop(string(outcome))
				return
			}
			ch.logger.Debug("discarding event from detached run",
				zap.String("type", string(d.Event.Type)),
				zap.String("message", d.Event.Message),
			)
			if d.Terminal {
				timer.Stop(string(outcome))
				return
			}
		case <-limit.C:
			ch.logger.Warn("detached run exceeded maximum running duration")
			timer.Stop(string(types.CategoryTimeout))
			return
		}
	}
}

func (ch *channel) disconnected(err error) {
	fields := []zap.Field{zap.Stringer("phase", ch.state.phase)}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		fields = append(fields, zap.Error(err))
	}
	ch.logger.Info("channel disconnected", fields...)

	if ch.state.phase == PhaseRunning {
		ch.stopRun("disconnected")
	}
}

func (ch *channel) shutdown(reason string) {
	ch.logger.Info("closing channel", zap.String("reason", reason), zap.Stringer("phase", ch.state.phase))
	if ch.state.phase == PhaseRunning {
		ch.stopRun(types.CategoryCancelled)
		ch.fail(PhaseCancelled, types.ErrorEvent(types.CategoryCancelled, reason, ch.data()))
		return
	}
	ch.close(websocket.CloseGoingAway, reason)
}

func (ch *channel) protocolError(message string) {
	ch.logger.Debug("protocol error", zap.String("message", message), zap.Stringer("phase", ch.state.phase))
	ch.send(types.ErrorEvent(types.CategoryProtocol, message, ch.data()))
}

// send writes a non-terminal message; a failed write surfaces through the
// read loop once the connection is gone.
func (ch *channel) send(ev types.Event) {
	if err := ch.write(ev); err != nil {
		ch.logger.Debug("write failed", zap.Error(err))
	}
}

func (ch *channel) write(ev types.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		ch.logger.Error("failed to encode event", zap.Error(err))
		payload, _ = encodeEvent(types.ErrorEvent(types.CategoryInternal, "failed to encode event", ch.data()))
	}
	_ = ch.conn.SetWriteDeadline(time.Now().Add(ch.h.opts.WriteTimeout))
	if err := ch.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	ch.h.metrics.RecordWSMessage("out", string(ev.Type))
	return nil
}

func (ch *channel) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ch.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ch.h.opts.WriteTimeout))
}

func (ch *channel) data() map[string]interface{} {
	return map[string]interface{}{"session_id": ch.sessionID}
}

func (ch *channel) clearDeadline() {
	if ch.deadline != nil {
		ch.deadline.Stop()
		ch.deadline = nil
	}
}

func (ch *channel) finishSpan(err error) {
	if ch.span == nil {
		return
	}
	if err != nil {
		ch.span.SetError(err)
	}
	ch.span.Finish()
	ch.h.tracer.Submit(ch.span)
	ch.span = nil
}
