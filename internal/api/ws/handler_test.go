package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/GriffinCanCode/BrowserTasks/backend/internal/api/http"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/session"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/executor/simulated"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

type harness struct {
	server   *httptest.Server
	registry *session.Registry
	metrics  *monitoring.Metrics
}

func newHarness(t *testing.T, exec execution.Executor, opts Options) *harness {
	return newHarnessWithContext(t, context.Background(), exec, opts)
}

func newHarnessWithContext(t *testing.T, ctx context.Context, exec execution.Executor, opts Options) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetrics(monitoring.NewRegistry())
	registry := session.NewRegistry(time.Minute, logging.NewNop()).WithMetrics(metrics)

	router := gin.New()
	httpapi.NewHandlers(registry, "gpt-4o", "test", logging.NewNop()).Register(router)
	NewHandler(registry, exec, opts, logging.NewNop()).
		WithMetrics(metrics).
		WithBaseContext(ctx).
		Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &harness{server: server, registry: registry, metrics: metrics}
}

func (h *harness) createTask(task string) (string, error) {
	body, _ := json.Marshal(types.CreateTaskRequest{Task: task})
	resp, err := http.Post(h.server.URL+"/v1/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create task: status %d", resp.StatusCode)
	}

	var created types.CreateTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.SessionID, nil
}

func (h *harness) dial(sessionID string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

// connect creates a task and binds a channel to it
func (h *harness) connect(t *testing.T, task string) (string, *websocket.Conn) {
	t.Helper()
	id, err := h.createTask(task)
	require.NoError(t, err)
	conn, err := h.dial(id)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		snap, ok := h.registry.Get(id)
		return ok && snap.Bound
	}, 2*time.Second, 5*time.Millisecond)
	return id, conn
}

func send(conn *websocket.Conn, cmd string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(cmd))
}

func readEvent(conn *websocket.Conn) (types.Event, error) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return types.Event{}, err
	}
	var ev types.Event
	err = json.Unmarshal(data, &ev)
	return ev, err
}

func mustRead(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	ev, err := readEvent(conn)
	require.NoError(t, err)
	return ev
}

// readAll reads events until the server closes the channel
func readAll(conn *websocket.Conn) ([]types.Event, int, error) {
	var events []types.Event
	for {
		ev, err := readEvent(conn)
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return events, closeErr.Code, nil
			}
			return events, 0, err
		}
		events = append(events, ev)
	}
}

func eventTypes(events []types.Event) []types.EventType {
	out := make([]types.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// gatedExecutor emits a status event and then holds the run until release
// is closed or the run context ends. Each run's context is published on
// runs, and finished is closed once a run has produced its complete event.
type gatedExecutor struct {
	cancellable bool
	release     chan struct{}
	runs        chan context.Context
	finished    chan struct{}
	finishOnce  sync.Once
}

func newGated(cancellable bool) *gatedExecutor {
	return &gatedExecutor{
		cancellable: cancellable,
		release:     make(chan struct{}),
		runs:        make(chan context.Context, 1),
		finished:    make(chan struct{}),
	}
}

func (g *gatedExecutor) Name() string         { return "gated" }
func (g *gatedExecutor) SupportsCancel() bool { return g.cancellable }

func (g *gatedExecutor) Run(ctx context.Context, req execution.Request) (execution.Stream, error) {
	select {
	case g.runs <- ctx:
	default:
	}
	return &gatedStream{ctx: ctx, exec: g, task: req.Task}, nil
}

type gatedStream struct {
	ctx  context.Context
	exec *gatedExecutor
	task string
	n    int
}

func (s *gatedStream) Recv() (types.Event, error) {
	s.n++
	if s.n == 1 {
		return types.Event{Type: types.EventStatus, Message: "Starting task: " + s.task}, nil
	}
	select {
	case <-s.exec.release:
		s.exec.finishOnce.Do(func() { close(s.exec.finished) })
		return types.Event{Type: types.EventComplete, Message: "done", Data: map[string]interface{}{"result": "ok"}}, nil
	case <-s.ctx.Done():
		return types.Event{}, s.ctx.Err()
	}
}

func (s *gatedStream) Close() error { return nil }

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Name() string { return "mock" }

func (m *mockExecutor) Run(ctx context.Context, req execution.Request) (execution.Stream, error) {
	args := m.Called(ctx, req)
	if s := args.Get(0); s != nil {
		return s.(execution.Stream), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestHelloScenario(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{Steps: 2}), DefaultOptions())
	id, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	events, code, err := readAll(conn)
	require.NoError(t, err)

	require.Equal(t, []types.EventType{types.EventStatus, types.EventStep, types.EventStep, types.EventComplete}, eventTypes(events))
	assert.Equal(t, "Starting task: hello", events[0].Message)
	assert.Equal(t, "gpt-4o", events[0].Data["model"])
	assert.Contains(t, events[3].Data, "result")
	for _, ev := range events {
		assert.Equal(t, id, ev.Data["session_id"])
	}
	assert.Equal(t, websocket.CloseNormalClosure, code)

	_, ok := h.registry.Get(id)
	assert.False(t, ok, "finished session should be removed")
}

func TestBindUnknownSession(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{}), DefaultOptions())

	conn, err := h.dial("00000000-0000-4000-8000-000000000000")
	require.NoError(t, err)
	defer conn.Close()

	events, code, err := readAll(conn)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].Type)
	assert.Equal(t, types.CategoryNotFound, events[0].Category())
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, 0, h.registry.Stats().Total)
}

func TestSecondChannelRejected(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{}), DefaultOptions())
	id, _ := h.connect(t, "hello")

	second, err := h.dial(id)
	require.NoError(t, err)
	defer second.Close()

	events, code, err := readAll(second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.CategoryAlreadyBound, events[0].Category())
	assert.Equal(t, websocket.ClosePolicyViolation, code)

	snap, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.SessionConnected, snap.State)
}

func TestInvocationFailure(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Run", mock.Anything, mock.MatchedBy(func(req execution.Request) bool {
		return req.Task == "hello" && req.Model == "gpt-4o"
	})).Return(nil, errors.New("browser crashed"))

	h := newHarness(t, exec, DefaultOptions())
	id, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	events, code, err := readAll(conn)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].Type)
	assert.Equal(t, types.CategoryInvocationFailed, events[0].Category())
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionsTerminal.WithLabelValues("failed")))

	_, ok := h.registry.Get(id)
	assert.False(t, ok)
	exec.AssertExpectations(t)
}

func TestConcurrentSessions(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{Steps: 2, StepDelay: time.Millisecond}), DefaultOptions())
	want := []types.EventType{types.EventStatus, types.EventStep, types.EventStep, types.EventComplete}

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		task := fmt.Sprintf("task %d", i)
		g.Go(func() error {
			id, err := h.createTask(task)
			if err != nil {
				return err
			}
			conn, err := h.dial(id)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := send(conn, `{"action":"start"}`); err != nil {
				return err
			}
			events, _, err := readAll(conn)
			if err != nil {
				return err
			}
			got := eventTypes(events)
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return fmt.Errorf("%s: got %v", task, got)
			}
			if events[0].Message != "Starting task: "+task {
				return fmt.Errorf("%s: events from another session: %q", task, events[0].Message)
			}
			for _, ev := range events {
				if ev.Data["session_id"] != id {
					return fmt.Errorf("%s: event for session %v", task, ev.Data["session_id"])
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, h.registry.Stats().Total)
}

func TestSecondStartRejected(t *testing.T) {
	exec := newGated(true)
	h := newHarness(t, exec, DefaultOptions())
	_, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	assert.Equal(t, types.EventStatus, mustRead(t, conn).Type)

	require.NoError(t, send(conn, `{"action":"start"}`))
	ev := mustRead(t, conn)
	assert.Equal(t, types.EventError, ev.Type)
	assert.Equal(t, types.CategoryProtocol, ev.Category())

	close(exec.release)
	events, code, err := readAll(conn)
	require.NoError(t, err)
	assert.Equal(t, []types.EventType{types.EventComplete}, eventTypes(events))
	assert.Equal(t, websocket.CloseNormalClosure, code)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, newGated(true), DefaultOptions())
	id, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	assert.Equal(t, types.EventStatus, mustRead(t, conn).Type)

	require.NoError(t, send(conn, `{"action":"cancel"}`))
	events, code, err := readAll(conn)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.CategoryCancelled, events[0].Category())
	assert.Equal(t, websocket.CloseNormalClosure, code)

	_, ok := h.registry.Get(id)
	assert.False(t, ok)
}

func TestCancelUnsupported(t *testing.T) {
	exec := newGated(false)
	h := newHarness(t, exec, DefaultOptions())
	_, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	assert.Equal(t, types.EventStatus, mustRead(t, conn).Type)

	require.NoError(t, send(conn, `{"action":"cancel"}`))
	ev := mustRead(t, conn)
	assert.Equal(t, types.EventError, ev.Type)
	assert.Equal(t, types.CategoryNotCancellable, ev.Category())

	close(exec.release)
	events, _, err := readAll(conn)
	require.NoError(t, err)
	assert.Equal(t, []types.EventType{types.EventComplete}, eventTypes(events))
}

func TestCancelBeforeStart(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{Steps: 1}), DefaultOptions())
	_, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"cancel"}`))
	ev := mustRead(t, conn)
	assert.Equal(t, types.CategoryProtocol, ev.Category())

	require.NoError(t, send(conn, `{"action":"start"}`))
	events, _, err := readAll(conn)
	require.NoError(t, err)
	assert.Equal(t, []types.EventType{types.EventStatus, types.EventStep, types.EventComplete}, eventTypes(events))
}

func TestMalformedCommand(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{Steps: 1}), DefaultOptions())
	_, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `not json`))
	ev := mustRead(t, conn)
	assert.Equal(t, types.EventError, ev.Type)
	assert.Equal(t, types.CategoryProtocol, ev.Category())

	require.NoError(t, send(conn, `{"action":"start"}`))
	events, code, err := readAll(conn)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, types.EventComplete, events[len(events)-1].Type)
	assert.Equal(t, websocket.CloseNormalClosure, code)
}

func TestUnknownAction(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{}), DefaultOptions())
	_, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"pause"}`))
	ev := mustRead(t, conn)
	assert.Equal(t, types.CategoryProtocol, ev.Category())
	assert.Contains(t, ev.Message, "pause")
}

func TestRunTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRunDuration = 50 * time.Millisecond
	h := newHarness(t, newGated(true), opts)
	id, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	assert.Equal(t, types.EventStatus, mustRead(t, conn).Type)

	events, code, err := readAll(conn)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.CategoryTimeout, events[0].Category())
	assert.Equal(t, websocket.CloseNormalClosure, code)

	_, ok := h.registry.Get(id)
	assert.False(t, ok)
}

func TestDisconnectWhileRunning(t *testing.T) {
	h := newHarness(t, newGated(true), DefaultOptions())
	id, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	assert.Equal(t, types.EventStatus, mustRead(t, conn).Type)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		snap, ok := h.registry.Get(id)
		return ok && snap.State == types.SessionExpired
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.registry.Sweep())
	_, ok := h.registry.Get(id)
	assert.False(t, ok)
}

func TestEmptyStartTaskUsesCreatedTask(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{}), DefaultOptions())

	_, conn := h.connect(t, "find flights")
	require.NoError(t, send(conn, `{"action":"start","task":""}`))
	assert.Equal(t, "Starting task: find flights", mustRead(t, conn).Message)

	_, conn = h.connect(t, "find flights")
	require.NoError(t, send(conn, `{"action":"start","task":"find hotels"}`))
	assert.Equal(t, "Starting task: find hotels", mustRead(t, conn).Message)
}

func TestShutdownStopsRunningTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarnessWithContext(t, ctx, newGated(true), DefaultOptions())
	id, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	assert.Equal(t, types.EventStatus, mustRead(t, conn).Type)

	cancel()
	events, _, err := readAll(conn)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.CategoryCancelled, events[0].Category())
	assert.Equal(t, "server shutting down", events[0].Message)

	_, ok := h.registry.Get(id)
	assert.False(t, ok)
}

func TestConnectionGauge(t *testing.T) {
	h := newHarness(t, simulated.New(simulated.Config{}), DefaultOptions())
	_, conn := h.connect(t, "hello")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WSConnections))
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.WSConnections) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func waitFinished(t *testing.T, exec *gatedExecutor) {
	t.Helper()
	select {
	case <-exec.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("detached run did not finish")
	}
}

func TestDisconnectWhileRunningNotCancellable(t *testing.T) {
	exec := newGated(false)
	h := newHarness(t, exec, DefaultOptions())
	id, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	assert.Equal(t, types.EventStatus, mustRead(t, conn).Type)
	runCtx := <-exec.runs
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		snap, ok := h.registry.Get(id)
		return ok && snap.State == types.SessionExpired
	}, 2*time.Second, 5*time.Millisecond)

	again, err := h.dial(id)
	require.NoError(t, err)
	defer again.Close()
	events, code, err := readAll(again)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.CategorySessionTerminal, events[0].Category())
	assert.Equal(t, websocket.ClosePolicyViolation, code)

	// The run is detached, not cancelled
	assert.NoError(t, runCtx.Err())

	close(exec.release)
	waitFinished(t, exec)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.ExecutorRuns.WithLabelValues("gated", "disconnected")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.registry.Sweep())
	_, ok := h.registry.Get(id)
	assert.False(t, ok)
}

func TestRunTimeoutNotCancellable(t *testing.T) {
	exec := newGated(false)
	opts := DefaultOptions()
	opts.MaxRunDuration = 300 * time.Millisecond
	h := newHarness(t, exec, opts)
	id, conn := h.connect(t, "hello")

	require.NoError(t, send(conn, `{"action":"start"}`))
	assert.Equal(t, types.EventStatus, mustRead(t, conn).Type)
	runCtx := <-exec.runs

	events, code, err := readAll(conn)
	require.NoError(t, err)
	require.Len(t, events, 1, "output of the detached run must not reach the client")
	assert.Equal(t, types.CategoryTimeout, events[0].Category())
	assert.Equal(t, websocket.CloseNormalClosure, code)

	_, ok := h.registry.Get(id)
	assert.False(t, ok)
	assert.NoError(t, runCtx.Err())

	close(exec.release)
	waitFinished(t, exec)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.ExecutorRuns.WithLabelValues("gated", "timeout")) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
