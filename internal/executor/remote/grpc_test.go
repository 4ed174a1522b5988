package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/executor/simulated"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

// failingExecutor fails every run synchronously with err
type failingExecutor struct{ err error }

func (f failingExecutor) Name() string { return "failing" }
func (f failingExecutor) Run(context.Context, execution.Request) (execution.Stream, error) {
	return nil, f.err
}

// traceCapture records the trace id seen by the worker
type traceCapture struct {
	execution.Executor
	seen chan tracing.TraceID
}

func (c traceCapture) Run(ctx context.Context, req execution.Request) (execution.Stream, error) {
	c.seen <- tracing.GetTraceID(ctx)
	return c.Executor.Run(ctx, req)
}

func startWorker(t *testing.T, exec execution.Executor, tracer *tracing.Tracer) *GRPCExecutor {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(grpc.StreamInterceptor(tracing.GRPCStreamInterceptor(tracer)))
	RegisterExecutor(srv, exec)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGRPC("passthrough:///bufnet", tracer, logging.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func recvAll(t *testing.T, s execution.Stream) ([]types.Event, error) {
	t.Helper()
	var out []types.Event
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	tracer := tracing.New("test", logging.NewNop())
	defer tracer.Close()
	client := startWorker(t, simulated.New(simulated.Config{Steps: 2}), tracer)

	stream, err := client.Run(context.Background(), execution.Request{SessionID: "s1", Task: "hello", Model: "gpt-4o"})
	require.NoError(t, err)
	defer stream.Close()

	events, err := recvAll(t, stream)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, types.EventStatus, events[0].Type)
	assert.Equal(t, types.EventStep, events[1].Type)
	assert.Equal(t, types.EventComplete, events[3].Type)
	assert.Equal(t, "gpt-4o", events[3].Data["model"])
	assert.NotEmpty(t, events[3].Data["result"])
	assert.True(t, execution.SupportsCancel(client))
}

func TestGRPCPropagatesTrace(t *testing.T) {
	tracer := tracing.New("test", logging.NewNop())
	defer tracer.Close()
	seen := make(chan tracing.TraceID, 1)
	client := startWorker(t, traceCapture{Executor: simulated.New(simulated.Config{}), seen: seen}, tracer)

	ctx := tracing.ContextWith(context.Background(), "req_trace", "")
	stream, err := client.Run(ctx, execution.Request{Task: "x"})
	require.NoError(t, err)
	defer stream.Close()
	_, err = recvAll(t, stream)
	require.NoError(t, err)

	select {
	case got := <-seen:
		assert.Equal(t, tracing.TraceID("req_trace"), got)
	case <-time.After(time.Second):
		t.Fatal("worker never ran")
	}
}

func TestGRPCErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.Category
	}{
		{"unavailable model", execution.ErrModelUnavailable, types.CategoryModelUnavailable},
		{"deadline", context.DeadlineExceeded, types.CategoryTimeout},
		{"anything else", errors.New("browser crashed"), types.CategoryInvocationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer := tracing.New("test", logging.NewNop())
			defer tracer.Close()
			client := startWorker(t, failingExecutor{err: tt.err}, tracer)

			stream, err := client.Run(context.Background(), execution.Request{Task: "x"})
			if err == nil {
				defer stream.Close()
				_, err = recvAll(t, stream)
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, execution.Classify(err))
		})
	}
}

func TestGRPCCancel(t *testing.T) {
	tracer := tracing.New("test", logging.NewNop())
	defer tracer.Close()
	client := startWorker(t, simulated.New(simulated.Config{Steps: 5, StepDelay: time.Hour}), tracer)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.Run(ctx, execution.Request{Task: "slow"})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, types.EventStatus, ev.Type)

	cancel()
	_, err = stream.Recv()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventMapRoundTrip(t *testing.T) {
	ev, err := eventFromMap(eventToMap(types.Event{Type: "thinking", Message: "hmm"}))
	require.NoError(t, err)
	assert.Equal(t, types.EventType("thinking"), ev.Type)
	assert.NotNil(t, ev.Data)

	_, err = eventFromMap(map[string]interface{}{"message": "no type"})
	assert.Error(t, err)
}
