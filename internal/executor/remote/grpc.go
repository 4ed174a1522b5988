package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

const (
	// ServiceName is the gRPC service a worker registers
	ServiceName = "browsertask.v1.Executor"
	// RunMethod is the full method of the server-streaming run call
	RunMethod = "/" + ServiceName + "/Run"

	maxMessageSize = 10 * 1024 * 1024
)

// Requests and events travel as google.protobuf.Struct so workers in any
// language can serve the call without shared generated code.
var runStreamDesc = grpc.StreamDesc{StreamName: "Run", ServerStreams: true}

// GRPCExecutor runs tasks on a remote worker over a server stream
type GRPCExecutor struct {
	conn    *grpc.ClientConn
	addr    string
	breaker *resilience.Breaker
	logger  *logging.Logger
}

// NewGRPC creates a client for the worker at addr. The connection is
// established lazily on the first run.
func NewGRPC(addr string, tracer *tracing.Tracer, logger *logging.Logger, extra ...grpc.DialOption) (*GRPCExecutor, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("executor.grpc")

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}
	if tracer != nil {
		opts = append(opts, grpc.WithStreamInterceptor(tracing.GRPCStreamClientInterceptor(tracer)))
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor client: %w", err)
	}

	return &GRPCExecutor{
		conn:    conn,
		addr:    addr,
		breaker: newBreaker("executor-grpc", logger),
		logger:  logger,
	}, nil
}

// Name identifies the executor in logs and metrics
func (e *GRPCExecutor) Name() string { return "grpc" }

// SupportsCancel reports that cancelling the run context cancels the stream
func (e *GRPCExecutor) SupportsCancel() bool { return true }

// Close closes the connection
func (e *GRPCExecutor) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// Run opens the run stream and sends the request
func (e *GRPCExecutor) Run(ctx context.Context, req execution.Request) (execution.Stream, error) {
	msg, err := structpb.NewStruct(newRunRequest(req).toMap())
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cs, err := resilience.Call(e.breaker, func() (grpc.ClientStream, error) {
		cs, err := e.conn.NewStream(runCtx, &runStreamDesc, RunMethod)
		if err != nil {
			return nil, err
		}
		if err := cs.SendMsg(msg); err != nil {
			return nil, err
		}
		return cs, cs.CloseSend()
	})
	if err != nil {
		cancel()
		e.logger.Warn("failed to open run stream",
			zap.String("session_id", req.SessionID),
			zap.String("addr", e.addr),
			zap.Error(err),
		)
		return nil, fromGRPC(err)
	}

	return &grpcStream{cs: cs, cancel: cancel}, nil
}

type grpcStream struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc
	once   sync.Once
}

func (s *grpcStream) Recv() (types.Event, error) {
	msg := new(structpb.Struct)
	if err := s.cs.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return types.Event{}, io.EOF
		}
		return types.Event{}, fromGRPC(err)
	}
	ev, err := eventFromMap(msg.AsMap())
	if err != nil {
		return types.Event{}, fmt.Errorf("decode executor event: %w", err)
	}
	return ev, nil
}

func (s *grpcStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// fromGRPC maps transport failures onto execution errors
func fromGRPC(err error) error {
	if resilience.IsRejection(err) {
		return fmt.Errorf("%w: executor circuit open", execution.ErrModelUnavailable)
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", execution.ErrModelUnavailable, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	default:
		return fmt.Errorf("executor failed (%s): %s", st.Code(), st.Message())
	}
}

// toGRPC maps execution errors onto status codes for the serving side
func toGRPC(err error) error {
	switch {
	case errors.Is(err, execution.ErrModelUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

// RegisterExecutor serves exec as a run worker on s
func RegisterExecutor(s grpc.ServiceRegistrar, exec execution.Executor) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    runStreamDesc.StreamName,
			ServerStreams: true,
			Handler:       runHandler(exec),
		}},
	}, exec)
}

func runHandler(exec execution.Executor) grpc.StreamHandler {
	return func(_ any, ss grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := ss.RecvMsg(in); err != nil {
			return err
		}

		stream, err := exec.Run(ss.Context(), runRequestFromMap(in.AsMap()))
		if err != nil {
			return toGRPC(err)
		}
		defer stream.Close()

		for {
			ev, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return toGRPC(err)
			}
			out, err := structpb.NewStruct(eventToMap(ev))
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := ss.SendMsg(out); err != nil {
				return err
			}
		}
	}
}
