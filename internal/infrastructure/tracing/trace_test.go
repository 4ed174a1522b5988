package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
)

func newObservedTracer(t *testing.T) (*Tracer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New("test", logging.Wrap(zap.New(core)))
	return tracer, logs
}

func TestStartSpanContinuesTrace(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "parent")
	child, _ := tracer.StartSpan(ctx, "child")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
	assert.Empty(t, parent.ParentID)
}

func TestCloseFlushesSpans(t *testing.T) {
	tracer, logs := newObservedTracer(t)

	for i := 0; i < 5; i++ {
		span, _ := tracer.StartSpan(context.Background(), "op")
		span.Finish()
		tracer.Submit(span)
	}
	tracer.Close()

	assert.Equal(t, 5, logs.FilterMessage("span completed").Len())
}

func TestSubmitAfterClose(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	tracer.Close()
	tracer.Close()

	span, _ := tracer.StartSpan(context.Background(), "late")
	assert.NotPanics(t, func() { tracer.Submit(span) })
}

func TestHTTPMiddlewarePropagatesIncomingTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/health", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderTraceID, "req_incoming")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, TraceID("req_incoming"), seen)
	assert.Equal(t, "req_incoming", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))
}

func TestHTTPMiddlewareStartsTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Contains(t, w.Header().Get(HeaderTraceID), "req_")
}

func TestStreamClientInterceptorInjectsMetadata(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	var md metadata.MD
	streamer := func(ctx context.Context, _ *grpc.StreamDesc, _ *grpc.ClientConn, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
		md, _ = metadata.FromOutgoingContext(ctx)
		return nil, nil
	}

	ctx := ContextWith(context.Background(), "req_abc", "")
	_, err := GRPCStreamClientInterceptor(tracer)(ctx, &grpc.StreamDesc{ServerStreams: true}, nil, "/svc/Run", streamer)
	require.NoError(t, err)

	assert.Equal(t, []string{"req_abc"}, md.Get("x-trace-id"))
	assert.Len(t, md.Get("x-span-id"), 1)
}

func TestFields(t *testing.T) {
	assert.Nil(t, Fields(context.Background()))
	ctx := ContextWith(context.Background(), "req_1", "span_1")
	assert.Len(t, Fields(ctx), 2)
}
