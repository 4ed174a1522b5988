/*
Package tracing provides lightweight request tracing.

# Overview

Each HTTP request, WebSocket run and remote executor stream gets a span.
Trace and span ids travel in the X-Trace-ID and X-Span-ID headers (and the
equivalent lowercase gRPC metadata keys) so a task can be followed from
creation through the executor service.

Completed spans are buffered and logged asynchronously through zap. When
the buffer is full, spans are dropped with a warning rather than blocking
the caller.

# Usage

	tracer := tracing.New("browsertasks", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	conn, err := grpc.NewClient(addr,
		grpc.WithStreamInterceptor(tracing.GRPCStreamClientInterceptor(tracer)),
	)

	span, ctx := tracer.StartSpan(ctx, "ws.run")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
