package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/GriffinCanCode/BrowserTasks/backend/internal/api/http"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/api/middleware"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/api/ws"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/session"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/executor"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/tracing"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	registry   *session.Registry
	executor   execution.Executor
	limiter    *middleware.Limiter
	tracer     *tracing.Tracer
	metrics    *monitoring.Metrics
	logger     *logging.Logger
	config     *config.Config

	// stopChannels ends every open execution channel
	stopChannels context.CancelFunc
	closeOnce    sync.Once
}

// Option customizes server construction
type Option func(*options)

type options struct {
	executor execution.Executor
	gatherer *prometheus.Registry
}

// WithExecutor replaces the executor built from configuration
func WithExecutor(exec execution.Executor) Option {
	return func(o *options) { o.executor = exec }
}

// WithMetricsRegistry collects metrics into reg instead of a fresh registry
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.gatherer = reg }
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger, version string, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger.Info("Initializing browser task server",
		zap.String("addr", cfg.Addr()),
		zap.String("executor", cfg.Executor.Kind),
		zap.String("default_model", cfg.Executor.DefaultModel),
		zap.String("version", version),
	)

	// Metrics first, everything else records into them
	reg := o.gatherer
	if reg == nil {
		reg = monitoring.NewRegistry()
	}
	metrics := monitoring.NewMetrics(reg)

	tracer := tracing.New(httpapi.ServiceName, logger)

	exec := o.executor
	if exec == nil {
		var err error
		exec, err = executor.New(cfg.Executor, tracer, logger)
		if err != nil {
			tracer.Close()
			return nil, fmt.Errorf("failed to create executor: %w", err)
		}
	}

	registry := session.NewRegistry(cfg.Session.GracePeriod, logger).WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	var limiter *middleware.Limiter
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limiter = middleware.NewLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
		router.Use(limiter.Handler())
	}
	router.Use(middleware.RequestLogger(logger))

	channels, stopChannels := context.WithCancel(context.Background())

	httpapi.NewHandlers(registry, cfg.Executor.DefaultModel, version, logger).Register(router)
	ws.NewHandler(registry, exec, ws.Options{
		MaxRunDuration: cfg.Session.MaxRunDuration,
		PingInterval:   cfg.Stream.PingInterval,
		WriteTimeout:   cfg.Stream.WriteTimeout,
		ReadLimit:      cfg.Stream.ReadLimit,
	}, logger).
		WithMetrics(metrics).
		WithTracer(tracer).
		WithBaseContext(channels).
		Register(router)

	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:    cfg.Addr(),
			Handler: router,
		},
		registry:     registry,
		executor:     exec,
		limiter:      limiter,
		tracer:       tracer,
		metrics:      metrics,
		logger:       logger,
		config:       cfg,
		stopChannels: stopChannels,
	}, nil
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the session registry
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Run serves until ctx is done, then shuts down gracefully. The session
// sweeper and the rate limiter janitor run alongside the listener.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.registry.Run(gctx, s.config.Session.SweepInterval)
		return nil
	})

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down server...")

	// Hijacked connections are not tracked by http.Server
	s.stopChannels()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Graceful shutdown failed", zap.Error(err))
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Close releases the executor and tracer. It is safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stopChannels()

		if closer, ok := s.executor.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				s.logger.Error("Failed to close executor", zap.Error(cerr))
				err = fmt.Errorf("failed to close executor: %w", cerr)
			} else {
				s.logger.Info("Closed executor connection")
			}
		}

		s.tracer.Close()
		_ = s.logger.Sync()
	})
	return err
}
