package executor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/executor/remote"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/executor/simulated"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/tracing"
)

// New builds the executor selected by cfg.Kind. Executors holding a
// connection also implement io.Closer.
func New(cfg config.ExecutorConfig, tracer *tracing.Tracer, logger *logging.Logger) (execution.Executor, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		exec execution.Executor
		err  error
	)
	switch cfg.Kind {
	case config.ExecutorSimulated:
		exec = simulated.New(simulated.Config{Steps: cfg.Steps, StepDelay: cfg.StepDelay})
	case config.ExecutorGRPC:
		exec, err = remote.NewGRPC(cfg.Address, tracer, logger)
	case config.ExecutorHTTP:
		exec = remote.NewHTTP(cfg.URL, logger)
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("executor configured",
		zap.String("kind", exec.Name()),
		zap.Bool("cancellable", execution.SupportsCancel(exec)),
	)
	return exec, nil
}
