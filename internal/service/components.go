// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/engine"
	"github.com/xkilldash9x/fluentweb/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// Components holds everything the factory created, so it can be released together.
type Components struct {
	Engine   *engine.Engine
	Backends []schemas.Backend
	Strategy schemas.DomSelectorStrategy
	Metrics  *observability.ChainMetrics

	logger *zap.Logger
}

// Shutdown closes the engine, which closes its backends. When the engine was
// never built the backends are closed directly.
func (c *Components) Shutdown(ctx context.Context) error {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// Use a separate context so shutdown completes even if ctx is already cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var err error
	if c.Engine != nil {
		err = c.Engine.Close(shutdownCtx)
	} else {
		for _, b := range c.Backends {
			err = multierr.Append(err, b.Close(shutdownCtx))
		}
	}

	if err != nil {
		logger.Warn("Error during components shutdown.", zap.Error(err))
		return err
	}
	logger.Info("All components shut down successfully.")
	return nil
}
