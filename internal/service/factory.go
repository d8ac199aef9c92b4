// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/cdp"
	rodbackend "github.com/xkilldash9x/fluentweb/internal/browser/rod"
	"github.com/xkilldash9x/fluentweb/internal/browser/selector"
	seleniumbackend "github.com/xkilldash9x/fluentweb/internal/browser/selenium"
	"github.com/xkilldash9x/fluentweb/internal/config"
	"github.com/xkilldash9x/fluentweb/internal/engine"
	"github.com/xkilldash9x/fluentweb/internal/observability"
)

// BackendBuilder starts one browser session.
type BackendBuilder func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (schemas.Backend, error)

// ComponentFactory builds an initialized engine and its collaborators from configuration.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	builders   map[string]BackendBuilder
	registerer prometheus.Registerer
}

// FactoryOption customizes the factory.
type FactoryOption func(*concreteFactory)

// WithBackendBuilder replaces the builder for one backend kind.
func WithBackendBuilder(kind string, b BackendBuilder) FactoryOption {
	return func(f *concreteFactory) { f.builders[kind] = b }
}

// WithRegisterer registers chain metrics on reg. Without it metrics are
// collected but not exported.
func WithRegisterer(reg prometheus.Registerer) FactoryOption {
	return func(f *concreteFactory) { f.registerer = reg }
}

// NewComponentFactory creates a factory wired to the real browser drivers.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{builders: map[string]BackendBuilder{
		config.BackendChromedp: func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (schemas.Backend, error) {
			return cdp.New(ctx, cfg, logger)
		},
		config.BackendRod: func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (schemas.Backend, error) {
			return rodbackend.New(ctx, cfg, logger)
		},
		config.BackendSelenium: func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (schemas.Backend, error) {
			return seleniumbackend.New(ctx, cfg, logger)
		},
	}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create validates cfg, starts every configured backend, builds the selector
// strategy and returns an initialized engine. Anything started before a
// failure is shut down again.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = observability.GetLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	components := &Components{logger: logger}
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown(context.Background())
		}
	}()

	// 1. Selector strategy
	strategy, err := selector.New(cfg.Selector)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create selector strategy: %w", err)
		return nil, initializationErr
	}
	components.Strategy = strategy

	// 2. Backends, in configured order
	for _, kind := range cfg.Browser.Backends {
		build, ok := f.builders[kind]
		if !ok {
			initializationErr = fmt.Errorf("no builder for backend %q", kind)
			return nil, initializationErr
		}
		backend, err := build(ctx, cfg.Browser, logger.Named(kind))
		if err != nil {
			initializationErr = fmt.Errorf("failed to start %s backend: %w", kind, err)
			return nil, initializationErr
		}
		components.Backends = append(components.Backends, backend)
		logger.Debug("Backend started.", zap.String("backend", kind))
	}

	// 3. Metrics
	metrics, err := observability.NewChainMetrics(f.registerer)
	if err != nil {
		initializationErr = fmt.Errorf("failed to register chain metrics: %w", err)
		return nil, initializationErr
	}
	components.Metrics = metrics

	// 4. Engine
	eng, err := engine.New(components.Backends, strategy, logger, cfg.Engine, engine.WithMetrics(metrics))
	if err != nil {
		initializationErr = fmt.Errorf("failed to create engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = eng

	if err := eng.Initialize(ctx); err != nil {
		initializationErr = fmt.Errorf("failed to initialize engine: %w", err)
		return nil, initializationErr
	}

	logger.Info("All components initialized successfully.", zap.Strings("backends", cfg.Browser.Backends))
	return components, nil
}
