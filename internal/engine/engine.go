package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/chain"
	"github.com/xkilldash9x/fluentweb/internal/config"
	"github.com/xkilldash9x/fluentweb/internal/observability"
)

type lifecycle int

const (
	uninitialized lifecycle = iota
	initializing
	initialized
)

func (l lifecycle) String() string {
	switch l {
	case initializing:
		return "initializing"
	case initialized:
		return "initialized"
	}
	return "uninitialized"
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics records node and chain outcomes on m.
func WithMetrics(m *observability.ChainMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

type pendingChain struct {
	seq     uint64
	ctx     *chain.Context
	claimed bool
}

// Engine starts method chains and awaits them. Every top-level fluent call
// creates a new chain replayed against all of the engine's backends.
type Engine struct {
	backends []schemas.Backend
	strategy schemas.DomSelectorStrategy
	cfg      config.EngineConfig
	logger   *zap.Logger
	metrics  *observability.ChainMetrics

	mu      sync.Mutex
	state   lifecycle
	seq     uint64
	pending map[string]*pendingChain

	closeOnce sync.Once
	closeErr  error
}

// New creates an uninitialized engine. Initialize must complete before any
// chain is started.
func New(
	backends []schemas.Backend,
	strategy schemas.DomSelectorStrategy,
	logger *zap.Logger,
	cfg config.EngineConfig,
	opts ...Option,
) (*Engine, error) {
	if len(backends) == 0 {
		return nil, errors.New("engine requires at least one backend")
	}
	if strategy == nil {
		return nil, errors.New("engine requires a selector strategy")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		backends: backends,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "engine")),
		pending:  make(map[string]*pendingChain),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Initialize prepares the selector strategy. It may succeed only once; a
// concurrent or repeated call fails with schemas.ErrInvalidState. After a
// failed attempt the engine can be initialized again.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.state != uninitialized {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: engine is already %s", schemas.ErrInvalidState, state)
	}
	e.state = initializing
	e.mu.Unlock()

	err := e.strategy.Initialize(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = uninitialized
		return fmt.Errorf("failed to initialize selector strategy: %w", err)
	}
	e.state = initialized

	names := make([]string, len(e.backends))
	for i, b := range e.backends {
		names[i] = b.Name()
	}
	e.logger.Info("Engine initialized", zap.Strings("backends", names))
	return nil
}

// begin registers a new chain. Before initialization has finished the chain
// carries schemas.ErrInvalidState and never runs a node.
func (e *Engine) begin() *chain.Chain {
	c := chain.NewContext(chain.Options{
		Backends: e.backends,
		Strategy: e.strategy,
		Config:   e.cfg,
		Logger:   e.logger,
		Metrics:  e.metrics,
	})

	e.mu.Lock()
	state := e.state
	e.seq++
	e.pending[c.ID()] = &pendingChain{seq: e.seq, ctx: c}
	e.mu.Unlock()

	if state != initialized {
		c.Fail(fmt.Errorf("%w: chain started while engine is %s", schemas.ErrInvalidState, state))
	}
	return c.Root()
}

// Pending returns the number of chains not yet awaited.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// -- Fluent entry points --

func (e *Engine) Open(uri string) *chain.Chain            { return e.begin().Open(uri) }
func (e *Engine) Find(sel string) *chain.Found            { return e.begin().Find(sel) }
func (e *Engine) Click(t chain.Target) *chain.Action       { return e.begin().Click(t) }
func (e *Engine) DoubleClick(t chain.Target) *chain.Action { return e.begin().DoubleClick(t) }
func (e *Engine) RightClick(t chain.Target) *chain.Action  { return e.begin().RightClick(t) }
func (e *Engine) Hover(t chain.Target) *chain.Action       { return e.begin().Hover(t) }
func (e *Engine) Drag(from chain.Target) *chain.Dragging   { return e.begin().Drag(from) }
func (e *Engine) Focus(t chain.Target) *chain.Chain        { return e.begin().Focus(t) }
func (e *Engine) Select(value string) *chain.Selecting     { return e.begin().Select(value) }
func (e *Engine) SelectIndex(index int) *chain.Selecting   { return e.begin().SelectIndex(index) }
func (e *Engine) Enter(text string) *chain.Entering        { return e.begin().Enter(text) }
func (e *Engine) Expect() *chain.Expectation               { return e.begin().Expect() }

func (e *Engine) Upload(t chain.Target, path string) *chain.Chain {
	return e.begin().Upload(t, path)
}

func (e *Engine) Wait(d time.Duration) *chain.Chain { return e.begin().Wait(d) }

func (e *Engine) WaitUntil(fn func() bool) *chain.Chain { return e.begin().WaitUntil(fn) }

func (e *Engine) WaitUntilWithin(fn func() bool, timeout time.Duration) *chain.Chain {
	return e.begin().WaitUntilWithin(fn, timeout)
}

func (e *Engine) WaitFor(fn chain.Predicate) *chain.Chain { return e.begin().WaitFor(fn) }

func (e *Engine) WaitForWithin(fn chain.Predicate, timeout time.Duration) *chain.Chain {
	return e.begin().WaitForWithin(fn, timeout)
}

func (e *Engine) WaitUntilExpected(fn func(*chain.Expectation) *chain.Chain) *chain.Chain {
	return e.begin().WaitUntilExpected(fn)
}

func (e *Engine) WaitUntilExpectedWithin(fn func(*chain.Expectation) *chain.Chain, timeout time.Duration) *chain.Chain {
	return e.begin().WaitUntilExpectedWithin(fn, timeout)
}

func (e *Engine) TakeScreenshot(target ...chain.Target) *chain.Screenshot {
	return e.begin().TakeScreenshot(target...)
}

// -- Await and shutdown --

// Await runs every pending chain concurrently, at most
// engine.max_concurrent_chains at a time, and returns once all of them have
// finished. A failing chain never stops its siblings; every failure is
// returned, combined with multierr. Chains another Await is already running
// are waited for, not run again, and report their own outcome.
func (e *Engine) Await(ctx context.Context) error {
	type awaited struct {
		seq uint64
		ctx *chain.Context
		run bool
	}

	e.mu.Lock()
	batch := make([]awaited, 0, len(e.pending))
	for _, p := range e.pending {
		batch = append(batch, awaited{seq: p.seq, ctx: p.ctx, run: !p.claimed})
		p.claimed = true
	}
	e.mu.Unlock()
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })

	if len(batch) == 0 {
		return nil
	}
	e.logger.Debug("Awaiting chains", zap.Int("count", len(batch)))

	errs := make([]error, len(batch))
	var g, waiters errgroup.Group
	if e.cfg.MaxConcurrentChains > 0 {
		g.SetLimit(e.cfg.MaxConcurrentChains)
	}
	for i, a := range batch {
		i, c := i, a.ctx
		if !a.run {
			// In flight elsewhere; waiting takes no concurrency slot.
			waiters.Go(func() error {
				errs[i] = waitFor(ctx, c)
				return nil
			})
			continue
		}
		g.Go(func() error {
			errs[i] = c.RunAll(ctx)
			e.mu.Lock()
			delete(e.pending, c.ID())
			e.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	_ = waiters.Wait()

	// Combine in creation order.
	return multierr.Combine(errs...)
}

// waitFor blocks until c has finished and returns its outcome.
func waitFor(ctx context.Context, c *chain.Context) error {
	select {
	case <-c.Done():
		return c.Result()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every backend. Only the first call does any work; later
// calls return the same result.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		if n := e.Pending(); n > 0 {
			e.logger.Warn("Closing engine with chains that were never awaited", zap.Int("pending", n))
		}
		for _, b := range e.backends {
			if err := b.Close(ctx); err != nil {
				e.closeErr = multierr.Append(e.closeErr, fmt.Errorf("failed to close %s backend: %w", b.Name(), err))
			}
		}
		e.logger.Info("Engine closed")
	})
	return e.closeErr
}
