// File: internal/chain/context.go
package chain

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/config"
	"github.com/xkilldash9x/fluentweb/internal/observability"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultWaitTimeout  = 10 * time.Second
)

// Options are the collaborators a context runs with.
type Options struct {
	Backends []schemas.Backend
	Strategy schemas.DomSelectorStrategy
	Config   config.EngineConfig
	Logger   *zap.Logger
	Metrics  *observability.ChainMetrics
}

// Context owns the nodes of one method chain and replays them, in enqueue
// order, against every attached backend.
type Context struct {
	id       string
	backends []schemas.Backend
	strategy schemas.DomSelectorStrategy
	cfg      config.EngineConfig
	logger   *zap.Logger
	metrics  *observability.ChainMetrics
	limiter  *rate.Limiter

	mu    sync.Mutex
	nodes []*Node
	queue []int
	state State
	err   error
	done  chan struct{}

	// result is what RunAll returned; set before done is closed.
	result error
}

// NewContext creates an empty pending context.
func NewContext(opts Options) *Context {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}

	c := &Context{
		id:       id,
		backends: opts.Backends,
		strategy: opts.Strategy,
		cfg:      cfg,
		logger:   logger.Named("chain").With(zap.String("chain_id", id)),
		metrics:  opts.Metrics,
		done:     make(chan struct{}),
	}
	if cfg.ActionsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), 1)
	}
	return c
}

// ID returns the chain identifier used in logs and errors.
func (c *Context) ID() string { return c.id }

// Root returns the start of the chain. Verbs called on it enqueue root nodes.
func (c *Context) Root() *Chain {
	return &Chain{ctx: c, last: -1}
}

// State returns the context's execution state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error recorded while building the chain, or the error
// RunAll failed with.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once RunAll has finished.
func (c *Context) Done() <-chan struct{} { return c.done }

// Result returns what RunAll returned. It is nil until Done is closed.
func (c *Context) Result() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Fail records a build error. RunAll returns it without executing any node.
// Only the first error is kept.
func (c *Context) Fail(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Nodes returns the queued nodes in execution order.
func (c *Context) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Node, len(c.queue))
	for i, idx := range c.queue {
		out[i] = c.nodes[idx]
	}
	return out
}

func (c *Context) append(n *Node) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePending {
		if c.err == nil {
			c.err = fmt.Errorf("%w: chain %s is already %s", schemas.ErrInvalidState, c.id, c.state)
		}
		return -1
	}
	return c.enqueueLocked(n)
}

func (c *Context) enqueueLocked(n *Node) int {
	n.elements = make([][]schemas.DomElement, len(c.backends))
	n.images = make([]image.Image, len(c.backends))
	c.nodes = append(c.nodes, n)
	idx := len(c.nodes) - 1
	c.queue = append(c.queue, idx)
	return idx
}

// replace swaps the queued node at arena index old for a reconfigured clone
// and returns the clone's index. Nodes already chained after old are moved
// onto the clone.
func (c *Context) replace(old int, configure func(*Node)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old < 0 || old >= len(c.nodes) || c.state != StatePending {
		return old
	}
	clone := c.nodes[old].Clone()
	configure(clone)
	clone.elements = make([][]schemas.DomElement, len(c.backends))
	clone.images = make([]image.Image, len(c.backends))
	c.nodes = append(c.nodes, clone)
	idx := len(c.nodes) - 1
	for pos, q := range c.queue {
		if q == old {
			c.queue[pos] = idx
		}
	}
	for _, n := range c.nodes {
		if n.parent == old && n != clone {
			n.parent = idx
		}
	}
	return idx
}

func (c *Context) node(idx int) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.nodes) {
		return nil
	}
	return c.nodes[idx]
}

func (c *Context) setImage(n *Node, b int, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n.images[b] = img
}

func (c *Context) images(idx int) []image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.nodes) {
		return nil
	}
	return append([]image.Image(nil), c.nodes[idx].images...)
}

// inherited returns the parent's elements on backend b.
func (c *Context) inherited(n *Node, b int) []schemas.DomElement {
	if n.parent < 0 || n.parent >= len(c.nodes) {
		return nil
	}
	return c.nodes[n.parent].elements[b]
}

// RunAll executes every queued node in order against every backend. A node
// starts only after the previous node finished on all backends. The first
// failure stops the chain; later nodes are skipped. A context runs once.
func (c *Context) RunAll(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePending {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: chain %s is already %s", schemas.ErrInvalidState, c.id, state)
	}
	c.state = StateRunning
	buildErr := c.err
	queue := append([]int(nil), c.queue...)
	nodes := c.nodes
	c.mu.Unlock()

	if buildErr != nil {
		c.finish(buildErr)
		return buildErr
	}

	c.logger.Debug("Running chain", zap.Int("nodes", len(queue)), zap.Int("backends", len(c.backends)))

	var err error
	for pos, idx := range queue {
		n := nodes[idx]
		if err != nil {
			c.metrics.SkipNode(n.Kind.String())
			continue
		}
		err = c.runNode(ctx, pos, n)
	}
	c.finish(err)
	return err
}

func (c *Context) runNode(ctx context.Context, pos int, n *Node) error {
	if err := ctx.Err(); err != nil {
		n.state = StateFailed
		return &NodeError{ChainID: c.id, Index: pos, Kind: n.Kind, Backend: "-", Err: err}
	}
	if c.limiter != nil && n.Kind.SideEffects() {
		if err := c.limiter.Wait(ctx); err != nil {
			n.state = StateFailed
			return &NodeError{ChainID: c.id, Index: pos, Kind: n.Kind, Backend: "-", Err: err}
		}
	}

	n.state = StateRunning
	start := time.Now()
	var err error
	for b, backend := range c.backends {
		n.elements[b] = c.inherited(n, b)
		s := &step{c: c, node: n, backend: backend, index: b}
		if execErr := s.execute(ctx); execErr != nil {
			err = &NodeError{ChainID: c.id, Index: pos, Kind: n.Kind, Backend: backend.Name(), Err: execErr}
			break
		}
	}
	elapsed := time.Since(start)
	c.metrics.ObserveNode(n.Kind.String(), elapsed, err)

	if err != nil {
		n.state = StateFailed
		c.logger.Warn("Chain node failed", zap.Int("index", pos), zap.Stringer("kind", n.Kind), zap.Error(err))
		return err
	}
	n.state = StateCompleted
	c.logger.Debug("Chain node completed", zap.Int("index", pos), zap.Stringer("kind", n.Kind), zap.Duration("elapsed", elapsed))
	return nil
}

func (c *Context) finish(err error) {
	c.mu.Lock()
	if err != nil {
		c.state = StateFailed
		if c.err == nil {
			c.err = err
		}
	} else {
		c.state = StateCompleted
	}
	c.result = err
	c.mu.Unlock()
	close(c.done)

	c.metrics.ObserveChain(err)
	if err != nil {
		c.logger.Info("Chain failed", zap.Error(err))
		return
	}
	c.logger.Debug("Chain completed")
}
