// File: internal/browser/navsync/navigator.go
//
// Package navsync serializes page opens on one browser session and waits
// for the driver to report a navigation to the requested URL.
package navsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fluentweb/api/schemas"
)

// Navigator admits one Open at a time. Drivers call Publish with every
// main-frame URL they observe; the pending Open completes on an exact match.
type Navigator struct {
	gate    chan struct{}
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending *waiter
}

type waiter struct {
	uri  string
	done chan struct{}
	once sync.Once
}

// New returns a Navigator whose opens fail with ErrTimeoutExceeded after timeout.
func New(timeout time.Duration, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		gate:    make(chan struct{}, 1),
		timeout: timeout,
		logger:  logger.Named("navsync"),
	}
}

// Publish reports that the page navigated to url. Safe to call from driver
// event goroutines; it never blocks.
func (n *Navigator) Publish(url string) {
	n.mu.Lock()
	w := n.pending
	n.mu.Unlock()

	if w == nil || w.uri != url {
		return
	}
	w.once.Do(func() { close(w.done) })
}

// Open acquires the gate, calls navigate and waits until Publish reports
// uri. The gate is released on every path.
func (n *Navigator) Open(ctx context.Context, uri string, navigate func(ctx context.Context) error) error {
	select {
	case n.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-n.gate }()

	w := &waiter{uri: uri, done: make(chan struct{})}
	n.mu.Lock()
	n.pending = w
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.pending = nil
		n.mu.Unlock()
	}()

	if err := navigate(ctx); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", uri, err)
	}

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		n.logger.Debug("Navigation observed.", zap.String("url", uri))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("waiting for navigation to %s: %w", uri, schemas.ErrTimeoutExceeded)
	}
}
