// internal/browser/cdp/backend.go
//
// Package cdp drives Chromium over the DevTools protocol with chromedp.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/navsync"
	"github.com/xkilldash9x/fluentweb/internal/browser/script"
	"github.com/xkilldash9x/fluentweb/internal/config"
)

// Name is the backend name reported in logs and node errors.
const Name = "chromedp"

// restoreTimeout bounds cleanup work that must run after the caller's
// context may already be done.
const restoreTimeout = 5 * time.Second

// Backend is a schemas.Backend over one chromedp browser tab.
type Backend struct {
	ctx         context.Context // chromedp target context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	attribute string
	nav       *navsync.Navigator
	newPrefix func() string
	// runActionsFunc and evaluateFunc are swapped in tests.
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
	evaluateFunc   func(ctx context.Context, body string) ([]byte, error)

	closeOnce sync.Once
	closeErr  error
}

var (
	_ schemas.Backend      = (*Backend)(nil)
	_ schemas.DragDropper  = (*Backend)(nil)
	_ schemas.FileUploader = (*Backend)(nil)
)

// allocatorOptions translates the browser section into exec allocator flags.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	// DefaultExecAllocatorOptions already carries --headless.
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if key, value, ok := strings.Cut(arg, "="); ok {
			opts = append(opts, chromedp.Flag(key, value))
			continue
		}
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// New launches a local Chromium and opens one tab.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Backend, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	log := logger.Named(Name)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf))

	b := Attach(tabCtx, tabCancel, cfg.NavigationTimeout, logger)
	b.allocCancel = allocCancel

	// The first Run starts the browser.
	if err := b.runActions(ctx); err != nil {
		_ = b.Close(ctx)
		return nil, fmt.Errorf("failed to start chromedp browser: %w", err)
	}
	log.Info("Browser session started.", zap.Bool("headless", cfg.Headless), zap.String("attribute", b.attribute))
	return b, nil
}

// Attach wraps an existing chromedp context. cancel is called by Close.
func Attach(tabCtx context.Context, cancel context.CancelFunc, navigationTimeout time.Duration, logger *zap.Logger) *Backend {
	log := logger.Named(Name)
	b := &Backend{
		ctx:       tabCtx,
		cancel:    cancel,
		logger:    log,
		attribute: script.NewUniqueAttribute(),
		nav:       navsync.New(navigationTimeout, log),
		newPrefix: uuid.NewString,
	}
	b.runActionsFunc = b.run
	if chromedp.FromContext(tabCtx) != nil {
		b.listen()
	}
	return b
}

func (b *Backend) listen() {
	chromedp.ListenTarget(b.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				b.nav.Publish(e.Frame.URL + e.Frame.URLFragment)
			}
		case *page.EventNavigatedWithinDocument:
			b.nav.Publish(e.URL)
		}
	})
}

// run executes actions within both the tab lifetime and the caller's context.
func (b *Backend) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(b.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (b *Backend) runActions(ctx context.Context, actions ...chromedp.Action) error {
	return b.runActionsFunc(ctx, actions...)
}

// Name implements schemas.Backend.
func (b *Backend) Name() string { return Name }

// Attribute is the synthetic attribute this backend tags elements with.
func (b *Backend) Attribute() string { return b.attribute }

// Open implements schemas.Backend.
func (b *Backend) Open(ctx context.Context, uri string) error {
	return b.nav.Open(ctx, uri, func(ctx context.Context) error {
		return b.runActions(ctx, chromedp.Navigate(uri))
	})
}

// Close implements schemas.Backend.
func (b *Backend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		if chromedp.FromContext(b.ctx) != nil {
			if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.closeErr = fmt.Errorf("failed to close chromedp tab: %w", err)
			}
		}
		if b.cancel != nil {
			b.cancel()
		}
		if b.allocCancel != nil {
			b.allocCancel()
		}
		b.logger.Debug("Browser session closed.")
	})
	return b.closeErr
}
