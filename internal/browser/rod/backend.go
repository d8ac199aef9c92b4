// internal/browser/rod/backend.go
//
// Package rod drives Chromium through go-rod.
package rod

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/navsync"
	"github.com/xkilldash9x/fluentweb/internal/browser/script"
	"github.com/xkilldash9x/fluentweb/internal/config"
)

// Name is the backend name reported in logs and node errors.
const Name = "rod"

const restoreTimeout = 5 * time.Second

// Backend is a schemas.Backend over one go-rod page.
type Backend struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	logger   *zap.Logger

	attribute  string
	nav        *navsync.Navigator
	stopListen context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var (
	_ schemas.Backend      = (*Backend)(nil)
	_ schemas.DragDropper  = (*Backend)(nil)
	_ schemas.FileUploader = (*Backend)(nil)
)

// newLauncher translates the browser section into launcher flags.
func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("window-size", fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight))
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if key, value, ok := strings.Cut(arg, "="); ok {
			l = l.Set(flags.Flag(key), value)
			continue
		}
		l = l.Set(flags.Flag(arg))
	}
	return l
}

// New connects to cfg.RodControlURL, or launches a local browser when it is
// empty, and opens a blank page.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Backend, error) {
	log := logger.Named(Name)

	var l *launcher.Launcher
	controlURL := cfg.RodControlURL
	if controlURL == "" {
		l = newLauncher(cfg)
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser for rod: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to connect rod to %s: %w", controlURL, err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to open rod page: %w", err)
	}

	b := &Backend{
		browser:   browser,
		launcher:  l,
		page:      page,
		logger:    log,
		attribute: script.NewUniqueAttribute(),
		nav:       navsync.New(cfg.NavigationTimeout, log),
	}
	b.listen()
	log.Info("Browser session started.", zap.String("control_url", controlURL), zap.String("attribute", b.attribute))
	return b, nil
}

func (b *Backend) listen() {
	ctx, cancel := context.WithCancel(context.Background())
	b.stopListen = cancel
	wait := b.page.Context(ctx).EachEvent(
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				b.nav.Publish(e.Frame.URL + e.Frame.URLFragment)
			}
		},
		func(e *proto.PageNavigatedWithinDocument) {
			b.nav.Publish(e.URL)
		},
	)
	go wait()
}

// on returns the page bound to ctx.
func (b *Backend) on(ctx context.Context) *rod.Page {
	return b.page.Context(ctx)
}

// Name implements schemas.Backend.
func (b *Backend) Name() string { return Name }

// Open implements schemas.Backend.
func (b *Backend) Open(ctx context.Context, uri string) error {
	return b.nav.Open(ctx, uri, func(ctx context.Context) error {
		return b.on(ctx).Navigate(uri)
	})
}

// EvaluateScript implements schemas.Backend.
func (b *Backend) EvaluateScript(ctx context.Context, code string) (*string, error) {
	obj, err := b.on(ctx).Evaluate(rod.Eval("() => {" + code + "}").ByPromise())
	if err != nil {
		return nil, fmt.Errorf("rod: evaluate script: %w", err)
	}
	if obj == nil || obj.Type == proto.RuntimeRemoteObjectTypeUndefined || obj.Value.Nil() {
		return nil, nil
	}
	return script.FromValue(obj.Value.Val())
}

func (b *Backend) evaluateString(ctx context.Context, body string) (string, error) {
	res, err := b.EvaluateScript(ctx, body)
	if err != nil || res == nil {
		return "", err
	}
	return *res, nil
}

// ResolveElements implements schemas.Backend.
func (b *Backend) ResolveElements(ctx context.Context, code string) ([]schemas.DomElement, error) {
	raw, err := b.evaluateString(ctx, script.ResolveElements(b.attribute, uuid.NewString(), code))
	if err != nil || raw == "" {
		return nil, err
	}
	return script.DecodeElements(b.attribute, raw)
}

// -- Pointer Actions --

func (b *Backend) ensureDisplayed(ctx context.Context, selector string, count int) error {
	state, err := b.evaluateString(ctx, script.IsDisplayed(selector))
	if err != nil {
		return err
	}
	switch state {
	case "visible":
		return nil
	case "none":
		return fmt.Errorf("rod: %s: %w", selector, schemas.ErrNoMatchingElements)
	default:
		return fmt.Errorf("rod: one of the %d elements is not displayed: %w", count, schemas.ErrElementNotInteractable)
	}
}

func (b *Backend) locate(ctx context.Context, selector string, index int) (*proto.Point, error) {
	return b.locateAt(ctx, selector, index, schemas.Center)
}

func (b *Backend) locateAt(ctx context.Context, selector string, index int, offset schemas.Offset) (*proto.Point, error) {
	raw, err := b.evaluateString(ctx, script.Locate(selector, index))
	if err != nil || raw == "" {
		return nil, err
	}
	r, err := script.DecodeRectangle(raw)
	if err != nil {
		return nil, err
	}
	dx, dy := offset.Resolve(r)
	return &proto.Point{X: r.X + dx, Y: r.Y + dy}, nil
}

func (b *Backend) pointer(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset, act func(m *rod.Mouse) error) error {
	if len(elements) == 0 {
		return fmt.Errorf("rod: %w", schemas.ErrNoMatchingElements)
	}
	selector := schemas.CombinedSelector(elements)
	if err := b.ensureDisplayed(ctx, selector, len(elements)); err != nil {
		return err
	}
	mouse := b.on(ctx).Mouse
	for i := 0; ; i++ {
		pt, err := b.locateAt(ctx, selector, i, offset)
		if err != nil {
			return err
		}
		if pt == nil {
			return nil
		}
		if err := mouse.MoveTo(*pt); err != nil {
			return fmt.Errorf("rod: move pointer: %w", err)
		}
		if err := act(mouse); err != nil {
			return fmt.Errorf("rod: pointer action failed: %w", err)
		}
	}
}

// ClickAt implements schemas.Backend.
func (b *Backend) ClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(ctx, elements, offset, func(m *rod.Mouse) error {
		return m.Click(proto.InputMouseButtonLeft, 1)
	})
}

// DoubleClickAt implements schemas.Backend.
func (b *Backend) DoubleClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(ctx, elements, offset, func(m *rod.Mouse) error {
		if err := m.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return err
		}
		return m.Click(proto.InputMouseButtonLeft, 2)
	})
}

// RightClickAt implements schemas.Backend.
func (b *Backend) RightClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(ctx, elements, offset, func(m *rod.Mouse) error {
		return m.Click(proto.InputMouseButtonRight, 1)
	})
}

// HoverAt implements schemas.Backend.
func (b *Backend) HoverAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(ctx, elements, offset, func(*rod.Mouse) error { return nil })
}

// DragDrop implements schemas.DragDropper.
func (b *Backend) DragDrop(ctx context.Context, from, to schemas.DomElement) error {
	if err := b.ensureDisplayed(ctx, schemas.CombinedSelector([]schemas.DomElement{from, to}), 2); err != nil {
		return err
	}
	src, err := b.locate(ctx, from.Selector, 0)
	if err != nil || src == nil {
		return fmt.Errorf("rod: drag source %s: %w", from.Selector, orNoMatch(err))
	}
	dst, err := b.locate(ctx, to.Selector, 0)
	if err != nil || dst == nil {
		return fmt.Errorf("rod: drag target %s: %w", to.Selector, orNoMatch(err))
	}

	mouse := b.on(ctx).Mouse
	if err := mouse.MoveTo(*src); err != nil {
		return err
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := mouse.MoveLinear(*dst, 5); err != nil {
		return err
	}
	return mouse.Up(proto.InputMouseButtonLeft, 1)
}

func orNoMatch(err error) error {
	if err != nil {
		return err
	}
	return schemas.ErrNoMatchingElements
}

// -- Keyboard and Files --

// EnterText implements schemas.Backend.
func (b *Backend) EnterText(ctx context.Context, elements []schemas.DomElement, text string) error {
	for _, el := range elements {
		cleared, err := b.evaluateString(ctx, script.Clear(el.Selector, 0))
		if err != nil {
			return err
		}
		if cleared != "true" {
			return fmt.Errorf("rod: %s: %w", el.Selector, schemas.ErrNoMatchingElements)
		}
		if err := b.on(ctx).InsertText(text); err != nil {
			return fmt.Errorf("rod: typing into %s failed: %w", el.Selector, err)
		}
	}
	return nil
}

// UploadFile implements schemas.FileUploader.
func (b *Backend) UploadFile(ctx context.Context, elements []schemas.DomElement, filePath string) error {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("rod: resolve upload path: %w", err)
	}
	for _, el := range elements {
		input, err := b.on(ctx).Element(el.Selector)
		if err != nil {
			return fmt.Errorf("rod: %s: %w", el.Selector, err)
		}
		if err := input.SetFiles([]string{abs}); err != nil {
			return fmt.Errorf("rod: upload to %s failed: %w", el.Selector, err)
		}
	}
	return nil
}

// -- Screenshots --

// CaptureScreenshot implements schemas.Backend.
func (b *Backend) CaptureScreenshot(ctx context.Context) (shot []byte, err error) {
	raw, err := b.evaluateString(ctx, script.ViewportDimensions)
	if err != nil {
		return nil, err
	}
	dims, err := script.DecodeDimensions(raw)
	if err != nil {
		return nil, err
	}

	page := b.on(ctx)
	original, err := page.GetWindow()
	if err != nil {
		return nil, fmt.Errorf("rod: get window bounds: %w", err)
	}
	defer func() {
		restoreCtx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()
		restore := &proto.BrowserBounds{Width: original.Width, Height: original.Height}
		if rerr := b.page.Context(restoreCtx).SetWindow(restore); rerr != nil {
			b.logger.Warn("Failed to restore window size.", zap.Error(rerr))
			if err == nil {
				err = fmt.Errorf("rod: restore window size: %w", rerr)
			}
		}
	}()

	full := dims.FullPageWindow()
	if err := page.SetWindow(&proto.BrowserBounds{
		Width:       &full.Width,
		Height:      &full.Height,
		WindowState: proto.BrowserWindowStateNormal,
	}); err != nil {
		return nil, fmt.Errorf("rod: resize window: %w", err)
	}

	shot, err = page.Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return nil, fmt.Errorf("rod: capture screenshot: %w", err)
	}
	return shot, nil
}

// Close implements schemas.Backend.
func (b *Backend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		if b.stopListen != nil {
			b.stopListen()
		}
		b.closeErr = multierr.Append(b.closeErr, b.browser.Close())
		if b.launcher != nil {
			b.launcher.Kill()
			b.launcher.Cleanup()
		}
		b.logger.Debug("Browser session closed.")
	})
	return b.closeErr
}
