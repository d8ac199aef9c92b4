// internal/browser/selenium/backend.go
//
// Package selenium drives any WebDriver endpoint through tebeka/selenium.
package selenium

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/navsync"
	"github.com/xkilldash9x/fluentweb/internal/browser/script"
	"github.com/xkilldash9x/fluentweb/internal/config"
)

// Name is the backend name reported in logs and node errors.
const Name = "selenium"

// Backend is a schemas.Backend over one WebDriver session. The WebDriver
// client is synchronous; blocking calls are not interruptible by ctx.
type Backend struct {
	wd     selenium.WebDriver
	logger *zap.Logger

	attribute string
	nav       *navsync.Navigator

	closeOnce sync.Once
	closeErr  error
}

var (
	_ schemas.Backend      = (*Backend)(nil)
	_ schemas.DragDropper  = (*Backend)(nil)
	_ schemas.FileUploader = (*Backend)(nil)
)

// capabilities builds a Chrome session request from the browser section.
// The legacy protocol is requested so element-relative pointer moves work.
func capabilities(cfg config.BrowserConfig) selenium.Capabilities {
	caps := selenium.Capabilities{"browserName": "chrome"}
	args := []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		fmt.Sprintf("--window-size=%d,%d", cfg.WindowWidth, cfg.WindowHeight),
	}
	if cfg.Headless {
		args = append(args, "--headless")
	}
	for _, arg := range cfg.Args {
		args = append(args, "--"+strings.TrimLeft(arg, "-"))
	}
	caps.AddChrome(chrome.Capabilities{Args: args, Path: cfg.ExecPath, W3C: false})
	return caps
}

// New starts a WebDriver session at cfg.SeleniumURL.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wd, err := selenium.NewRemote(capabilities(cfg), cfg.SeleniumURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdriver session at %s: %w", cfg.SeleniumURL, err)
	}
	b := Wrap(wd, cfg, logger)
	b.logger.Info("WebDriver session started.", zap.String("url", cfg.SeleniumURL), zap.String("attribute", b.attribute))
	return b, nil
}

// Wrap adapts an existing WebDriver session.
func Wrap(wd selenium.WebDriver, cfg config.BrowserConfig, logger *zap.Logger) *Backend {
	log := logger.Named(Name)
	return &Backend{
		wd:        wd,
		logger:    log,
		attribute: script.NewUniqueAttribute(),
		nav:       navsync.New(cfg.NavigationTimeout, log),
	}
}

// Name implements schemas.Backend.
func (b *Backend) Name() string { return Name }

// Open implements schemas.Backend. WebDriver has no navigation events; the
// current URL is published once Get returns.
func (b *Backend) Open(ctx context.Context, uri string) error {
	return b.nav.Open(ctx, uri, func(ctx context.Context) error {
		if err := b.wd.Get(uri); err != nil {
			return err
		}
		current, err := b.wd.CurrentURL()
		if err != nil {
			return err
		}
		b.nav.Publish(current)
		return nil
	})
}

// unsupported maps driver "unknown command" replies onto ErrUnsupportedCapability.
func unsupported(err error, what string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unknown command") || strings.Contains(msg, "unsupported operation") {
		return fmt.Errorf("selenium: %s: %w", what, schemas.ErrUnsupportedCapability)
	}
	return fmt.Errorf("selenium: %s: %w", what, err)
}

// EvaluateScript implements schemas.Backend.
func (b *Backend) EvaluateScript(ctx context.Context, code string) (*string, error) {
	res, err := b.wd.ExecuteScript(code, nil)
	if err != nil {
		return nil, unsupported(err, "execute script")
	}
	return script.FromValue(res)
}

// ResolveElements implements schemas.Backend.
func (b *Backend) ResolveElements(ctx context.Context, code string) ([]schemas.DomElement, error) {
	res, err := b.EvaluateScript(ctx, script.ResolveElements(b.attribute, uuid.NewString(), code))
	if err != nil || res == nil {
		return nil, err
	}
	return script.DecodeElements(b.attribute, *res)
}

// native re-locates elements with one combined CSS query.
func (b *Backend) native(elements []schemas.DomElement) ([]selenium.WebElement, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("selenium: %w", schemas.ErrNoMatchingElements)
	}
	selector := schemas.CombinedSelector(elements)
	found, err := b.wd.FindElements(selenium.ByCSSSelector, selector)
	if err != nil {
		return nil, fmt.Errorf("selenium: find %s: %w", selector, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("selenium: %s: %w", selector, schemas.ErrNoMatchingElements)
	}
	return found, nil
}

// -- Pointer Actions --

func (b *Backend) moveTo(el selenium.WebElement, offset schemas.Offset) error {
	x, y := offset.X, offset.Y
	if offset.IsCentered() {
		size, err := el.Size()
		if err != nil {
			return err
		}
		x, y = size.Width/2, size.Height/2
	}
	return el.MoveTo(x, y)
}

func (b *Backend) pointer(elements []schemas.DomElement, offset schemas.Offset, act func() error) error {
	found, err := b.native(elements)
	if err != nil {
		return err
	}
	for _, el := range found {
		displayed, err := el.IsDisplayed()
		if err != nil {
			return fmt.Errorf("selenium: visibility check: %w", err)
		}
		if !displayed {
			return fmt.Errorf("selenium: one of the %d elements is not displayed: %w", len(elements), schemas.ErrElementNotInteractable)
		}
	}
	for _, el := range found {
		if err := b.moveTo(el, offset); err != nil {
			return fmt.Errorf("selenium: move pointer: %w", err)
		}
		if err := act(); err != nil {
			return fmt.Errorf("selenium: pointer action failed: %w", err)
		}
	}
	return nil
}

// ClickAt implements schemas.Backend.
func (b *Backend) ClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(elements, offset, func() error { return b.wd.Click(selenium.LeftButton) })
}

// DoubleClickAt implements schemas.Backend.
func (b *Backend) DoubleClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(elements, offset, b.wd.DoubleClick)
}

// RightClickAt implements schemas.Backend.
func (b *Backend) RightClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(elements, offset, func() error { return b.wd.Click(selenium.RightButton) })
}

// HoverAt implements schemas.Backend.
func (b *Backend) HoverAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(elements, offset, func() error { return nil })
}

// DragDrop implements schemas.DragDropper.
func (b *Backend) DragDrop(ctx context.Context, from, to schemas.DomElement) error {
	src, err := b.native([]schemas.DomElement{from})
	if err != nil {
		return err
	}
	dst, err := b.native([]schemas.DomElement{to})
	if err != nil {
		return err
	}
	if err := b.moveTo(src[0], schemas.Center); err != nil {
		return err
	}
	if err := b.wd.ButtonDown(); err != nil {
		return err
	}
	if err := b.moveTo(dst[0], schemas.Center); err != nil {
		return err
	}
	return b.wd.ButtonUp()
}

// -- Keyboard and Files --

// EnterText implements schemas.Backend.
func (b *Backend) EnterText(ctx context.Context, elements []schemas.DomElement, text string) error {
	for _, el := range elements {
		found, err := b.native([]schemas.DomElement{el})
		if err != nil {
			return err
		}
		if err := found[0].Clear(); err != nil {
			return fmt.Errorf("selenium: clear %s: %w", el.Selector, err)
		}
		if err := found[0].SendKeys(text); err != nil {
			return fmt.Errorf("selenium: typing into %s failed: %w", el.Selector, err)
		}
	}
	return nil
}

// UploadFile implements schemas.FileUploader.
func (b *Backend) UploadFile(ctx context.Context, elements []schemas.DomElement, filePath string) error {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("selenium: resolve upload path: %w", err)
	}
	found, err := b.native(elements)
	if err != nil {
		return err
	}
	for _, el := range found {
		if err := el.SendKeys(abs); err != nil {
			return fmt.Errorf("selenium: upload failed: %w", err)
		}
	}
	return nil
}

// -- Screenshots --

// CaptureScreenshot implements schemas.Backend.
func (b *Backend) CaptureScreenshot(ctx context.Context) (shot []byte, err error) {
	raw, err := b.EvaluateScript(ctx, script.ViewportDimensions)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("selenium: viewport dimensions unavailable")
	}
	dims, err := script.DecodeDimensions(*raw)
	if err != nil {
		return nil, err
	}
	handle, err := b.wd.CurrentWindowHandle()
	if err != nil {
		return nil, fmt.Errorf("selenium: window handle: %w", err)
	}

	defer func() {
		if rerr := b.wd.ResizeWindow(handle, dims.Outer.Width, dims.Outer.Height); rerr != nil {
			b.logger.Warn("Failed to restore window size.", zap.Error(rerr))
			if err == nil {
				err = fmt.Errorf("selenium: restore window size: %w", rerr)
			}
		}
	}()

	full := dims.FullPageWindow()
	if err := b.wd.ResizeWindow(handle, full.Width, full.Height); err != nil {
		return nil, fmt.Errorf("selenium: resize window: %w", err)
	}
	shot, err = b.wd.Screenshot()
	if err != nil {
		return nil, unsupported(err, "screenshot")
	}
	return shot, nil
}

// Close implements schemas.Backend.
func (b *Backend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		if err := b.wd.Quit(); err != nil {
			b.closeErr = fmt.Errorf("selenium: quit session: %w", err)
		}
		b.logger.Debug("WebDriver session closed.")
	})
	return b.closeErr
}
