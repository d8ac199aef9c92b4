// internal/browser/cdp/interaction.go
package cdp

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/script"
)

// -- Script Execution --

// evaluate runs a function body in the page and returns the by-value JSON result.
func (b *Backend) evaluate(ctx context.Context, body string) ([]byte, error) {
	if b.evaluateFunc != nil {
		return b.evaluateFunc(ctx, body)
	}
	var raw []byte
	err := b.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exc, err := runtime.Evaluate(script.Isolated(body)).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script threw: %s", exceptionText(exc))
		}
		if obj != nil {
			raw = []byte(obj.Value)
		}
		return nil
	}))
	return raw, err
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

// EvaluateScript implements schemas.Backend.
func (b *Backend) EvaluateScript(ctx context.Context, code string) (*string, error) {
	raw, err := b.evaluate(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("chromedp: evaluate script: %w", err)
	}
	return script.FromJSON(raw)
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
	raw, err := b.evaluateString(ctx, script.ResolveElements(b.attribute, b.newPrefix(), code))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	return script.DecodeElements(b.attribute, raw)
}

// -- Pointer Actions --

type pointerAction func(x, y float64) []chromedp.Action

func click(button input.MouseButton, count int) pointerAction {
	return func(x, y float64) []chromedp.Action {
		actions := []chromedp.Action{chromedp.MouseEvent(input.MouseMoved, x, y)}
		for i := 1; i <= count; i++ {
			actions = append(actions,
				chromedp.MouseEvent(input.MousePressed, x, y, chromedp.ButtonType(button), chromedp.ClickCount(i)),
				chromedp.MouseEvent(input.MouseReleased, x, y, chromedp.ButtonType(button), chromedp.ClickCount(i)),
			)
		}
		return actions
	}
}

func hover(x, y float64) []chromedp.Action {
	return []chromedp.Action{chromedp.MouseEvent(input.MouseMoved, x, y)}
}

// ensureDisplayed re-locates elements with one combined query and fails
// unless every match is displayed.
func (b *Backend) ensureDisplayed(ctx context.Context, selector string, count int) error {
	state, err := b.evaluateString(ctx, script.IsDisplayed(selector))
	if err != nil {
		return err
	}
	switch state {
	case "visible":
		return nil
	case "none":
		return fmt.Errorf("chromedp: %s: %w", selector, schemas.ErrNoMatchingElements)
	default:
		return fmt.Errorf("chromedp: one of the %d elements is not displayed: %w", count, schemas.ErrElementNotInteractable)
	}
}

// locate scrolls the index-th match of selector into view and returns its
// current rectangle; ok is false past the last match.
func (b *Backend) locate(ctx context.Context, selector string, index int) (schemas.DomRectangle, bool, error) {
	raw, err := b.evaluateString(ctx, script.Locate(selector, index))
	if err != nil || raw == "" {
		return schemas.DomRectangle{}, false, err
	}
	r, err := script.DecodeRectangle(raw)
	return r, err == nil, err
}

func (b *Backend) pointer(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset, act pointerAction) error {
	if len(elements) == 0 {
		return fmt.Errorf("chromedp: %w", schemas.ErrNoMatchingElements)
	}
	selector := schemas.CombinedSelector(elements)
	if err := b.ensureDisplayed(ctx, selector, len(elements)); err != nil {
		return err
	}
	for i := 0; ; i++ {
		rect, ok, err := b.locate(ctx, selector, i)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		dx, dy := offset.Resolve(rect)
		if err := b.runActions(ctx, act(rect.X+dx, rect.Y+dy)...); err != nil {
			return fmt.Errorf("chromedp: pointer action failed: %w", err)
		}
	}
}

// ClickAt implements schemas.Backend.
func (b *Backend) ClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(ctx, elements, offset, click(input.Left, 1))
}

// DoubleClickAt implements schemas.Backend.
func (b *Backend) DoubleClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(ctx, elements, offset, click(input.Left, 2))
}

// RightClickAt implements schemas.Backend.
func (b *Backend) RightClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(ctx, elements, offset, click(input.Right, 1))
}

// HoverAt implements schemas.Backend.
func (b *Backend) HoverAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	return b.pointer(ctx, elements, offset, hover)
}

// DragDrop implements schemas.DragDropper.
func (b *Backend) DragDrop(ctx context.Context, from, to schemas.DomElement) error {
	if err := b.ensureDisplayed(ctx, schemas.CombinedSelector([]schemas.DomElement{from, to}), 2); err != nil {
		return err
	}
	src, ok, err := b.locate(ctx, from.Selector, 0)
	if err != nil || !ok {
		return fmt.Errorf("chromedp: drag source %s: %w", from.Selector, orNoMatch(err))
	}
	dst, ok, err := b.locate(ctx, to.Selector, 0)
	if err != nil || !ok {
		return fmt.Errorf("chromedp: drag target %s: %w", to.Selector, orNoMatch(err))
	}
	sx, sy := schemas.Center.Resolve(src)
	tx, ty := schemas.Center.Resolve(dst)
	sx, sy, tx, ty = src.X+sx, src.Y+sy, dst.X+tx, dst.Y+ty

	return b.runActions(ctx,
		chromedp.MouseEvent(input.MouseMoved, sx, sy),
		chromedp.MouseEvent(input.MousePressed, sx, sy, chromedp.ButtonType(input.Left), chromedp.ClickCount(1)),
		chromedp.MouseEvent(input.MouseMoved, (sx+tx)/2, (sy+ty)/2, chromedp.ButtonType(input.Left)),
		chromedp.MouseEvent(input.MouseMoved, tx, ty, chromedp.ButtonType(input.Left)),
		chromedp.MouseEvent(input.MouseReleased, tx, ty, chromedp.ButtonType(input.Left), chromedp.ClickCount(1)),
	)
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
			return fmt.Errorf("chromedp: %s: %w", el.Selector, schemas.ErrNoMatchingElements)
		}
		if err := b.runActions(ctx, chromedp.KeyEvent(text)); err != nil {
			return fmt.Errorf("chromedp: typing into %s failed: %w", el.Selector, err)
		}
	}
	return nil
}

// UploadFile implements schemas.FileUploader.
func (b *Backend) UploadFile(ctx context.Context, elements []schemas.DomElement, filePath string) error {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("chromedp: resolve upload path: %w", err)
	}
	for _, el := range elements {
		if err := b.runActions(ctx, chromedp.SetUploadFiles(el.Selector, []string{abs}, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("chromedp: upload to %s failed: %w", el.Selector, err)
		}
	}
	return nil
}

// -- Screenshots --

// CaptureScreenshot implements schemas.Backend. The window is grown so the
// viewport covers the whole document and put back afterwards.
func (b *Backend) CaptureScreenshot(ctx context.Context) (shot []byte, err error) {
	raw, err := b.evaluateString(ctx, script.ViewportDimensions)
	if err != nil {
		return nil, err
	}
	dims, err := script.DecodeDimensions(raw)
	if err != nil {
		return nil, err
	}

	var windowID browser.WindowID
	var original *browser.Bounds
	if err := b.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		windowID, original, err = browser.GetWindowForTarget().Do(ctx)
		return err
	})); err != nil {
		return nil, fmt.Errorf("chromedp: get window bounds: %w", err)
	}

	defer func() {
		if original == nil {
			return
		}
		restoreCtx, cancel := context.WithTimeout(detached{ctx}, restoreTimeout)
		defer cancel()
		restore := browser.SetWindowBounds(windowID, &browser.Bounds{Width: original.Width, Height: original.Height})
		if rerr := b.runActions(restoreCtx, restore); rerr != nil {
			b.logger.Warn("Failed to restore window size.", zap.Error(rerr))
			if err == nil {
				err = fmt.Errorf("chromedp: restore window size: %w", rerr)
			}
		}
	}()

	full := dims.FullPageWindow()
	resize := browser.SetWindowBounds(windowID, &browser.Bounds{
		Width:       int64(full.Width),
		Height:      int64(full.Height),
		WindowState: browser.WindowStateNormal,
	})
	err = b.runActions(ctx, resize, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		shot, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("chromedp: capture screenshot: %w", err)
	}
	return shot, nil
}
