// File: internal/chain/execute.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/script"
	"github.com/xkilldash9x/fluentweb/internal/browser/selector"
	"github.com/xkilldash9x/fluentweb/internal/screenshot"
)

// step is one node executing on one backend.
type step struct {
	c       *Context
	node    *Node
	backend schemas.Backend
	index   int
}

func (s *step) keep(elements []schemas.DomElement) {
	s.node.elements[s.index] = elements
}

// resolve turns a target into elements on this step's backend. Selector and
// point targets are resolved afresh on every call.
func (s *step) resolve(ctx context.Context, t Target) ([]schemas.DomElement, error) {
	switch t.kind {
	case targetSelector:
		elements, err := s.backend.ResolveElements(ctx, selector.Body(s.c.strategy, t.selector))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", t, err)
		}
		return elements, nil
	case targetPoint:
		elements, err := s.backend.ResolveElements(ctx, script.ElementFromPoint(t.x, t.y))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", t, err)
		}
		return elements, nil
	case targetElements:
		return t.elements, nil
	}
	return s.c.inherited(s.node, s.index), nil
}

// require is resolve for operations that need at least one element.
func (s *step) require(ctx context.Context, t Target) ([]schemas.DomElement, error) {
	elements, err := s.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: %s", schemas.ErrNoMatchingElements, t)
	}
	return elements, nil
}

func (s *step) execute(ctx context.Context) error {
	p := &s.node.payload
	switch s.node.Kind {
	case KindOpen:
		s.keep(nil)
		return s.backend.Open(ctx, p.uri)
	case KindFind:
		elements, err := s.require(ctx, p.target)
		if err != nil {
			return err
		}
		s.keep(elements)
		return nil
	case KindClick, KindDoubleClick, KindRightClick, KindHover:
		return s.pointer(ctx)
	case KindDrag:
		return s.drag(ctx)
	case KindFocus:
		return s.focus(ctx)
	case KindSelect:
		return s.selectOption(ctx)
	case KindEnter:
		elements, err := s.require(ctx, p.target)
		if err != nil {
			return err
		}
		s.keep(elements)
		return s.backend.EnterText(ctx, elements, p.text)
	case KindUpload:
		return s.upload(ctx)
	case KindWait:
		return sleep(ctx, p.duration)
	case KindWaitFor:
		timeout := p.timeout
		if timeout <= 0 {
			timeout = s.c.cfg.WaitTimeout
		}
		return poll(ctx, s.c.cfg.PollInterval, timeout, p.until)
	case KindWaitExpect:
		return s.waitExpected(ctx)
	case KindExpect:
		return s.expect(ctx, p.expect)
	case KindScreenshot:
		return s.capture(ctx)
	case KindSave:
		return s.save()
	}
	return fmt.Errorf("%w: node kind %s", schemas.ErrNotImplemented, s.node.Kind)
}

func (s *step) pointer(ctx context.Context) error {
	p := &s.node.payload
	elements, err := s.require(ctx, p.target)
	if err != nil {
		return err
	}
	s.keep(elements)

	offset := p.offset
	if p.target.kind == targetPoint && offset.IsCentered() {
		r := elements[0].BoundingRectangle
		offset = schemas.At(p.target.x-int(r.X), p.target.y-int(r.Y))
	}

	switch s.node.Kind {
	case KindClick:
		return s.backend.ClickAt(ctx, elements, offset)
	case KindDoubleClick:
		return s.backend.DoubleClickAt(ctx, elements, offset)
	case KindRightClick:
		return s.backend.RightClickAt(ctx, elements, offset)
	default:
		// A pointer can only rest on one element.
		return s.backend.HoverAt(ctx, elements[:1], offset)
	}
}

func (s *step) drag(ctx context.Context) error {
	dd, ok := s.backend.(schemas.DragDropper)
	if !ok {
		return fmt.Errorf("%w: drag and drop on %s", schemas.ErrNotImplemented, s.backend.Name())
	}
	from, err := s.require(ctx, s.node.payload.target)
	if err != nil {
		return err
	}
	to, err := s.require(ctx, s.node.payload.dest)
	if err != nil {
		return err
	}
	s.keep(to[:1])
	return dd.DragDrop(ctx, from[0], to[0])
}

func (s *step) focus(ctx context.Context) error {
	elements, err := s.require(ctx, s.node.payload.target)
	if err != nil {
		return err
	}
	s.keep(elements)
	res, err := s.backend.EvaluateScript(ctx, script.Focus(schemas.CombinedSelector(elements)))
	if err != nil {
		return fmt.Errorf("failed to focus %s: %w", s.node.payload.target, err)
	}
	if count(res) == 0 {
		return fmt.Errorf("%w: %s", schemas.ErrNoMatchingElements, s.node.payload.target)
	}
	return nil
}

func (s *step) selectOption(ctx context.Context) error {
	p := &s.node.payload
	elements, err := s.require(ctx, p.target)
	if err != nil {
		return err
	}
	s.keep(elements)

	combined := schemas.CombinedSelector(elements)
	body, want := script.SelectByValue(combined, p.value), strconv.Quote(p.value)
	if p.byIndex {
		body, want = script.SelectByIndex(combined, p.index), "index "+strconv.Itoa(p.index)
	}
	res, err := s.backend.EvaluateScript(ctx, body)
	if err != nil {
		return fmt.Errorf("failed to select %s in %s: %w", want, p.target, err)
	}
	if count(res) == 0 {
		return fmt.Errorf("%w: no option %s in %s", schemas.ErrNoMatchingElements, want, p.target)
	}
	return nil
}

func (s *step) upload(ctx context.Context) error {
	up, ok := s.backend.(schemas.FileUploader)
	if !ok {
		return fmt.Errorf("%w: file upload on %s", schemas.ErrNotImplemented, s.backend.Name())
	}
	elements, err := s.require(ctx, s.node.payload.target)
	if err != nil {
		return err
	}
	s.keep(elements)
	return up.UploadFile(ctx, elements, s.node.payload.path)
}

func (s *step) expect(ctx context.Context, e *expectation) error {
	var elements []schemas.DomElement
	if e.needsTarget {
		var err error
		if elements, err = s.resolve(ctx, e.target); err != nil {
			return err
		}
		s.keep(elements)
	}
	actual, ok, err := e.check(ctx, s.backend, elements)
	if err != nil {
		return fmt.Errorf("failed to check that %s: %w", e.description, err)
	}
	if !ok {
		return &schemas.ExpectationError{Description: e.description, Actual: actual}
	}
	return nil
}

// waitExpected polls until every collected expectation holds. On timeout the
// error wraps the last unmet expectation.
func (s *step) waitExpected(ctx context.Context) error {
	p := &s.node.payload
	timeout := p.timeout
	if timeout <= 0 {
		timeout = s.c.cfg.WaitTimeout
	}

	var unmet error
	err := poll(ctx, s.c.cfg.PollInterval, timeout, func(ctx context.Context) (bool, error) {
		for _, e := range p.expects {
			err := s.expect(ctx, e)
			var expErr *schemas.ExpectationError
			if errors.As(err, &expErr) {
				unmet = err
				return false, nil
			}
			if err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if errors.Is(err, schemas.ErrTimeoutExceeded) && unmet != nil {
		return fmt.Errorf("%w: still unmet after %s: %w", schemas.ErrTimeoutExceeded, timeout, unmet)
	}
	return err
}

func (s *step) capture(ctx context.Context) error {
	p := &s.node.payload
	var elements []schemas.DomElement
	if p.scoped {
		var err error
		if elements, err = s.require(ctx, p.target); err != nil {
			return err
		}
		s.keep(elements)
	}

	raw, err := s.backend.CaptureScreenshot(ctx)
	if err != nil {
		return err
	}
	img, err := screenshot.Decode(raw)
	if err != nil {
		return err
	}
	if p.scoped {
		if img, err = screenshot.Crop(img, elements[0].DocumentRectangle()); err != nil {
			return err
		}
	}
	s.c.setImage(s.node, s.index, img)
	return nil
}

func (s *step) save() error {
	images := s.c.images(s.node.parent)
	if s.index >= len(images) || images[s.index] == nil {
		return fmt.Errorf("%w: no screenshot to save", schemas.ErrInvalidState)
	}
	path := s.node.payload.path
	if len(s.c.backends) > 1 {
		path = perBackendPath(path, s.backend.Name())
	}
	return screenshot.Save(images[s.index], path)
}

// perBackendPath inserts the backend name before the extension:
// shot.png becomes shot.rod.png.
func perBackendPath(path, backend string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + backend + ext
}

// count parses a numeric script result, treating null as zero.
func count(res *string) int {
	if res == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(*res))
	if err != nil {
		return 0
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// poll evaluates fn immediately and then every interval until it returns
// true, fails, or timeout elapses.
func poll(ctx context.Context, interval, timeout time.Duration, fn Predicate) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := fn(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: condition still false after %s", schemas.ErrTimeoutExceeded, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
