// File: internal/chain/fluent.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"time"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/script"
)

// Chain is a position in a method chain. Every verb enqueues one node after
// this position and returns the position that follows it. Nothing runs until
// the owning context is run.
type Chain struct {
	ctx  *Context
	last int

	// collect is set inside WaitUntilExpected, where only assertions are allowed.
	collect *[]*expectation
}

// Context returns the context the chain belongs to.
func (c *Chain) Context() *Context { return c.ctx }

// Err returns the build error of the chain, or its run error once it has run.
func (c *Chain) Err() error { return c.ctx.Err() }

func (c *Chain) then(kind Kind, p payload) *Chain {
	if c.collect != nil {
		c.ctx.Fail(fmt.Errorf("%s inside a wait expectation: only assertions are allowed", kind))
		return c
	}
	idx := c.ctx.append(&Node{Kind: kind, parent: c.last, payload: p})
	return &Chain{ctx: c.ctx, last: idx}
}

// -- Navigation and lookup --

// Open navigates to uri and waits until the browser reports exactly uri.
func (c *Chain) Open(uri string) *Chain {
	return c.then(KindOpen, payload{uri: uri})
}

// Find resolves sel. The found elements are the target of verbs called on the result.
func (c *Chain) Find(sel string) *Found {
	return &Found{Chain: c.then(KindFind, payload{target: Selector(sel)})}
}

// -- Pointer --

// Click clicks every element of t at its center.
func (c *Chain) Click(t Target) *Action {
	return c.action(KindClick, t)
}

// DoubleClick double-clicks every element of t at its center.
func (c *Chain) DoubleClick(t Target) *Action {
	return c.action(KindDoubleClick, t)
}

// RightClick right-clicks every element of t at its center.
func (c *Chain) RightClick(t Target) *Action {
	return c.action(KindRightClick, t)
}

// Hover moves the pointer over the first element of t.
func (c *Chain) Hover(t Target) *Action {
	return c.action(KindHover, t)
}

func (c *Chain) action(kind Kind, t Target) *Action {
	return &Action{Chain: c.then(kind, payload{target: t, offset: schemas.Center})}
}

// Drag starts a drag-and-drop of the first element of from.
func (c *Chain) Drag(from Target) *Dragging {
	return &Dragging{chain: c, from: from}
}

// -- Form input --

// Focus focuses every element of t.
func (c *Chain) Focus(t Target) *Chain {
	return c.then(KindFocus, payload{target: t})
}

// Select picks the option whose value, or failing that visible text, is value.
func (c *Chain) Select(value string) *Selecting {
	return &Selecting{chain: c, p: payload{value: value}}
}

// SelectIndex picks the option at index.
func (c *Chain) SelectIndex(index int) *Selecting {
	return &Selecting{chain: c, p: payload{index: index, byIndex: true}}
}

// Enter types text into elements chosen with In, clearing them first.
func (c *Chain) Enter(text string) *Entering {
	return &Entering{chain: c, text: text}
}

// Upload sets the file of every file input in t to path.
func (c *Chain) Upload(t Target, path string) *Chain {
	return c.then(KindUpload, payload{target: t, path: path})
}

// -- Waiting --

// Wait pauses this chain for d. Other chains keep running.
func (c *Chain) Wait(d time.Duration) *Chain {
	return c.then(KindWait, payload{duration: d})
}

// WaitUntil polls fn until it returns true or the configured wait timeout elapses.
func (c *Chain) WaitUntil(fn func() bool) *Chain {
	return c.WaitUntilWithin(fn, 0)
}

// WaitUntilWithin is WaitUntil with its own timeout.
func (c *Chain) WaitUntilWithin(fn func() bool, timeout time.Duration) *Chain {
	if fn == nil {
		return c.WaitForWithin(nil, timeout)
	}
	return c.WaitForWithin(func(context.Context) (bool, error) { return fn(), nil }, timeout)
}

// WaitFor polls fn until it returns true, fails, or the configured wait timeout elapses.
func (c *Chain) WaitFor(fn Predicate) *Chain {
	return c.WaitForWithin(fn, 0)
}

// WaitForWithin is WaitFor with its own timeout.
func (c *Chain) WaitForWithin(fn Predicate, timeout time.Duration) *Chain {
	if fn == nil {
		c.ctx.Fail(errors.New("wait predicate is nil"))
	}
	return c.then(KindWaitFor, payload{until: fn, timeout: timeout})
}

// WaitUntilExpected polls the assertions fn states on its Expectation until
// all of them hold or the configured wait timeout elapses. fn may chain
// further Expect calls but no other verbs; the chain it returns is ignored.
func (c *Chain) WaitUntilExpected(fn func(*Expectation) *Chain) *Chain {
	return c.WaitUntilExpectedWithin(fn, 0)
}

// WaitUntilExpectedWithin is WaitUntilExpected with its own timeout.
func (c *Chain) WaitUntilExpectedWithin(fn func(*Expectation) *Chain, timeout time.Duration) *Chain {
	var expects []*expectation
	if fn == nil {
		c.ctx.Fail(errors.New("wait expectation is nil"))
	} else {
		fn(&Expectation{chain: &Chain{ctx: c.ctx, last: c.last, collect: &expects}})
		if len(expects) == 0 {
			c.ctx.Fail(errors.New("wait expectation states no assertion"))
		}
	}
	return c.then(KindWaitExpect, payload{expects: expects, timeout: timeout})
}

// -- Assertions and capture --

// Expect starts an assertion on the page or on resolved elements.
func (c *Chain) Expect() *Expectation {
	return &Expectation{chain: c}
}

// TakeScreenshot captures the full document, or only the first element of
// target when one is given.
func (c *Chain) TakeScreenshot(target ...Target) *Screenshot {
	p := payload{}
	switch len(target) {
	case 0:
	case 1:
		p.target, p.scoped = target[0], true
	default:
		c.ctx.Fail(fmt.Errorf("screenshot takes at most one target, got %d", len(target)))
	}
	return &Screenshot{Chain: c.then(KindScreenshot, p)}
}

// -- Continuations --

// Found is the position after Find. Its pointer verbs act on the found elements.
type Found struct {
	*Chain
}

// Click clicks the found elements.
func (f *Found) Click() *Action { return f.Chain.Click(Previous) }

// DoubleClick double-clicks the found elements.
func (f *Found) DoubleClick() *Action { return f.Chain.DoubleClick(Previous) }

// RightClick right-clicks the found elements.
func (f *Found) RightClick() *Action { return f.Chain.RightClick(Previous) }

// Hover hovers the first found element.
func (f *Found) Hover() *Action { return f.Chain.Hover(Previous) }

// Focus focuses the found elements.
func (f *Found) Focus() *Chain { return f.Chain.Focus(Previous) }

// TakeScreenshot captures the first found element.
func (f *Found) TakeScreenshot() *Screenshot { return f.Chain.TakeScreenshot(Previous) }

// Action is the position after a pointer verb.
type Action struct {
	*Chain
}

// At moves the action's pointer position to (x, y) from the element's
// top-left corner. The queued node is replaced by a reconfigured clone; the
// receiver and anything chained from it follow the clone.
func (a *Action) At(x, y int) *Action {
	a.last = a.ctx.replace(a.last, func(n *Node) { n.payload.offset = schemas.At(x, y) })
	return a
}

// Dragging waits for the drop target.
type Dragging struct {
	chain *Chain
	from  Target
}

// To drops onto the first element of t.
func (d *Dragging) To(t Target) *Chain {
	return d.chain.then(KindDrag, payload{target: d.from, dest: t})
}

// Selecting waits for the <select> elements.
type Selecting struct {
	chain *Chain
	p     payload
}

// From applies the selection to every <select> in t.
func (s *Selecting) From(t Target) *Chain {
	p := s.p
	p.target = t
	return s.chain.then(KindSelect, p)
}

// Entering waits for the elements to type into.
type Entering struct {
	chain *Chain
	text  string
}

// In types into every element of t in order.
func (e *Entering) In(t Target) *Chain {
	return e.chain.then(KindEnter, payload{target: t, text: e.text})
}

// Screenshot is the position after TakeScreenshot.
type Screenshot struct {
	*Chain
}

// SaveAs writes the capture to path in the format named by its extension.
// With several backends the backend name is inserted before the extension.
func (s *Screenshot) SaveAs(path string) *Chain {
	return s.then(KindSave, payload{path: path})
}

// Image returns the capture from the first backend once the chain has run.
func (s *Screenshot) Image() image.Image {
	images := s.Images()
	if len(images) == 0 {
		return nil
	}
	return images[0]
}

// Images returns one capture per backend once the chain has run.
func (s *Screenshot) Images() []image.Image {
	return s.ctx.images(s.last)
}

// -- Expectations --

// Expectation builds one Expect node, or collects assertions for a wait.
type Expectation struct {
	chain *Chain
}

func (e *Expectation) add(ex *expectation) *Chain {
	if e.chain.collect != nil {
		*e.chain.collect = append(*e.chain.collect, ex)
		return e.chain
	}
	return e.chain.then(KindExpect, payload{expect: ex})
}

// URL expects the current document URL to equal uri.
func (e *Expectation) URL(uri string) *Chain {
	return e.add(&expectation{
		description: "url " + strconv.Quote(uri),
		check: func(ctx context.Context, b schemas.Backend, _ []schemas.DomElement) (string, bool, error) {
			res, err := b.EvaluateScript(ctx, script.Location)
			if err != nil {
				return "", false, err
			}
			actual := ""
			if res != nil {
				actual = *res
			}
			return strconv.Quote(actual), actual == uri, nil
		},
	})
}

// Exists expects t to resolve to at least one element.
func (e *Expectation) Exists(t Target) *Chain {
	return e.add(&expectation{
		description: t.String() + " to exist",
		target:      t,
		needsTarget: true,
		check: func(_ context.Context, _ schemas.Backend, elements []schemas.DomElement) (string, bool, error) {
			return "no elements", len(elements) > 0, nil
		},
	})
}

// Count expects t to resolve to exactly n elements.
func (e *Expectation) Count(t Target, n int) *Chain {
	return e.add(&expectation{
		description: fmt.Sprintf("%d elements matching %s", n, t),
		target:      t,
		needsTarget: true,
		check: func(_ context.Context, _ schemas.Backend, elements []schemas.DomElement) (string, bool, error) {
			return strconv.Itoa(len(elements)), len(elements) == n, nil
		},
	})
}

// Attribute expects every element of t to carry name=value.
func (e *Expectation) Attribute(t Target, name, value string) *Chain {
	return e.add(&expectation{
		description: fmt.Sprintf("%s to have %s=%q", t, name, value),
		target:      t,
		needsTarget: true,
		check: func(_ context.Context, _ schemas.Backend, elements []schemas.DomElement) (string, bool, error) {
			if len(elements) == 0 {
				return "no elements", false, nil
			}
			for _, el := range elements {
				got, ok := el.Attribute(name)
				if !ok {
					return fmt.Sprintf("%s without %s", el.Selector, name), false, nil
				}
				if got != value {
					return fmt.Sprintf("%s=%q", name, got), false, nil
				}
			}
			return "", true, nil
		},
	})
}

// Text expects the trimmed text of every element of t to equal text.
func (e *Expectation) Text(t Target, text string) *Chain {
	return e.add(&expectation{
		description: fmt.Sprintf("%s to have text %q", t, text),
		target:      t,
		needsTarget: true,
		check: func(ctx context.Context, b schemas.Backend, elements []schemas.DomElement) (string, bool, error) {
			if len(elements) == 0 {
				return "no elements", false, nil
			}
			for _, el := range elements {
				res, err := b.EvaluateScript(ctx, script.TextContent(el.Selector))
				if err != nil {
					return "", false, err
				}
				if res == nil {
					return el.Selector + " detached", false, nil
				}
				if *res != text {
					return strconv.Quote(*res), false, nil
				}
			}
			return "", true, nil
		},
	})
}

// That expects a custom check over the previous node's elements to hold.
func (e *Expectation) That(description string, check Check) *Chain {
	if check == nil {
		e.chain.ctx.Fail(errors.New("expectation check is nil"))
	}
	return e.add(&expectation{description: description, needsTarget: true, check: check})
}
