// File: internal/browser/selector/selector.go
//
// Package selector provides the DOM selector strategies that turn a selector
// string into a page-side expression yielding an element array.
package selector

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/script"
	"github.com/xkilldash9x/fluentweb/internal/config"
)

// Body builds the function body the chain hands to Backend.ResolveElements.
func Body(strategy schemas.DomSelectorStrategy, sel string) string {
	return strategy.LibraryScript() + ";\nreturn " + strategy.ScriptForSelector(sel) + ";"
}

// -- CSS --

// CSS resolves selectors with document.querySelectorAll.
type CSS struct{}

var _ schemas.DomSelectorStrategy = CSS{}

func (CSS) Initialize(context.Context) error { return nil }
func (CSS) LibraryScript() string            { return "" }

func (CSS) ScriptForSelector(sel string) string {
	return "Array.prototype.slice.call(document.querySelectorAll(" + script.Encode(sel) + "))"
}

// -- XPath --

// XPath resolves selectors with document.evaluate, in document order.
type XPath struct{}

var _ schemas.DomSelectorStrategy = XPath{}

func (XPath) Initialize(context.Context) error { return nil }
func (XPath) LibraryScript() string            { return "" }

func (XPath) ScriptForSelector(sel string) string {
	return "(function(){var s = document.evaluate(" + script.Encode(sel) +
		", document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);" +
		"var out = []; for (var i = 0; i < s.snapshotLength; i++) { out.push(s.snapshotItem(i)); } return out;})()"
}

// -- Script Library --

// Library resolves selectors through a JavaScript selector engine such as
// Sizzle. The library source is read by Initialize and injected ahead of
// every selector expression.
type Library struct {
	path     string
	function string
	readFile func(string) ([]byte, error)

	mu     sync.RWMutex
	loaded bool
	source string
}

var _ schemas.DomSelectorStrategy = (*Library)(nil)

// NewLibrary returns a strategy that loads the library at path and calls
// function(selector) to find elements.
func NewLibrary(path, function string) *Library {
	return &Library{path: path, function: function, readFile: os.ReadFile}
}

// Initialize loads the library source. Once a load has succeeded later
// calls do nothing; a failed load is retried on the next call.
func (l *Library) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := l.readFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to load selector library %s: %w", l.path, err)
	}
	l.source, l.loaded = string(b), true
	return nil
}

func (l *Library) LibraryScript() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.source
}

func (l *Library) ScriptForSelector(sel string) string {
	return "Array.prototype.slice.call(" + l.function + "(" + script.Encode(sel) + "))"
}

// New builds the strategy named by cfg.
func New(cfg config.SelectorConfig) (schemas.DomSelectorStrategy, error) {
	switch cfg.Strategy {
	case config.SelectorCSS, "":
		return CSS{}, nil
	case config.SelectorXPath:
		return XPath{}, nil
	case config.SelectorLibrary:
		return NewLibrary(cfg.LibraryPath, cfg.LibraryFunction), nil
	default:
		return nil, fmt.Errorf("unknown selector strategy %q", cfg.Strategy)
	}
}
