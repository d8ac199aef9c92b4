// File: internal/browser/script/page.go
package script

import (
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/fluentweb/api/schemas"
)

// -- Viewport --

// ViewportDimensions returns the document, outer window and inner viewport sizes as JSON.
const ViewportDimensions = `
var b = document.body || document.documentElement;
var d = document.documentElement;
return JSON.stringify({
	document: {
		width: Math.max(b.scrollWidth, b.offsetWidth, d.clientWidth, d.scrollWidth, d.offsetWidth),
		height: Math.max(b.scrollHeight, b.offsetHeight, d.clientHeight, d.scrollHeight, d.offsetHeight)
	},
	outer: { width: window.outerWidth, height: window.outerHeight },
	inner: { width: window.innerWidth, height: window.innerHeight }
});`

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Dimensions is the decoded result of ViewportDimensions.
type Dimensions struct {
	Document Size `json:"document"`
	Outer    Size `json:"outer"`
	Inner    Size `json:"inner"`
}

// DecodeDimensions parses a ViewportDimensions result.
func DecodeDimensions(raw string) (Dimensions, error) {
	var d Dimensions
	if err := json.UnmarshalFromString(raw, &d); err != nil {
		return Dimensions{}, fmt.Errorf("failed to decode viewport dimensions: %w", err)
	}
	return d, nil
}

// FullPageWindow is the outer window size at which the viewport shows the
// whole document: the window chrome (outer minus inner) plus the document.
// The result is not clamped to the screen.
func (d Dimensions) FullPageWindow() Size {
	return Size{
		Width:  d.Outer.Width + (d.Document.Width - d.Inner.Width),
		Height: d.Outer.Height + (d.Document.Height - d.Inner.Height),
	}
}

// -- Element Helpers --

// ElementFromPoint is a body returning the topmost element at viewport
// point (x, y) as a zero or one element array.
func ElementFromPoint(x, y int) string {
	return fmt.Sprintf(`var el = document.elementFromPoint(%d, %d); return el ? [el] : [];`, x, y)
}

// IsDisplayed is a body reporting whether every element matched by the CSS
// selector list is rendered with a non-empty box. It returns "none" when the
// selector matches nothing.
func IsDisplayed(selector string) string {
	return fmt.Sprintf(`
var nodes = document.querySelectorAll(%s);
if (nodes.length === 0) { return "none"; }
for (var i = 0; i < nodes.length; i++) {
	var el = nodes[i];
	var style = window.getComputedStyle(el);
	var r = el.getBoundingClientRect();
	if (style.display === 'none' || style.visibility === 'hidden' || r.width === 0 || r.height === 0) {
		return "hidden";
	}
}
return "visible";`, Encode(selector))
}

// Focus is a body focusing every element matched by selector.
func Focus(selector string) string {
	return fmt.Sprintf(`
var nodes = document.querySelectorAll(%s);
for (var i = 0; i < nodes.length; i++) { nodes[i].focus(); }
return nodes.length;`, Encode(selector))
}

// SelectByValue is a body selecting the option with value (or, failing that,
// visible text) in every <select> matched by selector and firing change.
// It returns the number of selects that had a matching option.
func SelectByValue(selector, value string) string {
	return fmt.Sprintf(`
var nodes = document.querySelectorAll(%s);
var want = %s;
var hits = 0;
for (var i = 0; i < nodes.length; i++) {
	var sel = nodes[i];
	if (!sel.options) { continue; }
	for (var o = 0; o < sel.options.length; o++) {
		var opt = sel.options[o];
		if (opt.value === want || opt.text === want) {
			sel.selectedIndex = o;
			sel.dispatchEvent(new Event('input', { bubbles: true }));
			sel.dispatchEvent(new Event('change', { bubbles: true }));
			hits++;
			break;
		}
	}
}
return hits;`, Encode(selector), Encode(value))
}

// SelectByIndex is a body selecting option index in every <select> matched
// by selector. It returns the number of selects that had that many options.
func SelectByIndex(selector string, index int) string {
	return fmt.Sprintf(`
var nodes = document.querySelectorAll(%s);
var hits = 0;
for (var i = 0; i < nodes.length; i++) {
	var sel = nodes[i];
	if (!sel.options || %d < 0 || %d >= sel.options.length) { continue; }
	sel.selectedIndex = %d;
	sel.dispatchEvent(new Event('input', { bubbles: true }));
	sel.dispatchEvent(new Event('change', { bubbles: true }));
	hits++;
}
return hits;`, Encode(selector), index, index, index)
}

// TextContent is a body returning the trimmed text of the first element
// matched by selector, or null.
func TextContent(selector string) string {
	return fmt.Sprintf(`
var el = document.querySelector(%s);
return el ? (el.innerText || el.textContent || '').trim() : null;`, Encode(selector))
}

// ScrollIntoView is a body scrolling the first element matched by selector
// into the viewport center.
func ScrollIntoView(selector string) string {
	return fmt.Sprintf(`
var el = document.querySelector(%s);
if (el) { el.scrollIntoView({ block: 'center', inline: 'center' }); }
return !!el;`, Encode(selector))
}

// Locate is a body scrolling the index-th element matched by selector into
// view and returning its fresh bounding rectangle as JSON, or null.
func Locate(selector string, index int) string {
	return fmt.Sprintf(`
var el = document.querySelectorAll(%s)[%d];
if (!el) { return null; }
el.scrollIntoView({ block: 'center', inline: 'center' });
var r = el.getBoundingClientRect();
return JSON.stringify({ x: r.left, y: r.top, width: r.width, height: r.height });`, Encode(selector), index)
}

// DecodeRectangle parses a Locate result.
func DecodeRectangle(raw string) (schemas.DomRectangle, error) {
	var r schemas.DomRectangle
	if err := json.UnmarshalFromString(raw, &r); err != nil {
		return schemas.DomRectangle{}, fmt.Errorf("failed to decode rectangle: %w", err)
	}
	return r, nil
}

// Clear is a body focusing and emptying the index-th element matched by
// selector: inputs lose their value, content-editables their text.
func Clear(selector string, index int) string {
	return fmt.Sprintf(`
var el = document.querySelectorAll(%s)[%d];
if (!el) { return false; }
el.focus();
if ('value' in el) { el.value = ''; } else if (el.isContentEditable) { el.textContent = ''; }
el.dispatchEvent(new Event('input', { bubbles: true }));
return true;`, Encode(selector), index)
}

// Location is a body returning the current document URL.
const Location = `return window.location.href;`
