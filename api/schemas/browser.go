package schemas

import (
	"fmt"
	"strings"
)

// -- DOM Element Schemas --

// DomRectangle is an element's bounding client rectangle in viewport coordinates.
// It is captured at resolution time and may be stale after scrolling or reflow.
type DomRectangle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the rectangle relative to its own top-left corner.
func (r DomRectangle) Center() (float64, float64) {
	return r.Width / 2, r.Height / 2
}

// Contains reports whether the viewport point (x, y) lies inside the rectangle.
func (r DomRectangle) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// DomPoint is a position in CSS pixels.
type DomPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DomAttribute is a single native attribute of an element.
type DomAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DomAttributes is an ordered attribute set with unique names.
type DomAttributes struct {
	items []DomAttribute
}

// NewDomAttributes builds an attribute set in the given order. When a name
// occurs more than once the first occurrence wins.
func NewDomAttributes(attrs ...DomAttribute) DomAttributes {
	seen := make(map[string]struct{}, len(attrs))
	items := make([]DomAttribute, 0, len(attrs))
	for _, a := range attrs {
		if _, dup := seen[a.Name]; dup {
			continue
		}
		seen[a.Name] = struct{}{}
		items = append(items, a)
	}
	return DomAttributes{items: items}
}

// Get returns the value of the named attribute.
func (a DomAttributes) Get(name string) (string, bool) {
	for _, attr := range a.items {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return "", false
}

// Has reports whether the named attribute is present.
func (a DomAttributes) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

// Names returns attribute names in document order.
func (a DomAttributes) Names() []string {
	names := make([]string, len(a.items))
	for i, attr := range a.items {
		names[i] = attr.Name
	}
	return names
}

// All returns a copy of the attributes in document order.
func (a DomAttributes) All() []DomAttribute {
	out := make([]DomAttribute, len(a.items))
	copy(out, a.items)
	return out
}

// Len returns the number of attributes.
func (a DomAttributes) Len() int { return len(a.items) }

// DomElement is a resolved page element. Selector uniquely identifies the
// element through a synthetic attribute tag assigned by the backend that
// resolved it, so it is only meaningful to that backend.
type DomElement struct {
	Selector          string        `json:"selector"`
	BoundingRectangle DomRectangle  `json:"boundingRectangle"`
	// Scroll is the document scroll position when the element was resolved.
	Scroll            DomPoint      `json:"scroll"`
	Attributes        DomAttributes `json:"-"`
}

// DocumentRectangle returns the bounding rectangle in document coordinates,
// the frame of a full-document screenshot.
func (e DomElement) DocumentRectangle() DomRectangle {
	r := e.BoundingRectangle
	r.X += e.Scroll.X
	r.Y += e.Scroll.Y
	return r
}

// Attribute is a shorthand for e.Attributes.Get(name).
func (e DomElement) Attribute(name string) (string, bool) {
	return e.Attributes.Get(name)
}

func (e DomElement) String() string {
	return e.Selector
}

// CombinedSelector joins the selectors of elements into a single CSS selector
// list ("a, b, c") so that they can be re-located with one lookup.
func CombinedSelector(elements []DomElement) string {
	parts := make([]string, len(elements))
	for i, el := range elements {
		parts[i] = el.Selector
	}
	return strings.Join(parts, ", ")
}

// -- Pointer Positioning --

// Offset positions the pointer relative to an element's top-left corner.
// The zero value is the top-left corner itself; Center targets the middle
// of the element's bounding rectangle.
type Offset struct {
	X, Y     int
	centered bool
}

// Center places the pointer at the middle of the element.
var Center = Offset{centered: true}

// At returns an offset of (x, y) pixels from the element's top-left corner.
func At(x, y int) Offset {
	return Offset{X: x, Y: y}
}

// IsCentered reports whether the offset targets the element center.
func (o Offset) IsCentered() bool { return o.centered }

// Resolve returns the offset for an element with the given rectangle.
func (o Offset) Resolve(r DomRectangle) (float64, float64) {
	if o.centered {
		return r.Center()
	}
	return float64(o.X), float64(o.Y)
}

func (o Offset) String() string {
	if o.centered {
		return "center"
	}
	return fmt.Sprintf("(%d,%d)", o.X, o.Y)
}
