package schemas

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomAttributes(t *testing.T) {
	attrs := NewDomAttributes(
		DomAttribute{Name: "id", Value: "a"},
		DomAttribute{Name: "class", Value: "btn"},
		DomAttribute{Name: "id", Value: "dup"},
	)

	assert.Equal(t, 2, attrs.Len())
	assert.Equal(t, []string{"id", "class"}, attrs.Names())

	v, ok := attrs.Get("id")
	assert.True(t, ok)
	assert.Equal(t, "a", v, "first occurrence wins")
	assert.False(t, attrs.Has("href"))

	all := attrs.All()
	all[0].Value = "mutated"
	v, _ = attrs.Get("id")
	assert.Equal(t, "a", v, "All returns a copy")
}

func TestDomElement(t *testing.T) {
	el := DomElement{
		Selector:   "[tag-x='p-0']",
		Attributes: NewDomAttributes(DomAttribute{Name: "type", Value: "file"}),
	}
	v, ok := el.Attribute("type")
	assert.True(t, ok)
	assert.Equal(t, "file", v)
	assert.Equal(t, "[tag-x='p-0']", el.String())

	assert.Equal(t, "[t='a'], [t='b']", CombinedSelector([]DomElement{{Selector: "[t='a']"}, {Selector: "[t='b']"}}))
	assert.Empty(t, CombinedSelector(nil))
}

func TestDocumentRectangle(t *testing.T) {
	el := DomElement{
		BoundingRectangle: DomRectangle{X: 10, Y: 20, Width: 30, Height: 40},
		Scroll:            DomPoint{X: 5, Y: 300},
	}
	assert.Equal(t, DomRectangle{X: 15, Y: 320, Width: 30, Height: 40}, el.DocumentRectangle())
	assert.Equal(t, el.BoundingRectangle, DomElement{BoundingRectangle: el.BoundingRectangle}.DocumentRectangle())
}

func TestRectangleAndOffset(t *testing.T) {
	r := DomRectangle{X: 10, Y: 20, Width: 100, Height: 40}
	x, y := r.Center()
	assert.Equal(t, 50.0, x)
	assert.Equal(t, 20.0, y)
	assert.True(t, r.Contains(10, 20))
	assert.False(t, r.Contains(110, 20))

	x, y = Center.Resolve(r)
	assert.Equal(t, [2]float64{50, 20}, [2]float64{x, y})
	x, y = At(3, 4).Resolve(r)
	assert.Equal(t, [2]float64{3, 4}, [2]float64{x, y})

	assert.True(t, Center.IsCentered())
	assert.False(t, Offset{}.IsCentered(), "the zero offset is the top-left corner")
	assert.Equal(t, "center", Center.String())
	assert.Equal(t, "(3,4)", At(3, 4).String())
}

func TestExpectationError(t *testing.T) {
	err := fmt.Errorf("node 2: %w", &ExpectationError{Description: `url "a"`, Actual: `"b"`})
	assert.True(t, errors.Is(err, ErrExpectationFailed))
	assert.False(t, errors.Is(err, ErrTimeoutExceeded))
	assert.Contains(t, err.Error(), `expected url "a", got "b"`)

	assert.Equal(t, "expectation failed: expected x", (&ExpectationError{Description: "x"}).Error())
}
