// File: internal/browser/script/script.go
//
// Package script builds the page-side JavaScript shared by every backend.
// All builders return a function body: statements ending in a `return`.
// Backends run a body the way their driver expects (Selenium executes it
// directly, CDP evaluates Isolated(body), rod wraps it in an arrow function).
package script

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/fluentweb/api/schemas"
)

// NewUniqueAttribute returns the synthetic attribute name a backend tags
// resolved elements with. Each backend instance gets its own.
func NewUniqueAttribute() string {
	return "tag-" + uuid.NewString()
}

// Isolated wraps a function body in an immediately invoked function so its
// variables do not leak into the page.
func Isolated(body string) string {
	return "(function() {" + body + "})()"
}

// literal keeps '<', '>' and '&' as-is; JSON escaping of those is only
// needed inside HTML.
var literal = json.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// Encode renders v as a JavaScript literal. Strings come out quoted and escaped.
func Encode(v interface{}) string {
	b, err := literal.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

// Selector returns the CSS attribute selector for a tagged element.
func Selector(attribute, tag string) string {
	return "[" + attribute + "='" + tag + "']"
}

// ResolveElements returns a body that runs body (which must return an
// array-like of elements), tags every element with attribute and returns a
// JSON array of element records. An element that already carries the
// attribute keeps its tag; new tags are "<prefix>-<index>".
func ResolveElements(attribute, prefix, body string) string {
	return fmt.Sprintf(`
var elements = %s || [];
var attr = %s;
var records = [];
var scroll = { x: window.scrollX || window.pageXOffset || 0, y: window.scrollY || window.pageYOffset || 0 };
for (var i = 0; i < elements.length; i++) {
	var element = elements[i];
	if (!element || element.nodeType !== 1) { continue; }
	var tag = element.getAttribute(attr) || (%s + '-' + i);
	element.setAttribute(attr, tag);
	var attributes = [];
	for (var o = 0; o < element.attributes.length; o++) {
		var a = element.attributes[o];
		if (a.name === attr) { continue; }
		attributes.push({ name: a.name, value: a.value });
	}
	var r = element.getBoundingClientRect();
	records.push({
		tag: tag,
		attributes: attributes,
		boundingClientRectangle: { x: r.left, y: r.top, width: r.width, height: r.height },
		scroll: scroll
	});
}
return JSON.stringify(records);`, Isolated(body), Encode(attribute), Encode(prefix))
}

type elementRecord struct {
	Tag                     string                 `json:"tag"`
	Attributes              []schemas.DomAttribute `json:"attributes"`
	BoundingClientRectangle schemas.DomRectangle   `json:"boundingClientRectangle"`
	Scroll                  schemas.DomPoint       `json:"scroll"`
}

// DecodeElements turns the result of a ResolveElements body into elements
// whose selectors reference attribute.
func DecodeElements(attribute, raw string) ([]schemas.DomElement, error) {
	var records []elementRecord
	if err := json.UnmarshalFromString(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode element records: %w", err)
	}
	elements := make([]schemas.DomElement, 0, len(records))
	for _, rec := range records {
		if rec.Tag == "" {
			return nil, fmt.Errorf("element record without tag")
		}
		elements = append(elements, schemas.DomElement{
			Selector:          Selector(attribute, rec.Tag),
			BoundingRectangle: rec.BoundingClientRectangle,
			Scroll:            rec.Scroll,
			Attributes:        schemas.NewDomAttributes(rec.Attributes...),
		})
	}
	return elements, nil
}

// -- Result Stringification --

// FromJSON converts a by-value script result (raw JSON) into the string form
// EvaluateScript reports: nil for null or undefined, the plain value for
// strings, JSON text for everything else.
func FromJSON(raw []byte) (*string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "undefined" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.UnmarshalFromString(trimmed, &s); err != nil {
			return nil, fmt.Errorf("failed to decode string result: %w", err)
		}
		return &s, nil
	}
	return &trimmed, nil
}

// FromValue does the same for drivers that hand back decoded Go values.
func FromValue(v interface{}) (*string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &val, nil
	default:
		s, err := json.MarshalToString(val)
		if err != nil {
			return nil, fmt.Errorf("failed to stringify script result: %w", err)
		}
		return &s, nil
	}
}
