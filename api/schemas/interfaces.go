package schemas

import (
	"context"
)

// -- Automation Backend Interfaces --

// Backend is the capability set the chain engine needs from a concrete
// browser driver. One Backend value is one browser session and may be
// shared by many concurrent chains; only Open is serialized by the
// implementation, every other operation interleaves at whatever
// granularity the driver provides.
//
// Implementations report a missing driver capability with an error
// matching ErrUnsupportedCapability, never a plain execution failure.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Open navigates to uri and returns once a navigation to exactly uri has
	// been observed. Concurrent calls on the same backend run one at a time.
	Open(ctx context.Context, uri string) error

	// EvaluateScript runs code in the page and returns its stringified result,
	// or nil when the script yields null/undefined.
	EvaluateScript(ctx context.Context, code string) (*string, error)

	// ResolveElements runs code, a function body returning a live element
	// list, tags every element with the backend's synthetic attribute and
	// returns one DomElement per element in list order.
	ResolveElements(ctx context.Context, code string) ([]DomElement, error)

	// ClickAt, HoverAt, DoubleClickAt and RightClickAt re-locate the elements
	// by selector, fail with ErrElementNotInteractable if any of them is not
	// displayed, then move the pointer to offset and act on each one.
	ClickAt(ctx context.Context, elements []DomElement, offset Offset) error
	HoverAt(ctx context.Context, elements []DomElement, offset Offset) error
	DoubleClickAt(ctx context.Context, elements []DomElement, offset Offset) error
	RightClickAt(ctx context.Context, elements []DomElement, offset Offset) error

	// EnterText clears then types text into each element, in order.
	EnterText(ctx context.Context, elements []DomElement, text string) error

	// CaptureScreenshot returns the encoded screenshot of the full document.
	// Any window resizing done to capture off-screen content is undone before
	// returning, whether or not the capture succeeded.
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// Close releases the driver session. Call it at most once.
	Close(ctx context.Context) error
}

// DragDropper is implemented by backends that can drag one element onto another.
type DragDropper interface {
	DragDrop(ctx context.Context, from, to DomElement) error
}

// FileUploader is implemented by backends that can set the files of a file input.
type FileUploader interface {
	UploadFile(ctx context.Context, elements []DomElement, filePath string) error
}

// -- DOM Selector Strategy --

// DomSelectorStrategy supplies the page-side script used to turn a selector
// string into a live element list.
type DomSelectorStrategy interface {
	// Initialize performs one-time setup such as loading a helper library.
	// It is idempotent.
	Initialize(ctx context.Context) error
	// LibraryScript is a preamble evaluated before every selector expression.
	LibraryScript() string
	// ScriptForSelector returns an expression evaluating to an array of
	// elements matching selector.
	ScriptForSelector(selector string) string
}
