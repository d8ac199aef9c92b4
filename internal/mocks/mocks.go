// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/fluentweb/api/schemas"
)

// -- Backend Mock --

// MockBackend mocks schemas.Backend.
type MockBackend struct {
	mock.Mock
	name string
}

var _ schemas.Backend = (*MockBackend)(nil)

// NewMockBackend returns a mock reporting name from Name().
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{name: name}
}

func (m *MockBackend) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *MockBackend) Open(ctx context.Context, uri string) error {
	args := m.Called(ctx, uri)
	return args.Error(0)
}

func (m *MockBackend) EvaluateScript(ctx context.Context, code string) (*string, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*string), args.Error(1)
}

func (m *MockBackend) ResolveElements(ctx context.Context, code string) ([]schemas.DomElement, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.DomElement), args.Error(1)
}

func (m *MockBackend) ClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	args := m.Called(ctx, elements, offset)
	return args.Error(0)
}

func (m *MockBackend) HoverAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	args := m.Called(ctx, elements, offset)
	return args.Error(0)
}

func (m *MockBackend) DoubleClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	args := m.Called(ctx, elements, offset)
	return args.Error(0)
}

func (m *MockBackend) RightClickAt(ctx context.Context, elements []schemas.DomElement, offset schemas.Offset) error {
	args := m.Called(ctx, elements, offset)
	return args.Error(0)
}

func (m *MockBackend) EnterText(ctx context.Context, elements []schemas.DomElement, text string) error {
	args := m.Called(ctx, elements, text)
	return args.Error(0)
}

func (m *MockBackend) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockCapableBackend adds the optional drag-drop and upload capabilities.
type MockCapableBackend struct {
	MockBackend
}

var (
	_ schemas.DragDropper  = (*MockCapableBackend)(nil)
	_ schemas.FileUploader = (*MockCapableBackend)(nil)
)

// NewMockCapableBackend returns a capable mock reporting name from Name().
func NewMockCapableBackend(name string) *MockCapableBackend {
	return &MockCapableBackend{MockBackend: MockBackend{name: name}}
}

func (m *MockCapableBackend) DragDrop(ctx context.Context, from, to schemas.DomElement) error {
	args := m.Called(ctx, from, to)
	return args.Error(0)
}

func (m *MockCapableBackend) UploadFile(ctx context.Context, elements []schemas.DomElement, filePath string) error {
	args := m.Called(ctx, elements, filePath)
	return args.Error(0)
}

// -- Selector Strategy Mock --

// MockSelectorStrategy mocks schemas.DomSelectorStrategy.
type MockSelectorStrategy struct {
	mock.Mock
}

var _ schemas.DomSelectorStrategy = (*MockSelectorStrategy)(nil)

func (m *MockSelectorStrategy) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSelectorStrategy) LibraryScript() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSelectorStrategy) ScriptForSelector(selector string) string {
	args := m.Called(selector)
	return args.String(0)
}

// StringPtr is a convenience for EvaluateScript return values.
func StringPtr(s string) *string { return &s }
