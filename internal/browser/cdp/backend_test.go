// internal/browser/cdp/backend_test.go
package cdp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/config"
)

// fakePage answers evaluate calls by matching a fragment of the script body.
type fakePage struct {
	answers map[string]string
	scripts []string
	batches [][]chromedp.Action
}

func (f *fakePage) evaluate(_ context.Context, body string) ([]byte, error) {
	f.scripts = append(f.scripts, body)
	for fragment, answer := range f.answers {
		if strings.Contains(body, fragment) {
			return []byte(answer), nil
		}
	}
	return []byte("null"), nil
}

func (f *fakePage) run(_ context.Context, actions ...chromedp.Action) error {
	f.batches = append(f.batches, actions)
	return nil
}

func newFakeBackend(t *testing.T, f *fakePage) *Backend {
	t.Helper()
	b := Attach(context.Background(), nil, time.Second, zaptest.NewLogger(t))
	b.evaluateFunc = f.evaluate
	b.runActionsFunc = f.run
	b.newPrefix = func() string { return "prefix" }
	return b
}

func TestAllocatorOptions(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	cfg.Args = []string{"--lang=en-US", "mute-audio"}
	cfg.ExecPath = "/usr/bin/chromium"

	base := len(chromedp.DefaultExecAllocatorOptions)
	opts := allocatorOptions(cfg)
	// NoSandbox, dev-shm, window size, exec path and the two args.
	assert.Len(t, opts, base+6)

	cfg.Headless = false
	assert.Len(t, allocatorOptions(cfg), base+7)
}

func TestResolveElements(t *testing.T) {
	f := &fakePage{answers: map[string]string{
		"var records": `"[{\"tag\":\"prefix-0\",\"attributes\":[{\"name\":\"id\",\"value\":\"submit\"}],\"boundingClientRectangle\":{\"x\":1,\"y\":2,\"width\":3,\"height\":4}}]"`,
	}}
	b := newFakeBackend(t, f)

	elements, err := b.ResolveElements(context.Background(), "return [document.body];")
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "["+b.Attribute()+"='prefix-0']", elements[0].Selector)
	assert.Equal(t, schemas.DomRectangle{X: 1, Y: 2, Width: 3, Height: 4}, elements[0].BoundingRectangle)
	assert.Contains(t, f.scripts[0], `"prefix" + '-' + i`)
}

func TestEvaluateScript(t *testing.T) {
	f := &fakePage{answers: map[string]string{"document.title": `"Home"`}}
	b := newFakeBackend(t, f)

	res, err := b.EvaluateScript(context.Background(), "return document.title;")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Home", *res)

	res, err = b.EvaluateScript(context.Background(), "return undefined;")
	require.NoError(t, err)
	assert.Nil(t, res)

	b.evaluateFunc = func(context.Context, string) ([]byte, error) { return nil, errors.New("target closed") }
	_, err = b.EvaluateScript(context.Background(), "return 1;")
	assert.ErrorContains(t, err, "target closed")
}

func TestClickAt(t *testing.T) {
	elements := []schemas.DomElement{{Selector: "[t='a']"}, {Selector: "[t='b']"}}

	t.Run("clicks each match at the offset", func(t *testing.T) {
		f := &fakePage{answers: map[string]string{
			"return \"visible\"": `"visible"`,
			")[0];":              `"{\"x\":10,\"y\":20,\"width\":100,\"height\":50}"`,
			")[1];":              `"{\"x\":10,\"y\":80,\"width\":100,\"height\":50}"`,
		}}
		b := newFakeBackend(t, f)

		require.NoError(t, b.ClickAt(context.Background(), elements, schemas.Center))
		require.Len(t, f.batches, 2)
		// move, press, release
		assert.Len(t, f.batches[0], 3)
	})

	t.Run("double click sends two press/release pairs", func(t *testing.T) {
		f := &fakePage{answers: map[string]string{
			"return \"visible\"": `"visible"`,
			")[0];":              `"{\"x\":0,\"y\":0,\"width\":10,\"height\":10}"`,
		}}
		b := newFakeBackend(t, f)

		require.NoError(t, b.DoubleClickAt(context.Background(), elements[:1], schemas.At(1, 1)))
		require.Len(t, f.batches, 1)
		assert.Len(t, f.batches[0], 5)
	})

	t.Run("hidden element fails before any pointer action", func(t *testing.T) {
		f := &fakePage{answers: map[string]string{"return \"visible\"": `"hidden"`}}
		b := newFakeBackend(t, f)

		err := b.ClickAt(context.Background(), elements, schemas.Center)
		assert.ErrorIs(t, err, schemas.ErrElementNotInteractable)
		assert.Empty(t, f.batches)
	})

	t.Run("no match", func(t *testing.T) {
		f := &fakePage{answers: map[string]string{"return \"visible\"": `"none"`}}
		b := newFakeBackend(t, f)

		assert.ErrorIs(t, b.HoverAt(context.Background(), elements, schemas.Center), schemas.ErrNoMatchingElements)
		assert.ErrorIs(t, b.RightClickAt(context.Background(), nil, schemas.Center), schemas.ErrNoMatchingElements)
	})
}

func TestEnterText(t *testing.T) {
	f := &fakePage{answers: map[string]string{"el.focus();": "true"}}
	b := newFakeBackend(t, f)

	elements := []schemas.DomElement{{Selector: "[t='a']"}, {Selector: "[t='b']"}}
	require.NoError(t, b.EnterText(context.Background(), elements, "hello"))
	assert.Len(t, f.batches, 2, "one key batch per element")
	assert.Contains(t, f.scripts[0], `"[t='a']"`)
	assert.Contains(t, f.scripts[1], `"[t='b']"`)

	f.answers = map[string]string{"el.focus();": "false"}
	assert.ErrorIs(t, b.EnterText(context.Background(), elements, "x"), schemas.ErrNoMatchingElements)
}

func TestCloseIsIdempotent(t *testing.T) {
	calls := 0
	b := Attach(context.Background(), func() { calls++ }, time.Second, zaptest.NewLogger(t))
	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, 1, calls)
}
