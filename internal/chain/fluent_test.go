// File: internal/chain/fluent_test.go
package chain

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/script"
	"github.com/xkilldash9x/fluentweb/internal/mocks"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(w, h, color.NRGBA{G: 255, A: 255})))
	return buf.Bytes()
}

func TestPointerTargets(t *testing.T) {
	t.Run("PointRewritesOffset", func(t *testing.T) {
		el := []schemas.DomElement{element("p-0", 40, 50)}
		m := mocks.NewMockBackend("m")
		m.On("ResolveElements", mock.Anything, script.ElementFromPoint(50, 60)).Return(el, nil).Once()
		m.On("ClickAt", mock.Anything, el, schemas.At(10, 10)).Return(nil).Once()

		c := newContext(t, m)
		c.Root().Click(Point(50, 60))
		require.NoError(t, c.RunAll(context.Background()))
		m.AssertExpectations(t)
	})

	t.Run("HoverFirstElementAtOffset", func(t *testing.T) {
		els := []schemas.DomElement{element("p-0", 0, 0), element("p-1", 0, 30)}
		m := mocks.NewMockBackend("m")
		m.On("ResolveElements", mock.Anything, body(".menu")).Return(els, nil).Once()
		m.On("HoverAt", mock.Anything, els[:1], schemas.At(3, 4)).Return(nil).Once()

		c := newContext(t, m)
		c.Root().Hover(Selector(".menu")).At(3, 4)

		nodes := c.Nodes()
		require.Len(t, nodes, 1, "At replaces the queued node")
		require.NoError(t, c.RunAll(context.Background()))
		m.AssertExpectations(t)
	})

	t.Run("AtAfterChaining", func(t *testing.T) {
		el := []schemas.DomElement{element("p-0", 0, 0)}
		m := mocks.NewMockBackend("m")
		m.On("ResolveElements", mock.Anything, body("#b")).Return(el, nil).Once()
		m.On("ClickAt", mock.Anything, el, schemas.At(5, 6)).Return(nil).Once()
		m.On("HoverAt", mock.Anything, el, schemas.Center).Return(nil).Once()

		c := newContext(t, m)
		click := c.Root().Click(Selector("#b"))
		click.Hover(Previous)
		click.At(5, 6)

		nodes := c.Nodes()
		require.Len(t, nodes, 2)
		assert.Equal(t, KindClick, nodes[0].Kind)
		require.NoError(t, c.RunAll(context.Background()))
		assert.Equal(t, el, nodes[1].Elements(0), "the hover inherits from the reconfigured click")
		m.AssertExpectations(t)
	})

	t.Run("ExplicitElements", func(t *testing.T) {
		el := element("p-7", 0, 0)
		m := mocks.NewMockBackend("m")
		m.On("DoubleClickAt", mock.Anything, []schemas.DomElement{el}, schemas.Center).Return(nil).Once()
		m.On("RightClickAt", mock.Anything, []schemas.DomElement{el}, schemas.At(1, 2)).Return(nil).Once()

		c := newContext(t, m)
		c.Root().DoubleClick(Elements(el)).RightClick(Previous).At(1, 2)
		require.NoError(t, c.RunAll(context.Background()))
		m.AssertExpectations(t)
	})

	t.Run("PreviousWithoutParent", func(t *testing.T) {
		m := mocks.NewMockBackend("m")
		c := newContext(t, m)
		c.Root().Click(Previous)
		assert.ErrorIs(t, c.RunAll(context.Background()), schemas.ErrNoMatchingElements)
	})
}

func TestDragAndUpload(t *testing.T) {
	from := element("p-0", 0, 0)
	to := element("p-1", 100, 0)

	t.Run("Capable", func(t *testing.T) {
		m := mocks.NewMockCapableBackend("m")
		m.On("ResolveElements", mock.Anything, body("#card")).Return([]schemas.DomElement{from}, nil).Once()
		m.On("ResolveElements", mock.Anything, body("#lane")).Return([]schemas.DomElement{to}, nil).Once()
		m.On("DragDrop", mock.Anything, from, to).Return(nil).Once()
		m.On("ResolveElements", mock.Anything, body("input[type=file]")).Return([]schemas.DomElement{from}, nil).Once()
		m.On("UploadFile", mock.Anything, []schemas.DomElement{from}, "/tmp/a.txt").Return(nil).Once()

		c := newContext(t, m)
		c.Root().
			Drag(Selector("#card")).To(Selector("#lane")).
			Upload(Selector("input[type=file]"), "/tmp/a.txt")
		require.NoError(t, c.RunAll(context.Background()))
		m.AssertExpectations(t)
	})

	t.Run("NotImplemented", func(t *testing.T) {
		m := mocks.NewMockBackend("m")
		c := newContext(t, m)
		c.Root().Drag(Selector("#card")).To(Selector("#lane"))
		assert.ErrorIs(t, c.RunAll(context.Background()), schemas.ErrNotImplemented)

		c = newContext(t, m)
		c.Root().Upload(Selector("input"), "a.txt")
		assert.ErrorIs(t, c.RunAll(context.Background()), schemas.ErrNotImplemented)
		m.AssertNotCalled(t, "ResolveElements", mock.Anything, mock.Anything)
	})
}

func TestFormInput(t *testing.T) {
	sel := []schemas.DomElement{element("p-0", 0, 0)}
	combined := schemas.CombinedSelector(sel)

	m := mocks.NewMockBackend("m")
	m.On("ResolveElements", mock.Anything, body("select")).Return(sel, nil)
	m.On("EvaluateScript", mock.Anything, script.SelectByValue(combined, "de")).Return(mocks.StringPtr("1"), nil).Once()
	m.On("EvaluateScript", mock.Anything, script.SelectByIndex(combined, 2)).Return(mocks.StringPtr("1"), nil).Once()
	m.On("EvaluateScript", mock.Anything, script.Focus(combined)).Return(mocks.StringPtr("1"), nil).Once()

	c := newContext(t, m)
	c.Root().
		Select("de").From(Selector("select")).
		SelectIndex(2).From(Previous).
		Find("select").Focus()
	require.NoError(t, c.RunAll(context.Background()))
	m.AssertExpectations(t)

	t.Run("UnknownOption", func(t *testing.T) {
		m := mocks.NewMockBackend("m")
		m.On("ResolveElements", mock.Anything, body("select")).Return(sel, nil)
		m.On("EvaluateScript", mock.Anything, script.SelectByValue(combined, "xx")).Return(mocks.StringPtr("0"), nil).Once()

		c := newContext(t, m)
		c.Root().Select("xx").From(Selector("select"))
		err := c.RunAll(context.Background())
		assert.ErrorIs(t, err, schemas.ErrNoMatchingElements)
		assert.Contains(t, err.Error(), `"xx"`)
	})
}

func TestExpect(t *testing.T) {
	links := []schemas.DomElement{
		element("p-0", 0, 0, schemas.DomAttribute{Name: "rel", Value: "next"}),
		element("p-1", 0, 20, schemas.DomAttribute{Name: "rel", Value: "next"}),
	}

	newBackend := func() *mocks.MockBackend {
		m := mocks.NewMockBackend("m")
		m.On("ResolveElements", mock.Anything, body("a")).Return(links, nil)
		m.On("ResolveElements", mock.Anything, body("#none")).Return([]schemas.DomElement{}, nil)
		m.On("EvaluateScript", mock.Anything, script.Location).Return(mocks.StringPtr("https://example.test/b"), nil)
		m.On("EvaluateScript", mock.Anything, script.TextContent(links[0].Selector)).Return(mocks.StringPtr("Next"), nil)
		m.On("EvaluateScript", mock.Anything, script.TextContent(links[1].Selector)).Return(mocks.StringPtr("Next"), nil)
		return m
	}

	passing := func(c *Chain) {
		c.Expect().URL("https://example.test/b").
			Expect().Exists(Selector("a")).
			Expect().Count(Selector("#none"), 0).
			Expect().Count(Selector("a"), 2).
			Expect().Attribute(Selector("a"), "rel", "next").
			Expect().Text(Selector("a"), "Next").
			Find("a").Expect().That("two links", func(_ context.Context, _ schemas.Backend, els []schemas.DomElement) (string, bool, error) {
			return "", len(els) == 2, nil
		})
	}
	c := newContext(t, newBackend())
	passing(c.Root())
	require.NoError(t, c.RunAll(context.Background()))

	failures := map[string]struct {
		build func(*Chain)
		want  string
	}{
		"URL":       {func(c *Chain) { c.Expect().URL("https://example.test/a") }, `"https://example.test/b"`},
		"Exists":    {func(c *Chain) { c.Expect().Exists(Selector("#none")) }, "no elements"},
		"Count":     {func(c *Chain) { c.Expect().Count(Selector("a"), 3) }, "2"},
		"Attribute": {func(c *Chain) { c.Expect().Attribute(Selector("a"), "rel", "prev") }, `rel="next"`},
		"Text":      {func(c *Chain) { c.Expect().Text(Selector("a"), "Prev") }, `"Next"`},
	}
	for name, tc := range failures {
		t.Run(name, func(t *testing.T) {
			c := newContext(t, newBackend())
			tc.build(c.Root())
			err := c.RunAll(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, schemas.ErrExpectationFailed)

			var expErr *schemas.ExpectationError
			require.True(t, errors.As(err, &expErr))
			assert.Equal(t, tc.want, expErr.Actual)
			assert.NotEmpty(t, expErr.Description)
		})
	}

	t.Run("CheckError", func(t *testing.T) {
		m := mocks.NewMockBackend("m")
		m.On("EvaluateScript", mock.Anything, script.Location).Return(nil, schemas.ErrUnsupportedCapability)
		c := newContext(t, m)
		c.Root().Expect().URL("x")
		err := c.RunAll(context.Background())
		assert.ErrorIs(t, err, schemas.ErrUnsupportedCapability)
		assert.NotErrorIs(t, err, schemas.ErrExpectationFailed)
	})
}

func TestWaits(t *testing.T) {
	t.Run("PredicateBecomesTrue", func(t *testing.T) {
		var calls atomic.Int32
		c := newContext(t, mocks.NewMockBackend("m"))
		// True on the fourth evaluation: after three poll intervals and well
		// inside the ten-interval timeout.
		c.Root().WaitUntil(func() bool { return calls.Add(1) >= 4 })

		require.NoError(t, c.RunAll(context.Background()))
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("PredicateNeverTrue", func(t *testing.T) {
		c := newContext(t, mocks.NewMockBackend("m"))
		c.Root().WaitUntil(func() bool { return false })

		start := time.Now()
		err := c.RunAll(context.Background())
		assert.ErrorIs(t, err, schemas.ErrTimeoutExceeded)
		assert.GreaterOrEqual(t, time.Since(start), testConfig().WaitTimeout)
	})

	t.Run("OwnTimeout", func(t *testing.T) {
		c := newContext(t, mocks.NewMockBackend("m"))
		c.Root().WaitForWithin(func(context.Context) (bool, error) { return false, nil }, 20*time.Millisecond)

		start := time.Now()
		assert.ErrorIs(t, c.RunAll(context.Background()), schemas.ErrTimeoutExceeded)
		assert.Less(t, time.Since(start), testConfig().WaitTimeout)
	})

	t.Run("PredicateError", func(t *testing.T) {
		boom := errors.New("boom")
		c := newContext(t, mocks.NewMockBackend("m"))
		c.Root().WaitFor(func(context.Context) (bool, error) { return false, boom })
		assert.ErrorIs(t, c.RunAll(context.Background()), boom)
	})

	t.Run("NilPredicate", func(t *testing.T) {
		c := newContext(t, mocks.NewMockBackend("m"))
		c.Root().WaitUntil(nil)
		assert.Error(t, c.Err())
	})

	t.Run("Duration", func(t *testing.T) {
		c := newContext(t, mocks.NewMockBackend("m"))
		c.Root().Wait(30 * time.Millisecond)

		start := time.Now()
		require.NoError(t, c.RunAll(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})
}

func TestWaitUntilExpected(t *testing.T) {
	t.Run("HoldsAfterPolling", func(t *testing.T) {
		var polls atomic.Int32
		m := mocks.NewMockBackend("m")
		count := func(mock.Arguments) { polls.Add(1) }
		m.On("EvaluateScript", mock.Anything, script.Location).Run(count).Return(mocks.StringPtr("https://example.test/loading"), nil).Twice()
		m.On("EvaluateScript", mock.Anything, script.Location).Run(count).Return(mocks.StringPtr("https://example.test/done"), nil)
		m.On("ResolveElements", mock.Anything, body("#result")).Return([]schemas.DomElement{element("p-0", 0, 0)}, nil)

		c := newContext(t, m)
		c.Root().WaitUntilExpected(func(e *Expectation) *Chain {
			return e.URL("https://example.test/done").Expect().Exists(Selector("#result"))
		})

		nodes := c.Nodes()
		require.Len(t, nodes, 1, "assertions inside the wait are not queued")
		assert.Equal(t, KindWaitExpect, nodes[0].Kind)
		require.NoError(t, c.RunAll(context.Background()))
		assert.Equal(t, int32(3), polls.Load())
	})

	t.Run("TimesOutWithLastExpectation", func(t *testing.T) {
		m := mocks.NewMockBackend("m")
		m.On("ResolveElements", mock.Anything, body("#result")).Return([]schemas.DomElement{}, nil)

		c := newContext(t, m)
		c.Root().WaitUntilExpectedWithin(func(e *Expectation) *Chain {
			return e.Exists(Selector("#result"))
		}, 30*time.Millisecond)

		err := c.RunAll(context.Background())
		assert.ErrorIs(t, err, schemas.ErrTimeoutExceeded)
		assert.ErrorIs(t, err, schemas.ErrExpectationFailed)

		var expErr *schemas.ExpectationError
		require.True(t, errors.As(err, &expErr))
		assert.Equal(t, "no elements", expErr.Actual)
	})

	t.Run("CheckErrorStopsWaiting", func(t *testing.T) {
		m := mocks.NewMockBackend("m")
		m.On("EvaluateScript", mock.Anything, script.Location).Return(nil, schemas.ErrUnsupportedCapability).Once()

		c := newContext(t, m)
		c.Root().WaitUntilExpected(func(e *Expectation) *Chain { return e.URL("x") })

		err := c.RunAll(context.Background())
		assert.ErrorIs(t, err, schemas.ErrUnsupportedCapability)
		assert.NotErrorIs(t, err, schemas.ErrTimeoutExceeded)
		m.AssertExpectations(t)
	})

	t.Run("BuildErrors", func(t *testing.T) {
		m := mocks.NewMockBackend("m")

		c := newContext(t, m)
		c.Root().WaitUntilExpected(nil)
		assert.Error(t, c.Err())

		c = newContext(t, m)
		c.Root().WaitUntilExpected(func(*Expectation) *Chain { return nil })
		assert.ErrorContains(t, c.Err(), "no assertion")

		c = newContext(t, m)
		c.Root().WaitUntilExpected(func(e *Expectation) *Chain {
			return e.URL("x").Click(Selector("#b")).Chain
		})
		assert.ErrorContains(t, c.Err(), "only assertions")
		require.Len(t, c.Nodes(), 1)
		assert.Error(t, c.RunAll(context.Background()))
		m.AssertNotCalled(t, "ClickAt", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestScreenshots(t *testing.T) {
	raw := pngBytes(t, 100, 80)
	logo := element("p-0", 10, 20, schemas.DomAttribute{Name: "id", Value: "logo"})
	dir := t.TempDir()

	t.Run("ElementCroppedAndSaved", func(t *testing.T) {
		m := mocks.NewMockBackend("m")
		m.On("ResolveElements", mock.Anything, body("#logo")).Return([]schemas.DomElement{logo}, nil).Once()
		m.On("CaptureScreenshot", mock.Anything).Return(raw, nil).Once()

		path := filepath.Join(dir, "logo.png")
		c := newContext(t, m)
		shot := c.Root().Find("#logo").TakeScreenshot()
		shot.SaveAs(path)

		require.NoError(t, c.RunAll(context.Background()))
		require.NotNil(t, shot.Image())
		assert.Equal(t, image.Pt(40, 20), shot.Image().Bounds().Size())

		saved, err := imaging.Open(path)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(40, 20), saved.Bounds().Size())
	})

	t.Run("ScrolledElementCroppedInDocumentFrame", func(t *testing.T) {
		// Red block at document (10,60); the page was scrolled by 50 when resolved.
		page := imaging.New(100, 120, color.NRGBA{G: 255, A: 255})
		page = imaging.Paste(page, imaging.New(40, 20, color.NRGBA{R: 255, A: 255}), image.Pt(10, 60))
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, page))

		scrolled := element("p-0", 10, 10)
		scrolled.Scroll = schemas.DomPoint{Y: 50}
		m := mocks.NewMockBackend("m")
		m.On("ResolveElements", mock.Anything, body("#banner")).Return([]schemas.DomElement{scrolled}, nil).Once()
		m.On("CaptureScreenshot", mock.Anything).Return(buf.Bytes(), nil).Once()

		c := newContext(t, m)
		shot := c.Root().TakeScreenshot(Selector("#banner"))
		require.NoError(t, c.RunAll(context.Background()))

		img := shot.Image()
		require.NotNil(t, img)
		assert.Equal(t, image.Pt(40, 20), img.Bounds().Size())
		r, g, _, _ := img.At(img.Bounds().Min.X+20, img.Bounds().Min.Y+10).RGBA()
		assert.Equal(t, uint32(0xffff), r)
		assert.Zero(t, g)
	})

	t.Run("FullPagePerBackend", func(t *testing.T) {
		a := mocks.NewMockBackend("a")
		b := mocks.NewMockBackend("b")
		a.On("CaptureScreenshot", mock.Anything).Return(raw, nil).Once()
		b.On("CaptureScreenshot", mock.Anything).Return(raw, nil).Once()

		c := newContext(t, a, b)
		shot := c.Root().TakeScreenshot()
		shot.SaveAs(filepath.Join(dir, "page.jpg"))

		require.NoError(t, c.RunAll(context.Background()))
		require.Len(t, shot.Images(), 2)
		assert.Equal(t, image.Pt(100, 80), shot.Images()[1].Bounds().Size())
		for _, name := range []string{"page.a.jpg", "page.b.jpg"} {
			_, err := os.Stat(filepath.Join(dir, name))
			assert.NoError(t, err, name)
		}
	})

	t.Run("CaptureFailure", func(t *testing.T) {
		m := mocks.NewMockBackend("m")
		m.On("CaptureScreenshot", mock.Anything).Return(nil, schemas.ErrUnsupportedCapability).Once()

		c := newContext(t, m)
		shot := c.Root().TakeScreenshot()
		shot.SaveAs(filepath.Join(dir, "never.png"))

		assert.ErrorIs(t, c.RunAll(context.Background()), schemas.ErrUnsupportedCapability)
		assert.Nil(t, shot.Image())
		_, err := os.Stat(filepath.Join(dir, "never.png"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestPerBackendPath(t *testing.T) {
	assert.Equal(t, "out/shot.rod.png", perBackendPath("out/shot.png", "rod"))
	assert.Equal(t, "shot.chromedp", perBackendPath("shot", "chromedp"))
}
