// internal/browser/navsync/navigator_test.go
package navsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fluentweb/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOpenCompletesOnExactMatch(t *testing.T) {
	nav := New(time.Second, zaptest.NewLogger(t))

	err := nav.Open(context.Background(), "http://example.test/a", func(ctx context.Context) error {
		go func() {
			nav.Publish("http://example.test/other")
			nav.Publish("http://example.test/a")
		}()
		return nil
	})
	require.NoError(t, err)
}

func TestOpenIgnoresNonMatchingURLs(t *testing.T) {
	nav := New(50*time.Millisecond, zaptest.NewLogger(t))

	err := nav.Open(context.Background(), "http://example.test/a", func(ctx context.Context) error {
		nav.Publish("http://example.test/a/")
		nav.Publish("http://example.test/")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrTimeoutExceeded))
}

func TestPublishDuringNavigateCounts(t *testing.T) {
	nav := New(time.Second, zaptest.NewLogger(t))

	// Drivers that block until load can deliver the event before navigate returns.
	err := nav.Open(context.Background(), "u", func(ctx context.Context) error {
		nav.Publish("u")
		nav.Publish("u")
		return nil
	})
	assert.NoError(t, err)
}

func TestNavigateErrorReleasesGate(t *testing.T) {
	nav := New(time.Second, zaptest.NewLogger(t))
	boom := errors.New("boom")

	err := nav.Open(context.Background(), "u", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = nav.Open(context.Background(), "u", func(ctx context.Context) error {
		nav.Publish("u")
		return nil
	})
	assert.NoError(t, err, "the gate must be free after a failed open")
}

func TestOpenIsSerialized(t *testing.T) {
	nav := New(time.Second, zaptest.NewLogger(t))

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := nav.Open(context.Background(), "u", func(ctx context.Context) error {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&maxInFlight)
					if cur <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				nav.Publish("u")
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight)
}

func TestOpenHonoursContext(t *testing.T) {
	nav := New(time.Minute, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	err := nav.Open(ctx, "u", func(ctx context.Context) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	// A cancelled context must not acquire a busy gate either.
	nav.gate <- struct{}{}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	err = nav.Open(ctx2, "u", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-nav.gate
}

func TestPublishWithoutPendingOpen(t *testing.T) {
	nav := New(time.Second, nil)
	assert.NotPanics(t, func() { nav.Publish("anything") })
}
