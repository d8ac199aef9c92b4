// internal/browser/cdp/context.go
package cdp

import (
	"context"
	"time"
)

// combineContext returns a context carrying the values of session (the
// chromedp target) that is canceled when either session or op is done.
func combineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(session)
	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// detached keeps the values of its parent but drops its deadline and
// cancellation, so cleanup can run after the caller's context is gone.
type detached struct {
	context.Context
}

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }
