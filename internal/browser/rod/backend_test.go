// internal/browser/rod/backend_test.go
package rod

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fluentweb/api/schemas"
	"github.com/xkilldash9x/fluentweb/internal/browser/selector"
	"github.com/xkilldash9x/fluentweb/internal/config"
)

func TestNewLauncherFlags(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	cfg.Args = []string{"--lang=en-US", "mute-audio"}

	l := newLauncher(cfg)
	assert.Equal(t, "1280,800", l.Get(flags.Flag("window-size")))
	assert.Equal(t, "en-US", l.Get(flags.Flag("lang")))
	assert.True(t, l.Has(flags.Flag("mute-audio")))
	assert.True(t, l.Has(flags.Flag("disable-dev-shm-usage")))
	assert.True(t, l.Has(flags.Headless))
}

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no local browser for rod")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!doctype html><body>
<a id="link" href="#" onclick="document.title='hit';return false" style="display:inline-block;width:80px;height:20px">x</a>
<select id="pick"><option value="a">A</option><option value="b">B</option></select>
</body>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg := config.NewDefaultConfig().Browser
	cfg.ExecPath = bin
	b, err := New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close(ctx)

	uri := srv.URL + "/index"
	require.NoError(t, b.Open(ctx, uri))

	link, err := b.ResolveElements(ctx, selector.Body(selector.CSS{}, "#link"))
	require.NoError(t, err)
	require.Len(t, link, 1)

	require.NoError(t, b.ClickAt(ctx, link, schemas.Center))
	title, err := b.EvaluateScript(ctx, "return document.title;")
	require.NoError(t, err)
	require.NotNil(t, title)
	assert.Equal(t, "hit", *title)

	none, err := b.EvaluateScript(ctx, "return null;")
	require.NoError(t, err)
	assert.Nil(t, none)

	shot, err := b.CaptureScreenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, shot)
}
