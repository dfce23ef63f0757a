package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/app"
	"github.com/JakeFAU/page-scraper/internal/config"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Provider = "memory"
	cfg.HTTP.MaxRetries = 0
	return cfg
}

func TestBuildScrapesEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
		case "/private":
			fmt.Fprint(w, "<html><title>secret</title></html>")
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<html><head><title>Hello</title><meta name="description" content="greeting"></head>
<body><h1>Welcome</h1><p>Some body text for the page that is long enough to keep.</p></body></html>`)
		}
	}))
	defer srv.Close()

	a, err := app.Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	opts := a.Config().ScrapeDefaults()
	opts.DelaySeconds = 0

	records := a.ScrapeAll(context.Background(), []string{
		srv.URL + "/page",
		srv.URL + "/private",
		"mailto:someone@example.com",
	}, opts)

	require.Len(t, records, 3)
	assert.True(t, records[0].IsSuccess(), records[0].Error)
	assert.Equal(t, "Hello", records[0].Title)
	assert.Equal(t, "greeting", records[0].MetaDescription)
	assert.Equal(t, []string{"Welcome"}, records[0].Headings["h1"])
	assert.Equal(t, scraper.ErrPolicyDenied.Error(), records[1].Error)
	assert.False(t, records[2].IsSuccess())
}

func TestBuildServesHealthz(t *testing.T) {
	a, err := app.Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	rec := httptest.NewRecorder()
	a.Handler("test").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildFailsOnUnusableStorage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig(t)
	cfg.Storage.Provider = "local"
	cfg.Storage.BaseDir = file

	_, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "local blob store init failed")
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := app.Build(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	a.Close(context.Background())
	a.Close(context.Background())
}
