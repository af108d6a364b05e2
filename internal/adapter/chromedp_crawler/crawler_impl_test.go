package chromedp_crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
)

// TestClassifyNavError verifies navigation errors map onto outcomes
func TestClassifyNavError(t *testing.T) {
	assert.Equal(t, entity.OutcomeTimeout, classifyNavError(context.DeadlineExceeded))
	assert.Equal(t, entity.OutcomeTimeout, classifyNavError(errors.New("page load error net::ERR_TIMED_OUT")))
	assert.Equal(t, entity.OutcomeConnectionError, classifyNavError(errors.New("page load error net::ERR_PROXY_CONNECTION_FAILED")))
	assert.Equal(t, entity.OutcomeClientError, classifyNavError(errors.New("page load error net::ERR_INVALID_URL")))
	assert.Equal(t, entity.OutcomeBlocked, classifyNavError(errors.New("page load error net::ERR_BLOCKED_BY_CLIENT")))
	assert.Equal(t, entity.OutcomeConnectionError, classifyNavError(errors.New("websocket closed")))
}

func findBrowser(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome binary available")
	return ""
}

// TestFetch_RendersScriptContent verifies content added by scripts is captured
func TestFetch_RendersScriptContent(t *testing.T) {
	browser := findBrowser(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="root"></div>
			<script>document.getElementById("root").innerHTML = '<a href="mailto:hello@spa.example">mail</a>';</script>
		</body></html>`)
	}))
	defer srv.Close()

	c := NewChromedpCrawler(Options{ExecPath: browser, PageLoadTimeout: 30 * time.Second, ScrollDelay: 10 * time.Millisecond}, zaptest.NewLogger(t))
	defer c.Close()

	page, err := c.Fetch(t.Context(), srv.URL, entity.Identity{UserAgent: "test-agent"}, repository.FetchOptions{Scrolls: 1})
	require.NoError(t, err)
	assert.Contains(t, string(page.Body), "hello@spa.example")
	assert.Equal(t, 200, page.StatusCode)

	_, err = c.Fetch(t.Context(), srv.URL+"/missing", entity.Identity{}, repository.FetchOptions{})
	assert.Equal(t, entity.OutcomeNotFound, entity.OutcomeOf(err))
}

// TestFetch_ReusesBrowserPerIdentity verifies fetches through one identity share a browser process
func TestFetch_ReusesBrowserPerIdentity(t *testing.T) {
	browserPath := findBrowser(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><p>static</p></body></html>`)
	}))
	defer srv.Close()

	c := NewChromedpCrawler(Options{ExecPath: browserPath, PageLoadTimeout: 30 * time.Second}, zaptest.NewLogger(t))
	defer c.Close()

	id := entity.Identity{}
	_, err := c.Fetch(t.Context(), srv.URL, id, repository.FetchOptions{})
	require.NoError(t, err)
	c.mu.Lock()
	first := chromedp.FromContext(c.browsers[id.Key()].ctx).Browser
	c.mu.Unlock()
	require.NotNil(t, first)

	_, err = c.Fetch(t.Context(), srv.URL, id, repository.FetchOptions{})
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.browsers, 1)
	assert.Same(t, first, chromedp.FromContext(c.browsers[id.Key()].ctx).Browser)
}
