package chromedp_crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/user/bizscraper/internal/adapter/httpfetch"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/pkg/metrics"
	"go.uber.org/zap"
)

type Options struct {
	PageLoadTimeout time.Duration
	// ScrollDelay is the pause after each scroll pass so lazy content can load.
	ScrollDelay time.Duration
	// ExecPath overrides the browser binary; empty means chromedp's lookup.
	ExecPath string
}

// browser is one running Chrome process; fetches open tabs in it.
type browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
}

// ChromedpCrawler renders pages in headless Chrome. One browser process is
// started lazily per proxy endpoint, since the proxy is a process-wide flag,
// and every fetch through that endpoint runs in a new tab of it.
type ChromedpCrawler struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	browsers map[string]browser
}

var _ repository.Fetcher = (*ChromedpCrawler)(nil)

// NewChromedpCrawler creates a new rendered fetcher using chromedp.
func NewChromedpCrawler(opts Options, logger *zap.Logger) *ChromedpCrawler {
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 60 * time.Second
	}
	if opts.ScrollDelay <= 0 {
		opts.ScrollDelay = 750 * time.Millisecond
	}
	return &ChromedpCrawler{
		opts:       opts,
		logger:     logger.With(zap.String("component", "chromedp_crawler")),
		browsers:   make(map[string]browser),
	}
}

// Fetch navigates to url through the identity and returns the rendered DOM.
func (c *ChromedpCrawler) Fetch(ctx context.Context, url string, id entity.Identity, opts repository.FetchOptions) (*entity.Page, error) {
	start := time.Now()
	page, err := c.render(ctx, url, id, opts.Scrolls)
	elapsed := time.Since(start)
	metrics.ObserveFetch(string(entity.FetchRendered), string(entity.OutcomeOf(err)), elapsed)
	if page != nil {
		page.Elapsed = elapsed
	}
	return page, err
}

func (c *ChromedpCrawler) render(ctx context.Context, url string, id entity.Identity, scrolls int) (*entity.Page, error) {
	browserCtx, err := c.browserFor(id)
	if err != nil {
		return nil, entity.NewFetchError(url, entity.OutcomeConnectionError, 0, err)
	}
	taskCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, c.opts.PageLoadTimeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		statusMu sync.Mutex
		status   int64
	)
	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeDocument {
				return
			}
			statusMu.Lock()
			if status == 0 {
				status = e.Response.Status
			}
			statusMu.Unlock()
		case *fetch.EventAuthRequired:
			go c.exec(taskCtx, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: id.Username,
				Password: id.Password,
			}))
		case *fetch.EventRequestPaused:
			go c.exec(taskCtx, fetch.ContinueRequest(e.RequestID))
		}
	})

	var html, finalURL string
	actions := []chromedp.Action{network.Enable()}
	if id.HasCredentials() {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	if id.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(id.UserAgent))
	}
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	for i := 0; i < scrolls; i++ {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(c.opts.ScrollDelay),
		)
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, entity.NewFetchError(url, entity.OutcomeError, 0, ctx.Err())
		}
		if browserCtx.Err() != nil {
			c.discard(id.Key())
		}
		outcome := classifyNavError(err)
		c.logger.Debug("render failed", zap.String("url", url), zap.String("outcome", string(outcome)), zap.Error(err))
		return nil, entity.NewFetchError(url, outcome, 0, err)
	}

	statusMu.Lock()
	code := int(status)
	statusMu.Unlock()
	if code != 0 {
		if outcome := httpfetch.ClassifyStatus(code); outcome != entity.OutcomeSuccess {
			return nil, entity.NewFetchError(url, outcome, code, nil)
		}
	} else {
		code = 200
	}
	if outcome := httpfetch.ClassifyBody("text/html", []byte(html)); outcome != entity.OutcomeSuccess {
		return nil, entity.NewFetchError(url, outcome, code, nil)
	}

	return &entity.Page{URL: url, FinalURL: finalURL, StatusCode: code, Body: []byte(html)}, nil
}

// exec runs a CDP command from inside an event listener.
func (c *ChromedpCrawler) exec(ctx context.Context, action chromedp.Action) {
	target := chromedp.FromContext(ctx)
	if target == nil || target.Target == nil {
		return
	}
	if err := action.Do(cdp.WithExecutor(ctx, target.Target)); err != nil && ctx.Err() == nil {
		c.logger.Debug("cdp command failed", zap.Error(err))
	}
}

func (c *ChromedpCrawler) browserFor(id entity.Identity) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := id.Key()
	if b, ok := c.browsers[key]; ok && b.ctx.Err() == nil {
		return b.ctx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if server := id.ProxyServer(); server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(c.logger.Sugar().Debugf))
	// Running an empty task list starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		cancelAlloc()
		return nil, err
	}
	c.browsers[key] = browser{ctx: browserCtx, cancel: cancel, cancelAlloc: cancelAlloc}
	c.logger.Info("started browser", zap.String("identity", key))
	return browserCtx, nil
}

func (c *ChromedpCrawler) discard(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.browsers[key]; ok {
		b.cancel()
		b.cancelAlloc()
		delete(c.browsers, key)
	}
}

// Close shuts down every browser process.
func (c *ChromedpCrawler) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, b := range c.browsers {
		b.cancel()
		b.cancelAlloc()
		delete(c.browsers, key)
	}
}

func classifyNavError(err error) entity.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return entity.OutcomeTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ERR_TIMED_OUT"), strings.Contains(msg, "ERR_CONNECTION_TIMED_OUT"):
		return entity.OutcomeTimeout
	case strings.Contains(msg, "ERR_TUNNEL_CONNECTION_FAILED"), strings.Contains(msg, "ERR_PROXY"):
		return entity.OutcomeConnectionError
	case strings.Contains(msg, "ERR_INVALID_URL"), strings.Contains(msg, "ERR_UNKNOWN_URL_SCHEME"):
		return entity.OutcomeClientError
	case strings.Contains(msg, "ERR_BLOCKED_BY"):
		return entity.OutcomeBlocked
	}
	return entity.OutcomeConnectionError
}

