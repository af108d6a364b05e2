package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/pkg/metrics"
	"go.uber.org/zap"
)

const defaultMaxBody = 5 << 20

type Options struct {
	// Timeout bounds a whole request including the body read.
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Fetcher performs static fetches with net/http. Each proxy endpoint gets its
// own transport so that connections are never shared across identities.
type Fetcher struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

var _ repository.Fetcher = (*Fetcher)(nil)

func New(opts Options, logger *zap.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &Fetcher{
		opts:    opts,
		logger:  logger.With(zap.String("component", "http_fetcher")),
		clients: make(map[string]*http.Client),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string, id entity.Identity, _ repository.FetchOptions) (*entity.Page, error) {
	start := time.Now()
	page, err := f.fetch(ctx, url, id)
	elapsed := time.Since(start)
	metrics.ObserveFetch(string(entity.FetchStatic), string(entity.OutcomeOf(err)), elapsed)
	if page != nil {
		page.Elapsed = elapsed
	}
	return page, err
}

func (f *Fetcher) fetch(ctx context.Context, url string, id entity.Identity) (*entity.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, entity.NewFetchError(url, entity.OutcomeClientError, 0, err)
	}
	SetBrowserHeaders(req, id.UserAgent)

	resp, err := f.client(id).Do(req)
	if err != nil {
		return nil, entity.NewFetchError(url, ClassifyError(err), 0, err)
	}
	defer resp.Body.Close()

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if outcome := ClassifyStatus(resp.StatusCode); outcome != entity.OutcomeSuccess {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, entity.NewFetchError(url, outcome, resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, entity.NewFetchError(url, ClassifyError(err), resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}
	if outcome := ClassifyBody(resp.Header.Get("Content-Type"), body); outcome != entity.OutcomeSuccess {
		return nil, entity.NewFetchError(url, outcome, resp.StatusCode, nil)
	}

	return &entity.Page{
		URL:        url,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

func (f *Fetcher) client(id entity.Identity) *http.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := id.Key()
	if c, ok := f.clients[key]; ok {
		return c
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if proxyURL := id.ProxyURL(); proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	transport.MaxIdleConnsPerHost = 4
	c := &http.Client{Transport: transport, Timeout: f.opts.Timeout}
	f.clients[key] = c
	f.logger.Debug("created transport", zap.String("identity", key))
	return c
}

// Close releases idle connections of every identity.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		c.CloseIdleConnections()
	}
}

// SetBrowserHeaders makes req look like a regular browser navigation.
func SetBrowserHeaders(req *http.Request, userAgent string) {
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}
