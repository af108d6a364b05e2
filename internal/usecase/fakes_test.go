package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/proxy"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/internal/retry"
)

// fakeFetcher serves canned HTML by URL. Unknown URLs are not found.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]entity.Outcome
	handler  func(url string) (*entity.Page, error)
	calls    map[string]int
	modes    []entity.FetchMode
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:    make(map[string]string),
		failures: make(map[string]entity.Outcome),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, id entity.Identity, opts repository.FetchOptions) (*entity.Page, error) {
	f.mu.Lock()
	f.calls[url]++
	f.modes = append(f.modes, opts.Mode)
	handler := f.handler
	outcome, failing := f.failures[url]
	body, ok := f.pages[url]
	f.mu.Unlock()

	if handler != nil {
		return handler(url)
	}
	if failing {
		return nil, entity.NewFetchError(url, outcome, 0, nil)
	}
	if !ok {
		return nil, entity.NewFetchError(url, entity.OutcomeNotFound, 404, nil)
	}
	return &entity.Page{URL: url, FinalURL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeSearch answers by business name contained in the query.
type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]repository.SearchCandidate
	err     error
	queries []string
	// gate, when set, holds every search until it is closed.
	gate chan struct{}
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{results: make(map[string][]repository.SearchCandidate)}
}

func (s *fakeSearch) Name() string { return "fake" }

func (s *fakeSearch) Search(ctx context.Context, query, location string) ([]repository.SearchCandidate, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	for name, candidates := range s.results {
		if strings.Contains(query, `"`+name+`"`) {
			return candidates, nil
		}
	}
	return nil, repository.ErrNoResults
}

func (s *fakeSearch) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type fakeExporter struct {
	mu      sync.Mutex
	calls   int
	records []entity.BusinessRecord
	format  repository.ExportFormat
}

func (e *fakeExporter) Export(ctx context.Context, records []entity.BusinessRecord, format repository.ExportFormat) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.records = records
	e.format = format
	return []string{"out/business_contacts." + string(format)}, nil
}

func newTestRotator(t *testing.T, n int) *proxy.Rotator {
	t.Helper()
	var raws []string
	for i := 0; i < n; i++ {
		raws = append(raws, "http://10.0.0."+string(rune('1'+i))+":8080")
	}
	ids, err := proxy.ParseEndpoints(raws)
	require.NoError(t, err)
	return proxy.NewRotator(ids, []string{"test-agent"}, proxy.Options{}, zaptest.NewLogger(t))
}

func newTestPolicy(t *testing.T, src retry.IdentitySource, allowDirect bool) *retry.Policy {
	t.Helper()
	return retry.NewPolicy(retry.Options{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		AllowDirect: allowDirect,
	}, src, zaptest.NewLogger(t))
}

func html(body string) string {
	return "<html><head><title>t</title></head><body>" + body + "</body></html>"
}
