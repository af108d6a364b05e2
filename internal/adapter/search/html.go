package search

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/internal/retry"
	"go.uber.org/zap"
)

const duckDuckGoHTML = "https://html.duckduckgo.com/html/"

// HTMLSearch scrapes a search engine result page. Requests go through the
// retry policy, so they rotate identities like every other fetch.
type HTMLSearch struct {
	fetcher repository.Fetcher
	policy  *retry.Policy
	baseURL string
	logger  *zap.Logger
}

var _ repository.SearchRepository = (*HTMLSearch)(nil)

// NewHTMLSearch creates the scraper. An empty baseURL uses DuckDuckGo's HTML endpoint.
func NewHTMLSearch(fetcher repository.Fetcher, policy *retry.Policy, baseURL string, logger *zap.Logger) *HTMLSearch {
	if baseURL == "" {
		baseURL = duckDuckGoHTML
	}
	return &HTMLSearch{
		fetcher: fetcher,
		policy:  policy,
		baseURL: baseURL,
		logger:  logger.With(zap.String("component", "html_search")),
	}
}

func (s *HTMLSearch) Name() string { return "html" }

func (s *HTMLSearch) Search(ctx context.Context, query, _ string) ([]repository.SearchCandidate, error) {
	target := s.baseURL + "?" + url.Values{"q": {query}}.Encode()
	res := s.policy.Execute(ctx, target, func(ctx context.Context, u string, id entity.Identity) (*entity.Page, error) {
		return s.fetcher.Fetch(ctx, u, id, repository.FetchOptions{Mode: entity.FetchStatic})
	})
	if !res.OK() {
		return nil, fmt.Errorf("html search: %w", res.Err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Page.Body))
	if err != nil {
		return nil, fmt.Errorf("html search: parse results: %w", err)
	}

	var out []repository.SearchCandidate
	doc.Find(".result").Each(func(_ int, result *goquery.Selection) {
		if result.HasClass("result--ad") {
			return
		}
		link := result.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		if resolved := decodeResultLink(href); resolved != "" {
			out = append(out, repository.SearchCandidate{
				Title: strings.TrimSpace(link.Text()),
				URL:   resolved,
			})
		}
	})
	if len(out) == 0 {
		return nil, repository.ErrNoResults
	}
	s.logger.Debug("parsed search results", zap.String("query", query), zap.Int("results", len(out)))
	return out, nil
}

// decodeResultLink unwraps DuckDuckGo's "/l/?uddg=<target>" redirect links.
func decodeResultLink(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return u.String()
	}
	return ""
}
