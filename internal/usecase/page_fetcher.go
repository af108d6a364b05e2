package usecase

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
)

// pageFetcher routes fetches through the retry policy, picking the static or
// rendered fetcher by mode.
type pageFetcher struct {
	static   repository.Fetcher
	rendered repository.Fetcher
	policy   *retry.Policy
}

func (f pageFetcher) fetch(ctx context.Context, target string, opts repository.FetchOptions) retry.Result {
	fetcher := f.static
	if opts.Mode == entity.FetchRendered && f.rendered != nil {
		fetcher = f.rendered
	} else {
		opts.Mode = entity.FetchStatic
	}
	return f.policy.Execute(ctx, target, func(ctx context.Context, u string, id entity.Identity) (*entity.Page, error) {
		return fetcher.Fetch(ctx, u, id, opts)
	})
}

func (f pageFetcher) canRender() bool {
	return f.rendered != nil
}

// parsedPage is a fetched document ready for selector and pattern rules.
type parsedPage struct {
	Doc  *goquery.Document
	Base *url.URL
	// Text is the visible text, one space between text nodes.
	Text string
}

func parsePage(page *entity.Page) (*parsedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", page.URL, err)
	}
	base, err := url.Parse(page.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid page url %s: %w", page.BaseURL(), err)
	}
	return &parsedPage{Doc: doc, Base: base, Text: visibleText(doc)}, nil
}

func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()

	var b strings.Builder
	body.Find("*").AddBack().Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "#text" {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			b.WriteString(t)
			b.WriteByte(' ')
		}
	})
	return b.String()
}
