package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/internal/retry"
	"github.com/user/bizscraper/pkg/utils"
	"go.uber.org/zap"
)

// noiseMarkers drop UI text that directory selectors commonly pick up.
var noiseMarkers = []string{"page", "copyright", "©", "all rights reserved"}

// NameResult is the outcome of extracting one directory target.
type NameResult struct {
	Target string
	Names  []string
	Pages  int
	// Incomplete is set when pagination stopped on a fetch failure. Names
	// found on the pages before it are still returned.
	Incomplete bool
	Err        error
}

// NameExtractor walks a directory listing and collects business names.
type NameExtractor interface {
	Extract(ctx context.Context, target entity.SeedTarget) NameResult
}

type nameExtractor struct {
	pages    pageFetcher
	profiles repository.ProfileRepository
	logger   *zap.Logger
}

// NewNameExtractor creates a name extractor. rendered and profiles may be nil.
func NewNameExtractor(
	static repository.Fetcher,
	rendered repository.Fetcher,
	policy *retry.Policy,
	profiles repository.ProfileRepository,
	logger *zap.Logger,
) NameExtractor {
	return &nameExtractor{
		pages:    pageFetcher{static: static, rendered: rendered, policy: policy},
		profiles: profiles,
		logger:   logger.With(zap.String("component", "name_extractor")),
	}
}

func (uc *nameExtractor) profileFor(target string) entity.SiteProfile {
	if uc.profiles == nil {
		return entity.SiteProfile{}.WithDefaults()
	}
	return uc.profiles.ProfileFor(target).WithDefaults()
}

// Extract follows the next-page selector until it no longer matches, a page
// repeats, MaxPages pages were visited, or a fetch fails.
func (uc *nameExtractor) Extract(ctx context.Context, target entity.SeedTarget) NameResult {
	profile := uc.profileFor(target.URL)
	result := NameResult{Target: target.URL}
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	opts := repository.FetchOptions{Mode: profile.Mode, Scrolls: profile.Scrolls}

	current := target.URL
	for result.Pages < profile.MaxPages && current != "" {
		if visited[current] {
			uc.logger.Debug("pagination revisited a page, stopping", zap.String("url", current))
			break
		}
		visited[current] = true

		res := uc.pages.fetch(ctx, current, opts)
		if !res.OK() {
			result.Incomplete = true
			result.Err = res.Err
			uc.logger.Warn("name extraction stopped early",
				zap.String("target", target.URL),
				zap.String("url", current),
				zap.Int("pages", result.Pages),
				zap.String("outcome", string(res.Outcome)),
				zap.Error(res.Err),
			)
			break
		}
		result.Pages++

		page, err := parsePage(res.Page)
		if err != nil {
			result.Incomplete = true
			result.Err = err
			break
		}

		for _, name := range selectNames(page.Doc, profile) {
			if !seen[name] {
				seen[name] = true
				result.Names = append(result.Names, name)
			}
		}
		current = nextPage(page, profile.NextSelector)
	}

	if ctx.Err() != nil && result.Err == nil {
		result.Incomplete = true
		result.Err = ctx.Err()
	}

	uc.logger.Info("extracted business names",
		zap.String("target", target.URL),
		zap.Int("names", len(result.Names)),
		zap.Int("pages", result.Pages),
		zap.Bool("incomplete", result.Incomplete),
	)
	return result
}

// PoolExhausted reports whether the extraction stopped because no identity was left.
func (r NameResult) PoolExhausted() bool {
	return errors.Is(r.Err, entity.ErrPoolExhausted)
}

func selectNames(doc *goquery.Document, profile entity.SiteProfile) []string {
	var names []string
	for _, selector := range profile.Selectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if name, ok := CleanBusinessName(s.Text(), profile.MinLength); ok {
				names = append(names, name)
			}
		})
	}
	return names
}

func nextPage(page *parsedPage, selector string) string {
	if selector == "" {
		return ""
	}
	href, ok := page.Doc.Find(selector).First().Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	next, err := utils.ToAbsoluteURL(page.Base, href)
	if err != nil || !utils.IsHTTPURL(next) {
		return ""
	}
	return next
}

// CleanBusinessName collapses whitespace and rejects UI noise and names
// shorter than minLength runes.
func CleanBusinessName(raw string, minLength int) (string, bool) {
	name := strings.Join(strings.Fields(raw), " ")
	if utf8.RuneCountInString(name) < minLength {
		return "", false
	}
	lower := strings.ToLower(name)
	for _, marker := range noiseMarkers {
		if strings.Contains(lower, marker) {
			return "", false
		}
	}
	return name, true
}
