package usecase

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/pkg/utils"
)

// Ranker picks the official website among search candidates.
type Ranker interface {
	Pick(name string, candidates []repository.SearchCandidate) (string, bool)
	Name() string
}

// DirectoryDomains are listing, review and social sites that are never an
// official website.
var DirectoryDomains = []string{
	"yelp.com", "yellowpages.com", "tripadvisor.com", "facebook.com",
	"linkedin.com", "twitter.com", "x.com", "instagram.com", "pinterest.com",
	"angieslist.com", "angi.com", "homeadvisor.com", "thumbtack.com", "bbb.org",
	"glassdoor.com", "indeed.com", "crunchbase.com", "zoominfo.com",
	"manta.com", "foursquare.com", "citysearch.com", "mapquest.com",
	"google.com", "youtube.com", "tiktok.com", "wikipedia.org",
}

var trackingMarkers = []string{"/ad/", "/ads/", "/track/", "/redirect", "/aclk"}

// NewRanker returns the ranker registered under name.
func NewRanker(name string) (Ranker, error) {
	switch name {
	case "", "directory_filter":
		return DirectoryFilterRanker{Directories: DirectoryDomains}, nil
	case "top":
		return TopRanker{}, nil
	}
	return nil, fmt.Errorf("%w: unknown ranker %q", entity.ErrConfiguration, name)
}

// TopRanker returns the first http(s) candidate.
type TopRanker struct{}

func (TopRanker) Name() string { return "top" }

func (TopRanker) Pick(_ string, candidates []repository.SearchCandidate) (string, bool) {
	for _, c := range candidates {
		if utils.IsHTTPURL(c.URL) {
			return c.URL, true
		}
	}
	return "", false
}

// DirectoryFilterRanker skips directory and tracking URLs, prefers a host that
// contains the business name, and otherwise takes the first remaining candidate.
type DirectoryFilterRanker struct {
	Directories []string
}

func (DirectoryFilterRanker) Name() string { return "directory_filter" }

func (r DirectoryFilterRanker) Pick(name string, candidates []repository.SearchCandidate) (string, bool) {
	var eligible []string
	for _, c := range candidates {
		if utils.IsHTTPURL(c.URL) && !r.isDirectory(c.URL) && !isTracking(c.URL) {
			eligible = append(eligible, c.URL)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}

	tokens := nameTokens(name)
	for _, link := range eligible {
		host := strings.ReplaceAll(utils.Hostname(link), "-", "")
		for _, t := range tokens {
			if strings.Contains(host, t) {
				return link, true
			}
		}
	}
	return eligible[0], true
}

func (r DirectoryFilterRanker) isDirectory(link string) bool {
	host := utils.Hostname(link)
	for _, d := range r.Directories {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isTracking(link string) bool {
	lower := strings.ToLower(link)
	for _, m := range trackingMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// nameTokens returns the squashed name ("acmecorp") followed by its first
// word of at least three letters ("acme").
func nameTokens(name string) []string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}
	tokens := []string{strings.Join(words, "")}
	for _, w := range words {
		if len(w) >= 3 && w != "the" {
			if w != tokens[0] {
				tokens = append(tokens, w)
			}
			break
		}
	}
	return tokens
}
