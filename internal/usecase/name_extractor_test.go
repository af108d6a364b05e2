package usecase

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/bizscraper/internal/entity"
)

type staticProfiles map[string]entity.SiteProfile

func (p staticProfiles) ProfileFor(targetURL string) entity.SiteProfile {
	for prefix, profile := range p {
		if strings.HasPrefix(targetURL, prefix) {
			return profile
		}
	}
	return entity.SiteProfile{}
}

var listProfile = staticProfiles{
	"https://dir.example": {
		Selectors:    []string{".business-name"},
		NextSelector: "a.next",
		MaxPages:     5,
	},
}

// TestNameExtractor_FollowsPagination verifies names are collected across pages
// and deduplicated after trimming
func TestNameExtractor_FollowsPagination(t *testing.T) {
	f := newFakeFetcher()
	f.pages["https://dir.example/list"] = html(`
		<div class="business-name"> Acme Corp </div>
		<div class="business-name">Globex</div>
		<a class="next" href="/list?page=2">Next</a>`)
	f.pages["https://dir.example/list?page=2"] = html(`
		<div class="business-name">Acme Corp</div>
		<div class="business-name">Initech
		  LLC</div>
		<div class="business-name">Page 2 of 2</div>`)

	ex := NewNameExtractor(f, nil, newTestPolicy(t, nil, true), listProfile, zaptest.NewLogger(t))
	res := ex.Extract(t.Context(), entity.SeedTarget{URL: "https://dir.example/list"})

	require.NoError(t, res.Err)
	assert.False(t, res.Incomplete)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, []string{"Acme Corp", "Globex", "Initech LLC"}, res.Names)
}

// TestNameExtractor_BoundsCyclicPagination verifies at most MaxPages pages are
// visited even when every page links to a fresh next page
func TestNameExtractor_BoundsCyclicPagination(t *testing.T) {
	f := newFakeFetcher()
	f.handler = func(url string) (*entity.Page, error) {
		body := html(fmt.Sprintf(`<h2 class="business-name">Shop %d</h2><a class="next" href="%s&x=1">Next</a>`, len(url), url))
		return &entity.Page{URL: url, StatusCode: 200, Body: []byte(body)}, nil
	}

	ex := NewNameExtractor(f, nil, newTestPolicy(t, nil, true), listProfile, zaptest.NewLogger(t))
	res := ex.Extract(t.Context(), entity.SeedTarget{URL: "https://dir.example/list?p=0"})

	assert.Equal(t, 5, res.Pages)
	assert.Equal(t, 5, f.TotalCalls())
	assert.Len(t, res.Names, 5)
}

// TestNameExtractor_StopsOnSelfLink verifies a next link back to a visited page ends the loop
func TestNameExtractor_StopsOnSelfLink(t *testing.T) {
	f := newFakeFetcher()
	f.pages["https://dir.example/a"] = html(`<p class="business-name">Alpha Inc</p><a class="next" href="/b">next</a>`)
	f.pages["https://dir.example/b"] = html(`<p class="business-name">Beta Inc</p><a class="next" href="/a">next</a>`)

	ex := NewNameExtractor(f, nil, newTestPolicy(t, nil, true), listProfile, zaptest.NewLogger(t))
	res := ex.Extract(t.Context(), entity.SeedTarget{URL: "https://dir.example/a"})

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, []string{"Alpha Inc", "Beta Inc"}, res.Names)
	assert.Equal(t, 1, f.Calls("https://dir.example/a"))
}

// TestNameExtractor_PartialResultsOnFailure verifies names from earlier pages survive a failure
func TestNameExtractor_PartialResultsOnFailure(t *testing.T) {
	f := newFakeFetcher()
	f.pages["https://dir.example/list"] = html(`<div class="business-name">Acme Corp</div><a class="next" href="/gone">Next</a>`)

	ex := NewNameExtractor(f, nil, newTestPolicy(t, nil, true), listProfile, zaptest.NewLogger(t))
	res := ex.Extract(t.Context(), entity.SeedTarget{URL: "https://dir.example/list"})

	assert.True(t, res.Incomplete)
	assert.ErrorIs(t, res.Err, entity.ErrPermanentRequest)
	assert.Equal(t, []string{"Acme Corp"}, res.Names)
	assert.Equal(t, 1, f.Calls("https://dir.example/gone"), "not_found is not retried")
}

// TestNameExtractor_DefaultProfile verifies hosts without a profile use the default selectors
func TestNameExtractor_DefaultProfile(t *testing.T) {
	f := newFakeFetcher()
	f.pages["https://other.example/"] = html(`<h2>Acme Corp</h2><h3>Globex</h3><span class="company-name">Hooli</span><p>ignored</p>`)

	ex := NewNameExtractor(f, nil, newTestPolicy(t, nil, true), nil, zaptest.NewLogger(t))
	res := ex.Extract(t.Context(), entity.SeedTarget{URL: "https://other.example/"})

	assert.ElementsMatch(t, []string{"Acme Corp", "Globex", "Hooli"}, res.Names)
	assert.Equal(t, 1, res.Pages)
}

// TestNameExtractor_RenderedMode verifies profiles can request the rendered fetcher
func TestNameExtractor_RenderedMode(t *testing.T) {
	static := newFakeFetcher()
	rendered := newFakeFetcher()
	rendered.pages["https://spa.example/"] = html(`<h2>Acme Corp</h2>`)
	profiles := staticProfiles{"https://spa.example": {Mode: entity.FetchRendered, Scrolls: 2}}

	ex := NewNameExtractor(static, rendered, newTestPolicy(t, nil, true), profiles, zaptest.NewLogger(t))
	res := ex.Extract(t.Context(), entity.SeedTarget{URL: "https://spa.example/"})

	assert.Equal(t, []string{"Acme Corp"}, res.Names)
	assert.Equal(t, 0, static.TotalCalls())
	assert.Equal(t, []entity.FetchMode{entity.FetchRendered}, rendered.modes)
}

// TestCleanBusinessName verifies whitespace folding and noise rejection
func TestCleanBusinessName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"  Acme\n\t Corp ", "Acme Corp", true},
		{"AB", "", false},
		{"Next page", "", false},
		{"© 2024 Acme", "", false},
		{"All Rights Reserved", "", false},
		{"Café Olé", "Café Olé", true},
	}
	for _, tt := range tests {
		got, ok := CleanBusinessName(tt.raw, 3)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
