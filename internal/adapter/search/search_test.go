package search

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/user/bizscraper/internal/adapter/httpfetch"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/internal/retry"
)

func newCustomSearch(t *testing.T, handler http.HandlerFunc) *CustomSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := NewCustomSearch(CustomSearchConfig{APIKey: "key", EngineID: "cx", BaseURL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

// TestCustomSearch_ReturnsItems verifies the request parameters and result mapping
func TestCustomSearch_ReturnsItems(t *testing.T) {
	var got url.Values
	s := newCustomSearch(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		io.WriteString(w, `{"items":[{"title":"Acme Corp","link":"https://acme.example"},{"title":"Acme on Yelp","link":"https://www.yelp.com/biz/acme"}]}`)
	})

	results, err := s.Search(t.Context(), `"Acme Corp" official website`, "")
	require.NoError(t, err)
	assert.Equal(t, []repository.SearchCandidate{
		{Title: "Acme Corp", URL: "https://acme.example"},
		{Title: "Acme on Yelp", URL: "https://www.yelp.com/biz/acme"},
	}, results)
	assert.Equal(t, "key", got.Get("key"))
	assert.Equal(t, "cx", got.Get("cx"))
	assert.Equal(t, `"Acme Corp" official website`, got.Get("q"))
}

// TestCustomSearch_Errors verifies quota, credential and empty answers
func TestCustomSearch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"no items", 200, `{}`, repository.ErrNoResults},
		{"rate limited", 429, `{"error":{"code":429,"message":"Quota exceeded"}}`, entity.ErrQuotaExceeded},
		{"daily limit", 403, `{"error":{"code":403,"message":"limit","errors":[{"reason":"dailyLimitExceeded"}]}}`, entity.ErrQuotaExceeded},
		{"bad key", 400, `{"error":{"code":400,"message":"API key not valid"}}`, entity.ErrConfiguration},
		{"forbidden", 403, `{"error":{"code":403,"message":"denied","errors":[{"reason":"forbidden"}]}}`, entity.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newCustomSearch(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := s.Search(t.Context(), "q", "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestCustomSearch_ServerError verifies 5xx answers are plain errors
func TestCustomSearch_ServerError(t *testing.T) {
	s := newCustomSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := s.Search(t.Context(), "q", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, entity.ErrQuotaExceeded)
	assert.NotErrorIs(t, err, entity.ErrConfiguration)
}

// TestNewCustomSearch_RequiresCredentials verifies construction fails without keys
func TestNewCustomSearch_RequiresCredentials(t *testing.T) {
	_, err := NewCustomSearch(CustomSearchConfig{APIKey: "key"}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}

const resultsPage = `<html><body>
<div class="result result--ad"><a class="result__a" href="https://ads.example/click">Ad</a></div>
<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.yelp.com%2Fbiz%2Facme&amp;rut=abc">Acme - Yelp</a></div>
<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Facme.example%2F&amp;rut=def">Acme Corp</a></div>
</body></html>`

func newHTMLSearch(t *testing.T, handler http.HandlerFunc) *HTMLSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := zaptest.NewLogger(t)
	policy := retry.NewPolicy(retry.Options{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil, logger)
	return NewHTMLSearch(httpfetch.New(httpfetch.Options{}, logger), policy, srv.URL+"/html/", logger)
}

// TestHTMLSearch_ParsesResults verifies redirect links are decoded and ads skipped
func TestHTMLSearch_ParsesResults(t *testing.T) {
	var gotQuery string
	s := newHTMLSearch(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, resultsPage)
	})

	results, err := s.Search(t.Context(), `"Acme Corp" official website`, "")
	require.NoError(t, err)
	assert.Equal(t, `"Acme Corp" official website`, gotQuery)
	assert.Equal(t, []repository.SearchCandidate{
		{Title: "Acme - Yelp", URL: "https://www.yelp.com/biz/acme"},
		{Title: "Acme Corp", URL: "https://acme.example/"},
	}, results)
}

// TestHTMLSearch_NoResults verifies an empty result page
func TestHTMLSearch_NoResults(t *testing.T) {
	s := newHTMLSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><div class="no-results">No results.</div></body></html>`)
	})
	_, err := s.Search(t.Context(), "q", "")
	assert.ErrorIs(t, err, repository.ErrNoResults)
}

// TestHTMLSearch_Blocked verifies blocked result pages are retried then reported
func TestHTMLSearch_Blocked(t *testing.T) {
	calls := 0
	s := newHTMLSearch(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := s.Search(t.Context(), "q", "")
	assert.ErrorIs(t, err, entity.ErrBlocked)
	assert.Equal(t, 2, calls)
}

// TestDecodeResultLink verifies the supported link shapes
func TestDecodeResultLink(t *testing.T) {
	assert.Equal(t, "https://acme.example/", decodeResultLink("//duckduckgo.com/l/?uddg=https%3A%2F%2Facme.example%2F"))
	assert.Equal(t, "https://acme.example/x", decodeResultLink("https://acme.example/x"))
	assert.Equal(t, "", decodeResultLink("/settings"))
}

// TestGemini_CandidatesFrom verifies answer URLs come before grounding domains
func TestGemini_CandidatesFrom(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "https://acme.example.\nhttps://acme.example"}}},
			GroundingMetadata: &genai.GroundingMetadata{
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{URI: "https://vertexaisearch.cloud.google.com/grounding-api-redirect/1", Title: "acme-corp.example"}},
					{Web: &genai.GroundingChunkWeb{Title: "Acme Corp reviews"}},
					nil,
				},
			},
		}},
	}
	assert.Equal(t, []repository.SearchCandidate{
		{URL: "https://acme.example"},
		{Title: "acme-corp.example", URL: "https://acme-corp.example"},
	}, candidatesFrom(resp))
	assert.Empty(t, candidatesFrom(&genai.GenerateContentResponse{}))
}

// TestGemini_ClassifyErr verifies API errors map onto the error kinds
func TestGemini_ClassifyErr(t *testing.T) {
	assert.ErrorIs(t, classifyErr(genai.APIError{Code: 429}), entity.ErrQuotaExceeded)
	assert.ErrorIs(t, classifyErr(genai.APIError{Code: 403}), entity.ErrConfiguration)
	err := classifyErr(genai.APIError{Code: 500})
	assert.NotErrorIs(t, err, entity.ErrQuotaExceeded)
	assert.NotErrorIs(t, classifyErr(errors.New("boom")), entity.ErrConfiguration)
}

// TestNewGemini_RequiresKey verifies construction fails without a key
func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(t.Context(), GeminiConfig{Model: "m"}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}
