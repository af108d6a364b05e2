package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/pkg/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>()\[\]]+`)

type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Gemini answers queries with a model grounded on Google Search.
type Gemini struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

var _ repository.SearchRepository = (*Gemini)(nil)

func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is required", entity.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: GEMINI_MODEL is required", entity.ErrConfiguration)
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Gemini{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
		logger: logger.With(zap.String("component", "gemini_search")),
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Search(ctx context.Context, query, _ string) ([]repository.SearchCandidate, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(buildPrompt(query)),
		&genai.GenerateContentConfig{
			Tools:          []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
			CandidateCount: 1,
		},
	)
	if err != nil {
		return nil, classifyErr(err)
	}

	candidates := candidatesFrom(resp)
	if len(candidates) == 0 {
		return nil, repository.ErrNoResults
	}
	return candidates, nil
}

func buildPrompt(query string) string {
	return strings.TrimSpace(`
Use web search to find the official website of the business described by this search query.
Answer with the website URL only, one per line, most likely first. Do not list directories,
review sites or social media profiles. If you cannot find it, answer NONE.

Query: ` + query + `
`)
}

// candidatesFrom collects URLs from the answer text, then the grounding
// sources. Grounding URIs are redirect links, so their titles (domains) are used.
func candidatesFrom(resp *genai.GenerateContentResponse) []repository.SearchCandidate {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []repository.SearchCandidate
	add := func(title, link string) {
		link = strings.TrimRight(strings.TrimSpace(link), ".,;")
		if !utils.IsHTTPURL(link) || seen[link] {
			return
		}
		seen[link] = true
		out = append(out, repository.SearchCandidate{Title: title, URL: link})
	}

	for _, link := range urlPattern.FindAllString(resp.Text(), -1) {
		add("", link)
	}
	if gm := resp.Candidates[0].GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil || chunk.Web == nil {
				continue
			}
			title := strings.TrimSpace(chunk.Web.Title)
			if title != "" && !strings.ContainsAny(title, " /") && strings.Contains(title, ".") {
				add(title, "https://"+title)
			}
		}
	}
	return out
}

func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return fmt.Errorf("%w: gemini: %w", entity.ErrQuotaExceeded, err)
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%w: gemini: %w", entity.ErrConfiguration, err)
		}
	}
	return fmt.Errorf("gemini: %w", err)
}
