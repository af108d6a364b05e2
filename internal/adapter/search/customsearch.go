package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"go.uber.org/zap"
)

const customSearchEndpoint = "https://www.googleapis.com/customsearch/v1"

// Reasons Google reports when the daily or per-minute quota is used up.
var quotaReasons = map[string]bool{
	"dailyLimitExceeded":    true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

type CustomSearchConfig struct {
	APIKey   string
	EngineID string
	// BaseURL overrides the API endpoint. Useful for testing.
	BaseURL string
	Timeout time.Duration
}

// CustomSearch queries the Google Custom Search JSON API.
type CustomSearch struct {
	cfg    CustomSearchConfig
	client *http.Client
	logger *zap.Logger
}

var _ repository.SearchRepository = (*CustomSearch)(nil)

func NewCustomSearch(cfg CustomSearchConfig, logger *zap.Logger) (*CustomSearch, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, fmt.Errorf("%w: custom search needs an API key and an engine id", entity.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = customSearchEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &CustomSearch{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "customsearch")),
	}, nil
}

func (s *CustomSearch) Name() string { return "customsearch" }

type customSearchResponse struct {
	Items []struct {
		Title string `json:"title"`
		Link  string `json:"link"`
	} `json:"items"`
}

type customSearchError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (s *CustomSearch) Search(ctx context.Context, query, _ string) ([]repository.SearchCandidate, error) {
	params := url.Values{}
	params.Set("key", s.cfg.APIKey)
	params.Set("cx", s.cfg.EngineID)
	params.Set("q", query)
	params.Set("num", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("customsearch request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("customsearch read failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError(resp.StatusCode, body)
	}

	var parsed customSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("customsearch: decode response: %w", err)
	}
	if len(parsed.Items) == 0 {
		return nil, repository.ErrNoResults
	}
	out := make([]repository.SearchCandidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		out = append(out, repository.SearchCandidate{Title: item.Title, URL: item.Link})
	}
	return out, nil
}

func (s *CustomSearch) statusError(code int, body []byte) error {
	var apiErr customSearchError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = http.StatusText(code)
	}

	if code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: customsearch: %s", entity.ErrQuotaExceeded, msg)
	}
	if code == http.StatusForbidden {
		for _, e := range apiErr.Error.Errors {
			if quotaReasons[e.Reason] {
				return fmt.Errorf("%w: customsearch: %s", entity.ErrQuotaExceeded, msg)
			}
		}
	}
	if code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("%w: customsearch rejected the credentials (status %d): %s", entity.ErrConfiguration, code, msg)
	}
	return fmt.Errorf("customsearch: status %d: %s", code, msg)
}
