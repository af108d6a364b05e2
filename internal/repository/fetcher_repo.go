package repository

import (
	"context"

	"github.com/user/bizscraper/internal/entity"
)

// FetchOptions tune a single fetch.
type FetchOptions struct {
	Mode entity.FetchMode
	// Scrolls is the number of scroll passes before the DOM is captured (rendered mode only).
	Scrolls int
}

// Fetcher performs one HTTP(S) fetch through the given identity.
// Failures are returned as *entity.FetchError carrying the classified outcome.
type Fetcher interface {
	Fetch(ctx context.Context, url string, identity entity.Identity, opts FetchOptions) (*entity.Page, error)
}
