package repository

import (
	"context"
	"errors"
)

// ErrNoResults is returned when the search capability has nothing for a query.
var ErrNoResults = errors.New("no search results")

// SearchCandidate is one ranked search hit.
type SearchCandidate struct {
	Title string
	URL   string
}

// SearchRepository queries an external search capability. Quota exhaustion
// is reported as entity.ErrQuotaExceeded.
type SearchRepository interface {
	Search(ctx context.Context, query, location string) ([]SearchCandidate, error)
	// Name identifies the provider in logs and metrics.
	Name() string
}
