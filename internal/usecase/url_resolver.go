package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// URLResolver maps a business name to its probable official website.
type URLResolver interface {
	// Resolve returns "" and a nil error when nothing suitable was found.
	// Once the search quota is exhausted every call returns entity.ErrQuotaExceeded.
	Resolve(ctx context.Context, name, location string) (string, error)
}

type URLResolverOptions struct {
	// RequestsPerSecond limits search calls. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

type urlResolver struct {
	search  repository.SearchRepository
	ranker  Ranker
	limiter *rate.Limiter
	logger  *zap.Logger

	mu        sync.Mutex
	cache     map[string]string
	group     singleflight.Group
	exhausted atomic.Bool
}

// NewURLResolver creates a resolver. The cache lives as long as the resolver,
// so one resolver is created per run.
func NewURLResolver(search repository.SearchRepository, ranker Ranker, opts URLResolverOptions, logger *zap.Logger) URLResolver {
	if ranker == nil {
		ranker = DirectoryFilterRanker{Directories: DirectoryDomains}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &urlResolver{
		search:  search,
		ranker:  ranker,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "url_resolver"), zap.String("provider", search.Name())),
		cache:   make(map[string]string),
	}
}

// BuildQuery formats the search query for a business.
func BuildQuery(name, location string) string {
	q := fmt.Sprintf("%q", strings.TrimSpace(name))
	if loc := strings.TrimSpace(location); loc != "" {
		q += fmt.Sprintf(" %q", loc)
	}
	return q + " official website"
}

func cacheKey(name, location string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "\x00" + strings.ToLower(strings.TrimSpace(location))
}

func (uc *urlResolver) Resolve(ctx context.Context, name, location string) (string, error) {
	if uc.exhausted.Load() {
		return "", entity.ErrQuotaExceeded
	}
	key := cacheKey(name, location)

	if cached, ok := uc.cached(key); ok {
		return cached, nil
	}

	v, err, _ := uc.group.Do(key, func() (any, error) {
		// a flight that finished between the check above and Do already cached it
		if cached, ok := uc.cached(key); ok {
			return cached, nil
		}
		return uc.lookup(ctx, name, location, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (uc *urlResolver) cached(key string) (string, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	v, ok := uc.cache[key]
	return v, ok
}

func (uc *urlResolver) lookup(ctx context.Context, name, location, key string) (string, error) {
	if err := uc.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if uc.exhausted.Load() {
		return "", entity.ErrQuotaExceeded
	}

	query := BuildQuery(name, location)
	candidates, err := uc.search.Search(ctx, query, location)
	switch {
	case errors.Is(err, repository.ErrNoResults):
		metrics.SearchRequestsTotal.WithLabelValues(uc.search.Name(), "no_results").Inc()
		candidates = nil
	case errors.Is(err, entity.ErrQuotaExceeded):
		metrics.SearchRequestsTotal.WithLabelValues(uc.search.Name(), "quota_exceeded").Inc()
		if uc.exhausted.CompareAndSwap(false, true) {
			uc.logger.Error("search quota exceeded, skipping remaining resolutions", zap.Error(err))
		}
		return "", err
	case err != nil:
		metrics.SearchRequestsTotal.WithLabelValues(uc.search.Name(), "error").Inc()
		return "", fmt.Errorf("search %q: %w", query, err)
	default:
		metrics.SearchRequestsTotal.WithLabelValues(uc.search.Name(), "ok").Inc()
	}

	website, found := uc.ranker.Pick(name, candidates)
	if found {
		uc.logger.Info("resolved website", zap.String("business", name), zap.String("website", website))
	} else {
		uc.logger.Warn("no official website found", zap.String("business", name), zap.Int("candidates", len(candidates)))
	}

	uc.mu.Lock()
	uc.cache[key] = website
	uc.mu.Unlock()
	return website, nil
}
