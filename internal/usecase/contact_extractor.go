package usecase

import (
	"context"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/internal/retry"
	"go.uber.org/zap"
)

// ContactExtractor fetches a business website and recovers its contacts.
type ContactExtractor interface {
	// Extract returns the contacts found on url. Finding nothing is not an
	// error; only a failed fetch of url itself is.
	Extract(ctx context.Context, url string) (entity.ContactSet, error)
}

type ContactExtractorOptions struct {
	// FollowContactPage fetches a contact/about page when the homepage has
	// neither an email nor a phone.
	FollowContactPage bool
	// RenderFallback re-fetches in rendered mode when static extraction found nothing.
	RenderFallback bool
	Scrolls        int
	Rules          []ContactRule
}

type contactExtractor struct {
	pages  pageFetcher
	opts   ContactExtractorOptions
	logger *zap.Logger
}

// NewContactExtractor creates a contact extractor. rendered may be nil.
func NewContactExtractor(
	static repository.Fetcher,
	rendered repository.Fetcher,
	policy *retry.Policy,
	opts ContactExtractorOptions,
	logger *zap.Logger,
) ContactExtractor {
	if len(opts.Rules) == 0 {
		opts.Rules = DefaultContactRules()
	}
	return &contactExtractor{
		pages:  pageFetcher{static: static, rendered: rendered, policy: policy},
		opts:   opts,
		logger: logger.With(zap.String("component", "contact_extractor")),
	}
}

func (uc *contactExtractor) Extract(ctx context.Context, url string) (entity.ContactSet, error) {
	contacts := entity.NewContactSet()

	res := uc.pages.fetch(ctx, url, repository.FetchOptions{Mode: entity.FetchStatic})
	if !res.OK() {
		if uc.opts.RenderFallback && uc.pages.canRender() && res.Outcome == entity.OutcomeMalformed {
			return uc.extractRendered(ctx, url, contacts, res.Err)
		}
		return contacts, res.Err
	}

	home, err := parsePage(res.Page)
	if err != nil {
		return contacts, entity.NewFetchError(url, entity.OutcomeMalformed, res.Page.StatusCode, err)
	}
	uc.apply(home, &contacts)

	if uc.opts.FollowContactPage && len(contacts.Emails) == 0 && len(contacts.Phones) == 0 {
		if link := findContactPage(home); link != "" && link != home.Base.String() {
			uc.logger.Debug("trying contact page", zap.String("url", url), zap.String("contact_page", link))
			uc.extractInto(ctx, link, entity.FetchStatic, &contacts)
		}
	}

	if uc.opts.RenderFallback && uc.pages.canRender() && contacts.Empty() {
		uc.logger.Debug("static extraction found nothing, rendering", zap.String("url", url))
		uc.extractInto(ctx, url, entity.FetchRendered, &contacts)
	}

	uc.logger.Debug("extracted contacts",
		zap.String("url", url),
		zap.Int("emails", len(contacts.Emails)),
		zap.Int("phones", len(contacts.Phones)),
		zap.Int("social", len(contacts.Social)),
	)
	return contacts, nil
}

// extractRendered is used when the static fetch produced an unusable page.
// The original error is returned if rendering fails too.
func (uc *contactExtractor) extractRendered(ctx context.Context, url string, contacts entity.ContactSet, staticErr error) (entity.ContactSet, error) {
	res := uc.pages.fetch(ctx, url, repository.FetchOptions{Mode: entity.FetchRendered, Scrolls: uc.opts.Scrolls})
	if !res.OK() {
		return contacts, staticErr
	}
	page, err := parsePage(res.Page)
	if err != nil {
		return contacts, staticErr
	}
	uc.apply(page, &contacts)
	return contacts, nil
}

// extractInto merges contacts from a secondary page. Failures are logged only.
func (uc *contactExtractor) extractInto(ctx context.Context, url string, mode entity.FetchMode, contacts *entity.ContactSet) {
	res := uc.pages.fetch(ctx, url, repository.FetchOptions{Mode: mode, Scrolls: uc.opts.Scrolls})
	if !res.OK() {
		uc.logger.Warn("secondary page fetch failed",
			zap.String("url", url),
			zap.String("mode", string(mode)),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(res.Err),
		)
		return
	}
	page, err := parsePage(res.Page)
	if err != nil {
		return
	}
	uc.apply(page, contacts)
}

func (uc *contactExtractor) apply(page *parsedPage, contacts *entity.ContactSet) {
	found := entity.NewContactSet()
	for _, rule := range uc.opts.Rules {
		rule.Apply(page, &found)
	}
	contacts.Merge(found)
}
