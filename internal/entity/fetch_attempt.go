package entity

import "time"

// Outcome classifies a single fetch attempt.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeConnectionError Outcome = "connection_error"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeBlocked         Outcome = "blocked"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeClientError     Outcome = "client_error"
	OutcomeMalformed       Outcome = "malformed_response"
	OutcomePoolExhausted   Outcome = "pool_exhausted"
	OutcomeError           Outcome = "error"
)

// Kind maps the outcome onto the error taxonomy. Success has no kind.
func (o Outcome) Kind() error {
	switch o {
	case OutcomeTimeout, OutcomeConnectionError, OutcomeRateLimited:
		return ErrTransientNetwork
	case OutcomeBlocked:
		return ErrBlocked
	case OutcomeNotFound, OutcomeClientError, OutcomeMalformed:
		return ErrPermanentRequest
	case OutcomePoolExhausted:
		return ErrPoolExhausted
	case OutcomeError:
		return ErrTransientNetwork
	}
	return nil
}

// Retryable reports whether another attempt may succeed.
func (o Outcome) Retryable() bool {
	switch o.Kind() {
	case ErrTransientNetwork, ErrBlocked:
		return true
	}
	return false
}

// IdentityFault reports whether the outcome counts against the identity's health.
// Permanent outcomes are the target's fault: the identity did its job.
func (o Outcome) IdentityFault() bool {
	switch o {
	case OutcomeTimeout, OutcomeConnectionError, OutcomeRateLimited, OutcomeBlocked, OutcomeError:
		return true
	}
	return false
}

// FetchMode selects how a page is retrieved.
type FetchMode string

const (
	FetchStatic   FetchMode = "static"
	FetchRendered FetchMode = "rendered"
)

// FetchAttempt records one iteration of the retry loop. Attempts are logged
// and then discarded; they are never persisted.
type FetchAttempt struct {
	URL      string
	Identity Identity
	Outcome  Outcome
	Elapsed  time.Duration
	Index    int
	Backoff  time.Duration // delay slept before this attempt
}

// Page is a successfully fetched document.
type Page struct {
	URL        string // requested URL
	FinalURL   string // after redirects
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// BaseURL is the URL relative links on the page resolve against.
func (p *Page) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}
