package entity

import (
	"errors"
	"fmt"
)

// Error kinds. Callers branch on these with errors.Is.
var (
	ErrTransientNetwork = errors.New("transient network failure")
	ErrBlocked          = errors.New("request blocked by target")
	ErrPermanentRequest = errors.New("permanent request failure")
	ErrPoolExhausted    = errors.New("identity pool exhausted")
	ErrQuotaExceeded    = errors.New("search quota exceeded")
	ErrConfiguration    = errors.New("configuration error")

	ErrRunAborted         = errors.New("pipeline run aborted")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// FetchError is a classified fetch failure.
type FetchError struct {
	URL        string
	Outcome    Outcome
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Outcome)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches the error kind derived from the outcome, so that
// errors.Is(err, ErrBlocked) holds for a blocked fetch.
func (e *FetchError) Is(target error) bool {
	kind := e.Outcome.Kind()
	return kind != nil && target == kind
}

// NewFetchError builds a FetchError for the given outcome.
func NewFetchError(url string, outcome Outcome, status int, err error) *FetchError {
	return &FetchError{URL: url, Outcome: outcome, StatusCode: status, Err: err}
}

// OutcomeOf extracts the classified outcome of err. Unclassified errors are
// reported as OutcomeError.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Outcome
	}
	if errors.Is(err, ErrPoolExhausted) {
		return OutcomePoolExhausted
	}
	return OutcomeError
}
