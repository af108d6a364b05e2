package httpfetch

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/user/bizscraper/internal/entity"
)

// Markers of bot-protection interstitials served with a 2xx status.
var challengeMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("/cdn-cgi/challenge-platform"),
	[]byte("<title>just a moment...</title>"),
	[]byte("attention required! | cloudflare"),
	[]byte("px-captcha"),
	[]byte("our systems have detected unusual traffic"),
	[]byte("distil_r_captcha"),
}

// ClassifyStatus maps an HTTP status code to a fetch outcome.
func ClassifyStatus(code int) entity.Outcome {
	switch {
	case code >= 200 && code < 300:
		return entity.OutcomeSuccess
	case code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return entity.OutcomeBlocked
	case code == http.StatusRequestTimeout:
		return entity.OutcomeTimeout
	case code == http.StatusServiceUnavailable:
		return entity.OutcomeRateLimited
	case code == http.StatusProxyAuthRequired:
		// the proxy refused us, the target was never reached
		return entity.OutcomeConnectionError
	case code == http.StatusNotFound, code == http.StatusGone:
		return entity.OutcomeNotFound
	case code >= 500:
		return entity.OutcomeConnectionError
	case code >= 400:
		return entity.OutcomeClientError
	}
	// 1xx and unfollowed 3xx
	return entity.OutcomeMalformed
}

// ClassifyBody inspects a 2xx response. An empty contentType is accepted.
func ClassifyBody(contentType string, body []byte) entity.Outcome {
	if len(bytes.TrimSpace(body)) == 0 {
		return entity.OutcomeMalformed
	}
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "html") {
		return entity.OutcomeMalformed
	}
	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return entity.OutcomeBlocked
		}
	}
	return entity.OutcomeSuccess
}

// ClassifyError maps a transport error to a fetch outcome.
func ClassifyError(err error) entity.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return entity.OutcomeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return entity.OutcomeError
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return entity.OutcomeTimeout
	}
	return entity.OutcomeConnectionError
}
