package github

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/go-github/v75/github"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// classify tags a go-github error with its kind so callers can decide whether
// to retry without looking at messages
func classify(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return goerr.Wrap(err, "GitHub rate limit exceeded",
			goerr.T(types.ErrTagRateLimited),
			goerr.V("reset", rateErr.Rate.Reset.Time))
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return goerr.Wrap(err, "GitHub secondary rate limit exceeded",
			goerr.T(types.ErrTagRateLimited),
			goerr.V("retry_after", abuseErr.GetRetryAfter()))
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(respErr.Error()), "already exists") {
			return goerr.Wrap(err, "resource already exists", goerr.T(types.ErrTagConflict))
		}
		return goerr.Wrap(err, "GitHub API error", statusOptions(status)...)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return goerr.Wrap(err, "network error", goerr.T(types.ErrTagTransientNetwork))
	}

	return err
}

// statusOptions maps an HTTP status to goerr options. Client errors without a
// dedicated kind stay untagged and are reported as internal.
func statusOptions(status int) []goerr.Option {
	opts := []goerr.Option{goerr.V("status", status)}
	switch {
	case status == http.StatusUnauthorized:
		opts = append(opts, goerr.T(types.ErrTagAuthenticationFailed))
	case status == http.StatusForbidden:
		opts = append(opts, goerr.T(types.ErrTagPermissionDenied))
	case status == http.StatusNotFound:
		opts = append(opts, goerr.T(types.ErrTagRepositoryUnavailable))
	case status == http.StatusTooManyRequests:
		opts = append(opts, goerr.T(types.ErrTagRateLimited))
	case status == http.StatusConflict:
		opts = append(opts, goerr.T(types.ErrTagConflict))
	case status >= http.StatusInternalServerError:
		opts = append(opts, goerr.T(types.ErrTagTransientNetwork))
	}
	return opts
}
