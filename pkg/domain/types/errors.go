package types

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// ErrorKind classifies a failure so callers can decide between retrying and giving up
type ErrorKind string

const (
	KindInvalidPattern        ErrorKind = "invalid_pattern"
	KindRepositoryUnavailable ErrorKind = "repository_unavailable"
	KindCheckoutFailed        ErrorKind = "checkout_failed"
	KindDiscoveryUnavailable  ErrorKind = "discovery_unavailable"
	KindRateLimited           ErrorKind = "rate_limited"
	KindTransientNetwork      ErrorKind = "transient_network"
	KindAuthenticationFailed  ErrorKind = "authentication_failed"
	KindPermissionDenied      ErrorKind = "permission_denied"
	KindConflict              ErrorKind = "conflict"
	KindCanceled              ErrorKind = "canceled"
	KindInternal              ErrorKind = "internal"
)

// Error tags attached with goerr.T
var (
	ErrTagInvalidPattern        = goerr.NewTag(string(KindInvalidPattern))
	ErrTagRepositoryUnavailable = goerr.NewTag(string(KindRepositoryUnavailable))
	ErrTagCheckoutFailed        = goerr.NewTag(string(KindCheckoutFailed))
	ErrTagDiscoveryUnavailable  = goerr.NewTag(string(KindDiscoveryUnavailable))
	ErrTagRateLimited           = goerr.NewTag(string(KindRateLimited))
	ErrTagTransientNetwork      = goerr.NewTag(string(KindTransientNetwork))
	ErrTagAuthenticationFailed  = goerr.NewTag(string(KindAuthenticationFailed))
	ErrTagPermissionDenied      = goerr.NewTag(string(KindPermissionDenied))
	ErrTagConflict              = goerr.NewTag(string(KindConflict))
	ErrTagCanceled              = goerr.NewTag(string(KindCanceled))

	// ErrTagFatalPrecondition marks errors that abort a run before any repository is processed
	ErrTagFatalPrecondition = goerr.NewTag("fatal_precondition")
	// ErrTagRunFailed marks a completed run in which at least one repository failed
	ErrTagRunFailed = goerr.NewTag("run_failed")
)

// kindTags is ordered so that component-level classifications (workspace,
// discovery) take precedence over the transport cause they wrap.
var kindTags = []struct {
	kind ErrorKind
	has  func(error) bool
}{
	{KindInvalidPattern, func(e error) bool { return goerr.HasTag(e, ErrTagInvalidPattern) }},
	{KindRepositoryUnavailable, func(e error) bool { return goerr.HasTag(e, ErrTagRepositoryUnavailable) }},
	{KindCheckoutFailed, func(e error) bool { return goerr.HasTag(e, ErrTagCheckoutFailed) }},
	{KindDiscoveryUnavailable, func(e error) bool { return goerr.HasTag(e, ErrTagDiscoveryUnavailable) }},
	{KindCanceled, func(e error) bool { return goerr.HasTag(e, ErrTagCanceled) }},
	{KindAuthenticationFailed, func(e error) bool { return goerr.HasTag(e, ErrTagAuthenticationFailed) }},
	{KindPermissionDenied, func(e error) bool { return goerr.HasTag(e, ErrTagPermissionDenied) }},
	{KindRateLimited, func(e error) bool { return goerr.HasTag(e, ErrTagRateLimited) }},
	{KindTransientNetwork, func(e error) bool { return goerr.HasTag(e, ErrTagTransientNetwork) }},
	{KindConflict, func(e error) bool { return goerr.HasTag(e, ErrTagConflict) }},
}

// KindOf returns the highest-precedence kind tagged anywhere in the chain of err.
// Context cancellation maps to KindCanceled, everything untagged to KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, kt := range kindTags {
		// goerr errors behind a foreign wrapper are checked one by one
		for cur := err; cur != nil; cur = errors.Unwrap(cur) {
			if kt.has(cur) {
				return kt.kind
			}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// IsRetryable reports whether err is worth another attempt within the same stage
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTransientNetwork:
		return true
	default:
		return false
	}
}
