package profile

import (
	"context"
	"errors"
)

// Sentinel errors shared across the pipeline. Attempt-level errors are wrapped
// with context and compared with errors.Is.
var (
	// ErrConfig marks fatal configuration problems; never retried.
	ErrConfig = errors.New("configuration error")
	// ErrPoolExhausted means no session could be borrowed or provisioned.
	ErrPoolExhausted = errors.New("session pool exhausted")
	// ErrNavigationTimeout means the document never reached DOM_LOADED.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrBlockedAuthwall means the page was an authentication wall.
	ErrBlockedAuthwall = errors.New("blocked by authwall")
	// ErrBlockedSoft means the page rendered without recognizable content.
	ErrBlockedSoft = errors.New("soft blocked")
	// ErrExtractionFailed means the primary identity field matched nothing.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrContextLost means the page navigated away mid-query.
	ErrContextLost = errors.New("execution context lost")
)

// VerdictError converts a blocking verdict into its sentinel error.
func VerdictError(v Verdict) error {
	switch v {
	case VerdictAuthwall:
		return ErrBlockedAuthwall
	case VerdictSoftBlock, VerdictUnknownEmpty:
		return ErrBlockedSoft
	default:
		return nil
	}
}

// ReasonFor maps a terminal attempt error to the externally visible reason.
func ReasonFor(err error) Reason {
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrPoolExhausted):
		return ReasonPoolExhausted
	case errors.Is(err, ErrBlockedAuthwall):
		return ReasonAuthwall
	case errors.Is(err, ErrBlockedSoft):
		return ReasonSoftBlock
	case errors.Is(err, ErrNavigationTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrExtractionFailed):
		return ReasonExtractionFailed
	default:
		return ReasonBrowserError
	}
}
