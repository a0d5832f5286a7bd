package design

import "errors"

// FailureKind classifies pipeline failures into a closed set. Provider
// errors are classified exactly once at the client boundary; callers
// branch on the kind and never re-inspect error text.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureQuotaExceeded is a provider rate/usage limit. Retryable by
	// the caller, never auto-retried inside a batch.
	FailureQuotaExceeded FailureKind = "quota_exceeded"
	// FailureMalformedResponse means the provider output could not be
	// parsed into markup.
	FailureMalformedResponse FailureKind = "malformed_response"
	// FailureProvider is any other provider-side error.
	FailureProvider FailureKind = "provider_error"
	// FailureRenderTimeout is a per-variant render that exceeded its
	// time budget.
	FailureRenderTimeout FailureKind = "render_timeout"
	// FailureBrowserLaunch means the rendering engine could not start at
	// all. Batch-fatal.
	FailureBrowserLaunch FailureKind = "browser_launch_failure"
	FailureAssetMissing  FailureKind = "asset_missing"
	FailureUnknown       FailureKind = "unknown"
)

var (
	// ErrQuotaExceeded is wrapped by the provider client when the
	// underlying error carries a rate/usage-limit signature.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrMalformedResponse is returned when no parser strategy could
	// extract markup from the provider response.
	ErrMalformedResponse = errors.New("provider response contains no usable markup")

	// ErrRenderTimeout is wrapped when a single render exceeds its budget.
	ErrRenderTimeout = errors.New("render timed out")

	// ErrBrowserLaunch is wrapped when the headless browser cannot start.
	ErrBrowserLaunch = errors.New("browser failed to launch")

	// ErrAssetMissing is returned when a referenced asset cannot be
	// embedded into the render document.
	ErrAssetMissing = errors.New("render asset missing")

	// ErrInsufficientCredits rejects a request before any provider call.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAllVariantsFailed is the batch-level error when zero slots
	// succeed.
	ErrAllVariantsFailed = errors.New("all design variants failed")

	// ErrRequestTimeout is the batch-level error when the overall request
	// budget is exceeded.
	ErrRequestTimeout = errors.New("generation request timed out")
)

// Classify maps an error to its FailureKind. The mapping relies solely on
// wrapped sentinel errors, not on error text.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrQuotaExceeded):
		return FailureQuotaExceeded
	case errors.Is(err, ErrMalformedResponse):
		return FailureMalformedResponse
	case errors.Is(err, ErrRenderTimeout):
		return FailureRenderTimeout
	case errors.Is(err, ErrBrowserLaunch):
		return FailureBrowserLaunch
	case errors.Is(err, ErrAssetMissing):
		return FailureAssetMissing
	default:
		return FailureProvider
	}
}
