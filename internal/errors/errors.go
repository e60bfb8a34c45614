// Package errors holds the sentinel errors shared across the image
// pipeline. Callers wrap them with fmt.Errorf("...: %w") and test with
// errors.Is. The public entry points collapse all of them into the same
// "no image produced" result.
package errors

import "errors"

// Pipeline failures.
var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrAuthentication       = errors.New("authentication failed")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrStorage              = errors.New("storage failure")
	ErrProviderIncapable    = errors.New("provider cannot serve this action")
	ErrNoImage              = errors.New("no image produced")
	ErrNoSourceImage        = errors.New("no source image supplied")
	ErrEmptyImage           = errors.New("empty image data")
)

// Token status failures, in the order they are checked.
var (
	ErrNoToken            = errors.New("no valid token")
	ErrTokenNotCached     = errors.New("no token in cache")
	ErrCredentialsInvalid = errors.New("credentials could not be used to get access")
	ErrNoSubscriptions    = errors.New("no current subscription")
	ErrAppNotAuthorised   = errors.New("app is not authorised for this site")
)

// Kind returns a short label for the pipeline sentinel wrapped by err,
// for log attributes. Unknown errors report "unknown".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigurationMissing):
		return "configuration_missing"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrProviderIncapable):
		return "provider_incapable"
	case errors.Is(err, ErrNoSourceImage):
		return "no_source_image"
	case errors.Is(err, ErrEmptyImage):
		return "empty_image"
	case errors.Is(err, ErrNoImage):
		return "no_image"
	}

	return "unknown"
}
