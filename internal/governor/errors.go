package governor

import (
	"errors"
	"fmt"
)

// Kind classifies a failed search so callers can branch without matching
// on message text.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindRateLimited      Kind = "rate_limited"
	KindAuthentication   Kind = "authentication"
	KindEndpointNotFound Kind = "endpoint_not_found"
	KindHTTP             Kind = "http_error"
	KindNetwork          Kind = "network_error"
)

// Source says which side imposed a rate limit.
type Source string

const (
	SourceClient Source = "client"
	SourceServer Source = "server"
)

// DefaultServerWait applies to a provider 429 without a usable Retry-After.
const DefaultServerWait = 60

var (
	ErrInvalidInput     = errors.New("governor: invalid input")
	ErrRateLimited      = errors.New("governor: rate limited")
	ErrAuthentication   = errors.New("governor: authentication rejected")
	ErrEndpointNotFound = errors.New("governor: endpoint not found")
	ErrHTTP             = errors.New("governor: unexpected http status")
	ErrNetwork          = errors.New("governor: network failure")
)

// SearchError is the only error type Search returns.
type SearchError struct {
	Kind Kind
	// WaitSeconds is set for KindRateLimited.
	WaitSeconds int
	// Source is set for KindRateLimited.
	Source Source
	// Status carries the provider status when one was received.
	Status int
	Err    error
}

func (e *SearchError) Error() string {
	var msg string
	switch e.Kind {
	case KindInvalidInput:
		msg = "search query required"
	case KindRateLimited:
		msg = fmt.Sprintf("rate limited by %s, retry in %ds", e.Source, e.WaitSeconds)
	case KindAuthentication:
		msg = fmt.Sprintf("provider rejected credentials (status %d)", e.Status)
	case KindEndpointNotFound:
		msg = "provider endpoint not found"
	case KindHTTP:
		msg = fmt.Sprintf("provider returned status %d", e.Status)
	case KindNetwork:
		msg = "provider unreachable"
	default:
		msg = "search failed"
	}
	if e.Err != nil {
		return "governor: " + msg + ": " + e.Err.Error()
	}
	return "governor: " + msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *SearchError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel := sentinelFor(e.Kind); sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf reports the kind of a search error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var searchErr *SearchError
	if errors.As(err, &searchErr) {
		return searchErr.Kind, true
	}
	return "", false
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindRateLimited:
		return ErrRateLimited
	case KindAuthentication:
		return ErrAuthentication
	case KindEndpointNotFound:
		return ErrEndpointNotFound
	case KindHTTP:
		return ErrHTTP
	case KindNetwork:
		return ErrNetwork
	}
	return nil
}
