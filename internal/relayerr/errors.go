// Package relayerr defines the error taxonomy shared by the relay components.
package relayerr

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrValidation marks a malformed inbound event. Dropped, never retried.
	ErrValidation = errors.New("relay: invalid event")
	// ErrTransient marks a retryable provider failure (network, 5xx, rate limit).
	ErrTransient = errors.New("relay: transient provider error")
	// ErrPermanent marks a non-retryable provider failure (4xx other than rate limit).
	ErrPermanent = errors.New("relay: permanent provider error")
	// ErrRateLimited marks a provider "too many actions" response.
	ErrRateLimited = errors.New("relay: provider rate limited")
	// ErrPersistence marks a sync store write failure.
	ErrPersistence = errors.New("relay: persistence failed")
	// ErrNoImages is returned before any remote call when a product has no images.
	ErrNoImages = errors.New("relay: product has no images")
	// ErrMediaTimeout is returned when media never became ready within the poll budget.
	ErrMediaTimeout = errors.New("relay: media readiness timed out")
)

// Kind classifies provider failures.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// ProviderError describes a failed call to an external provider.
type ProviderError struct {
	Op      string // e.g. "upload_media"
	Status  int    // HTTP status, 0 for transport failures
	Code    int    // provider error code
	Message string
	Kind    Kind
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s: HTTP %d code %d: %s (%s)", e.Op, e.Status, e.Code, e.Message, e.Kind)
}

// Is maps the error onto the taxonomy sentinels. Rate-limited errors are
// also transient.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient || e.Kind == KindRateLimited
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// Transient builds a transient ProviderError.
func Transient(op, msg string) *ProviderError {
	return &ProviderError{Op: op, Message: msg, Kind: KindTransient}
}

// Permanent builds a permanent ProviderError.
func Permanent(op, msg string) *ProviderError {
	return &ProviderError{Op: op, Message: msg, Kind: KindPermanent}
}

// RateLimited builds a rate-limited ProviderError.
func RateLimited(op, msg string) *ProviderError {
	return &ProviderError{Op: op, Message: msg, Kind: KindRateLimited}
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsPermanent reports whether err is a permanent provider failure.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// KindOf returns the kind of err; unknown errors are treated as transient.
func KindOf(err error) Kind {
	switch {
	case IsRateLimited(err):
		return KindRateLimited
	case IsPermanent(err), errors.Is(err, ErrNoImages), errors.Is(err, ErrValidation):
		return KindPermanent
	default:
		return KindTransient
	}
}

var rateLimitMessage = regexp.MustCompile(`(?i)too many (actions|calls|requests)|rate.?limit|request limit reached|limit how often|action (is )?blocked`)

// Graph API throttling codes and the "too many actions" subcode.
var rateLimitCodes = map[int]struct{}{4: {}, 17: {}, 32: {}, 613: {}, 80001: {}, 80002: {}}

const tooManyActionsSubcode = 2207042

// MatchesRateLimit pattern-matches a provider payload for a throttling signal.
func MatchesRateLimit(status, code, subcode int, message string) bool {
	if status == 429 {
		return true
	}
	if _, ok := rateLimitCodes[code]; ok {
		return true
	}
	if subcode == tooManyActionsSubcode {
		return true
	}
	return rateLimitMessage.MatchString(message)
}
