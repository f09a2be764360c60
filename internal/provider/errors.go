package provider

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorKind discriminates adapter failure classes so the arbitration
// engine can react without sniffing message text.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"   // timeout / network
	KindProtocol    ErrorKind = "protocol"    // bad upstream status or payload
	KindStructural  ErrorKind = "structural"  // empty or malformed body
	KindAuth        ErrorKind = "auth"        // credential / config failure
	KindRateLimit   ErrorKind = "rate_limit"  // upstream throttling
	KindRegional    ErrorKind = "regional"    // upstream rejects caller region
	KindUnsupported ErrorKind = "unsupported" // operation not implemented
)

// Error is the structured failure every adapter surfaces. RetryAfter is
// only meaningful for KindRateLimit and may be zero when the upstream
// gave no hint.
type Error struct {
	Provider   string
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Temporary reports whether the failure is worth retrying on another
// provider rather than surfacing.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindTransport, KindProtocol, KindStructural, KindRateLimit, KindRegional:
		return true
	}
	return false
}

// NewError builds a structured adapter error.
func NewError(provider string, kind ErrorKind, msg string) *Error {
	return &Error{Provider: provider, Kind: kind, Message: msg}
}

// WrapError builds a structured adapter error around a cause.
func WrapError(provider string, kind ErrorKind, msg string, cause error) *Error {
	return &Error{Provider: provider, Kind: kind, Message: msg, Cause: cause}
}

// Unsupported is the error an adapter returns for an operation it does
// not implement. Never fabricate an empty success instead.
func Unsupported(provider, operation string) *Error {
	return &Error{
		Provider: provider,
		Kind:     KindUnsupported,
		Message:  fmt.Sprintf("operation %s not supported", operation),
	}
}

// ErrNoProviderAvailable is returned when no enabled, initialized,
// non-cooldown adapter can serve a request, and by the engine when the
// whole fallback chain is exhausted.
var ErrNoProviderAvailable = errors.New("no provider available")

var rateLimitWaitRe = regexp.MustCompile(`(?i)wait\s+(\d+(?:\.\d+)?)s`)

// RateLimitHint inspects err for a rate-limit condition. Structured
// errors are checked by kind; anything else falls back to matching
// "rate limit" in the message (legacy adapters and raw upstream text).
// The returned duration is the cooldown to apply: the structured
// retry-after when carried, a parsed trailing "wait Ns" rounded up plus
// one second, else a 60 second default.
func RateLimitHint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	var perr *Error
	if errors.As(err, &perr) {
		if perr.Kind != KindRateLimit {
			return 0, false
		}
		if perr.RetryAfter > 0 {
			return perr.RetryAfter, true
		}
		if d, ok := parseWaitHint(perr.Message); ok {
			return d, true
		}
		return 60 * time.Second, true
	}

	msg := err.Error()
	if !strings.Contains(strings.ToLower(msg), "rate limit") {
		return 0, false
	}
	if d, ok := parseWaitHint(msg); ok {
		return d, true
	}
	return 60 * time.Second, true
}

func parseWaitHint(msg string) (time.Duration, bool) {
	m := rateLimitWaitRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	// Round the hint up and pad one second so the upstream window has
	// definitely elapsed when the cooldown clears.
	return time.Duration(math.Ceil(secs)+1) * time.Second, true
}
