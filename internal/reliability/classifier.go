package reliability

import (
	"context"
	"errors"
	"net"
	"time"
)

// Class buckets a provider failure for metrics and fallback decisions.
type Class string

const (
	ClassNone        Class = ""
	ClassTimeout     Class = "timeout"
	ClassCanceled    Class = "canceled"
	ClassRateLimited Class = "rate_limited"
	ClassUpstream    Class = "upstream"
	ClassRequest     Class = "request"
	ClassNetwork     Class = "network"
	ClassUnknown     Class = "unknown"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps an error returned by a provider call to a Class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		switch {
		case code == 429:
			return ClassRateLimited
		case IsRetryableHTTPStatus(code) || code >= 500:
			return ClassUpstream
		case code >= 400:
			return ClassRequest
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	return ClassUnknown
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
