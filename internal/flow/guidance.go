package flow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureKind classifies an external collaborator failure.
type FailureKind string

const (
	FailureTimeout      FailureKind = "timeout"
	FailureUnauthorized FailureKind = "unauthorized"
	FailureForbidden    FailureKind = "forbidden"
	FailureNotFound     FailureKind = "not_found"
	FailureRateLimited  FailureKind = "rate_limited"
	FailureUpstream     FailureKind = "upstream"
	FailureUnreachable  FailureKind = "unreachable"
)

// statusCoder is implemented by adapter errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// ClassifyExternalError maps an adapter error onto a FailureKind.
func ClassifyExternalError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatus(); {
		case code == http.StatusUnauthorized:
			return FailureUnauthorized
		case code == http.StatusForbidden:
			return FailureForbidden
		case code == http.StatusNotFound:
			return FailureNotFound
		case code == http.StatusTooManyRequests:
			return FailureRateLimited
		case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
			return FailureTimeout
		case code == 0:
			// no response was received
		default:
			return FailureUpstream
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureUnreachable
	}
	if sc != nil {
		return FailureUnreachable
	}
	return FailureUpstream
}

// externalGuidance renders a user-facing explanation for a failed external
// call. what describes the attempted task, retry is what the user can say to
// try again, optional marks checks the flow can proceed without.
func externalGuidance(what string, err error, retry string, optional bool) string {
	var cause string
	switch ClassifyExternalError(err) {
	case FailureTimeout:
		cause = "the carrier took too long to respond"
	case FailureUnauthorized, FailureForbidden:
		cause = "the carrier rejected our credentials"
	case FailureNotFound:
		cause = "the carrier did not recognize that request"
	case FailureRateLimited:
		cause = "the carrier is receiving too many requests right now"
	case FailureUnreachable:
		cause = "the carrier service could not be reached"
	default:
		cause = "the carrier service returned an error"
	}
	msg := fmt.Sprintf("I couldn't %s because %s. Nothing in your order was changed.", what, cause)
	if retry != "" {
		msg += fmt.Sprintf(" Say %q to try again.", retry)
	}
	if optional {
		msg += " You can also continue with your order without it."
	}
	return msg
}
