// Package apperr defines the gateway's HTTP error envelope and sentinel
// domain errors, translated once at the HTTP boundary into the
// {error:{message,type,code,request_id,details}} shape the AILink wire
// protocol uses for every non-2xx response.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across the data-plane domain packages. Adapters
// wrap these with %w so callers can still errors.Is/errors.As through a
// GatewayError.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrBudgetExceeded  = errors.New("spend cap exceeded")
	ErrModelNotAllowed = errors.New("model not allowed")
	ErrProviderError   = errors.New("provider error")
	ErrBadRequest      = errors.New("bad request")
	ErrPolicyDenied    = errors.New("denied by policy")
	ErrApprovalPending = errors.New("awaiting approval")
	ErrTimeout         = errors.New("upstream timeout")
)

// GatewayError carries an HTTP status and a machine-readable code alongside
// the wrapped cause. It is the type every layer above the domain packages
// converts errors into before they reach the HTTP boundary.
type GatewayError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Details   map[string]interface{}
	Cause     error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// HTTPStatus satisfies the httpStatusError pattern used by the upstream
// dispatcher's failover classifier to distinguish retriable errors from
// client errors without a type switch on every provider's error type.
func (e *GatewayError) HTTPStatus() int { return e.Status }

// New wraps cause into a GatewayError with the given status/code/message.
func New(status int, code, message string, cause error) *GatewayError {
	return &GatewayError{Status: status, Code: code, Message: message, Cause: cause}
}

// FromError maps a sentinel domain error to its default GatewayError. Errors
// that are already a *GatewayError pass through unchanged. Unrecognized
// errors map to a generic 500 with no leaked internal detail.
func FromError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return New(http.StatusUnauthorized, "unauthorized", err.Error(), err)
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrPolicyDenied):
		return New(http.StatusForbidden, "policy_denied", err.Error(), err)
	case errors.Is(err, ErrNotFound):
		return New(http.StatusNotFound, "not_found", err.Error(), err)
	case errors.Is(err, ErrConflict):
		return New(http.StatusConflict, "conflict", err.Error(), err)
	case errors.Is(err, ErrRateLimited):
		return New(http.StatusTooManyRequests, "rate_limited", err.Error(), err)
	case errors.Is(err, ErrBudgetExceeded):
		return New(http.StatusPaymentRequired, "budget_exceeded", err.Error(), err)
	case errors.Is(err, ErrModelNotAllowed):
		return New(http.StatusForbidden, "model_not_allowed", err.Error(), err)
	case errors.Is(err, ErrBadRequest):
		return New(http.StatusBadRequest, "bad_request", err.Error(), err)
	case errors.Is(err, ErrApprovalPending):
		return New(http.StatusAccepted, "approval_pending", err.Error(), err)
	case errors.Is(err, ErrTimeout):
		return New(http.StatusGatewayTimeout, "upstream_timeout", err.Error(), err)
	case errors.Is(err, ErrProviderError):
		return New(http.StatusBadGateway, "provider_error", err.Error(), err)
	default:
		return New(http.StatusInternalServerError, "internal_error", "internal error", err)
	}
}

// Envelope is the JSON body written for every non-2xx response.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody is the nested error object in Envelope.
type EnvelopeBody struct {
	Message   string                 `json:"message"`
	Type      string                 `json:"type"`
	Code      string                 `json:"code"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToEnvelope renders a GatewayError into the wire envelope, attaching the
// request ID if one is carried on the error or supplied explicitly.
func (e *GatewayError) ToEnvelope(requestID string) Envelope {
	rid := e.RequestID
	if rid == "" {
		rid = requestID
	}
	return Envelope{Error: EnvelopeBody{
		Message:   e.Message,
		Type:      "gateway_error",
		Code:      e.Code,
		RequestID: rid,
		Details:   e.Details,
	}}
}
