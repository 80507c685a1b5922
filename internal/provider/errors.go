package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an adapter failure for failover decisions.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"          // 408/504/deadline
	KindRateLimited     ErrorKind = "rate_limited"     // 429
	KindServerError     ErrorKind = "server_error"     // 5xx
	KindAuth            ErrorKind = "auth"             // 401/403
	KindBillingDisabled ErrorKind = "billing_disabled" // 402, account suspended
	KindRevoked         ErrorKind = "revoked"          // key deleted upstream
	KindMalformed       ErrorKind = "malformed"        // 400, request rejected
	KindUnknown         ErrorKind = "unknown"
)

// Retryable reports whether another credential profile is worth trying.
// Malformed requests fail the same way on every profile, so they are not.
func (k ErrorKind) Retryable() bool {
	return k != KindMalformed
}

// PermanentForProfile reports whether the failing profile should be disabled
// rather than cooled down.
func (k ErrorKind) PermanentForProfile() bool {
	return k == KindBillingDisabled || k == KindRevoked
}

// Error wraps an adapter failure with classification metadata.
type Error struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Status   int
	Wrapped  error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s/%s: %s (status %d): %v", e.Provider, e.Model, e.Kind, e.Status, e.Wrapped)
	}
	return fmt.Sprintf("%s/%s: %s: %v", e.Provider, e.Model, e.Kind, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Classify wraps a raw adapter error. Classified errors pass through with
// provider/model attribution filled in; context deadline errors become
// timeouts; everything else is unknown and treated as retryable.
func Classify(err error, providerID, modelID string) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		out := *classified
		if out.Provider == "" {
			out.Provider = providerID
		}
		if out.Model == "" {
			out.Model = modelID
		}
		return &out
	}
	kind := KindUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: providerID, Model: modelID, Wrapped: err}
}
