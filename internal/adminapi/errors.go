package adminapi

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind string

const (
	// KindNetwork: no response was received. Retryable.
	KindNetwork Kind = "network"
	// KindTimeout: the attempt exceeded the request timeout. Retryable.
	KindTimeout Kind = "timeout"
	// KindServerError: a well-formed non-2xx response (or an unusable 2xx body).
	KindServerError Kind = "server_error"
	// KindServiceUnavailable: the health gate refused the call before any attempt.
	KindServiceUnavailable Kind = "service_unavailable"
	// KindUnauthorized: credentials missing, expired, or rejected with 401/403.
	KindUnauthorized Kind = "unauthorized"
	// KindValidation: rejected locally before reaching the network.
	KindValidation Kind = "validation"
)

// Retryable reports whether the attempt loop may try again after this kind.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindTimeout
}

// FetchError is the classified failure of a REST call.
type FetchError struct {
	Kind Kind

	// Status is the HTTP status for server_error and unauthorized responses.
	Status int

	// Message is the server's message, or a local description.
	Message string

	// Attempts is how many network attempts were made (0 when pre-empted).
	Attempts int

	// Err is the underlying transport or decode error, if any.
	Err error
}

// Sentinels for errors.Is. A FetchError matches a sentinel with the same Kind.
var (
	ErrNetwork            = &FetchError{Kind: KindNetwork}
	ErrTimeout            = &FetchError{Kind: KindTimeout}
	ErrServerError        = &FetchError{Kind: KindServerError}
	ErrServiceUnavailable = &FetchError{Kind: KindServiceUnavailable}
	ErrUnauthorized       = &FetchError{Kind: KindUnauthorized}
	ErrValidation         = &FetchError{Kind: KindValidation}
)

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Status != 0 && e.Attempts > 1:
		return fmt.Sprintf("%s: http %d: %s (after %d attempts)", e.Kind, e.Status, msg, e.Attempts)
	case e.Status != 0:
		return fmt.Sprintf("%s: http %d: %s", e.Kind, e.Status, msg)
	case e.Attempts > 1:
		return fmt.Sprintf("%s: %s (after %d attempts)", e.Kind, msg, e.Attempts)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches sentinels by Kind.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

// KindOf extracts the Kind of a FetchError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a FetchError of kind k.
func IsKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// NewValidationError builds a local validation failure.
func NewValidationError(format string, args ...any) *FetchError {
	return &FetchError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewServiceUnavailable builds the health-gate refusal.
func NewServiceUnavailable() *FetchError {
	return &FetchError{Kind: KindServiceUnavailable, Message: "service unavailable: health check failing"}
}
