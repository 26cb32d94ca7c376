// Package errors defines the error taxonomy of spec §7 as a tagged-variant
// type, generalizing the teacher's single-purpose appErrors.ErrCampaignNotFound
// sentinel into a uniform value used across the Upstream Client, Dispatcher,
// Webhook Ingestor and Campaign Executor.
package errors

import "fmt"

// Kind is one row of the taxonomy table in spec §7.
type Kind string

const (
	KindInvalidCommand    Kind = "invalid_command"
	KindRateLimited       Kind = "rate_limited"
	KindTransientUpstream Kind = "transient_upstream"
	KindPermanentUpstream Kind = "permanent_upstream"
	KindAuthExpired       Kind = "auth_expired"
	KindCancelled         Kind = "cancelled"
	KindDedupeSkip        Kind = "dedupe_skip"
	KindBadSignature      Kind = "bad_signature"
	KindBadPayload        Kind = "bad_payload"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
)

// Error is the core's uniform error value. Code carries an upstream-specific
// error code when one exists (e.g. a Meta Graph API error code).
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

// WithCode attaches an upstream error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithRetryable marks whether the dispatcher should reschedule on this error.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NotFound is a convenience constructor mirroring the teacher's
// NewCampaignNotFound but generalized to any entity.
func NotFound(entity, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %s not found", entity, id))
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
