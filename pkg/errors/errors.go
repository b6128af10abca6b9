package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")

	// ErrNoSession is returned when a profile operation is attempted without
	// an active session. This is a contract violation by the caller, not a
	// recoverable runtime condition.
	ErrNoSession = errors.New("no active session")

	// ErrDraftClosed is returned by sync engine operations after Close.
	ErrDraftClosed = errors.New("profile draft is closed")
)

// AuthKind categorizes authentication failures. Provider-specific error
// codes are mapped into this taxonomy in exactly one place (the identity
// gateway) so that provider details never leak into callers.
type AuthKind string

const (
	AuthInvalidCredential AuthKind = "invalid_credential"
	AuthAccountExists     AuthKind = "account_exists"
	AuthWeakSecret        AuthKind = "weak_secret"
	AuthPopupClosed       AuthKind = "popup_closed"
	AuthRateLimited       AuthKind = "rate_limited"
	AuthSignOutFailed     AuthKind = "sign_out_failed"
	AuthUnknown           AuthKind = "unknown"
)

// AuthError is a normalized authentication failure.
type AuthError struct {
	Kind    AuthKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("auth %s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates an AuthError with the given kind and message.
func NewAuthError(kind AuthKind, message string) *AuthError {
	return &AuthError{Kind: kind, Message: message}
}

// WrapAuth wraps a provider error into an AuthError of the given kind.
func WrapAuth(kind AuthKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

// AuthKindOf returns the AuthKind of err, or AuthUnknown if err is not an
// AuthError.
func AuthKindOf(err error) AuthKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return AuthUnknown
}

// WriteKind categorizes document store write failures.
type WriteKind string

const (
	WritePermissionDenied WriteKind = "permission_denied"
	WriteNetwork          WriteKind = "network"
	WriteUnknown          WriteKind = "unknown"
)

// WriteError is a failed write-through to the document store. Fields lists
// the field names that were attempted and remain unpersisted, so a caller
// can resend exactly the unwritten subset.
type WriteError struct {
	Kind   WriteKind
	Fields []string
	Err    error
}

func (e *WriteError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("write %s: fields [%s]: %v", e.Kind, strings.Join(e.Fields, ", "), e.Err)
	}
	return fmt.Sprintf("write %s: %v", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewWriteError creates a WriteError with the given kind and failed fields.
func NewWriteError(kind WriteKind, fields []string, err error) *WriteError {
	return &WriteError{Kind: kind, Fields: fields, Err: err}
}

// ValidationError reports field-level validation failures. Keys are field
// names, values are validation codes. It is produced locally and
// synchronously; it never reflects a network round trip.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, code := range e.Fields {
		parts = append(parts, field+": "+code)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError creates a ValidationError from a field-to-code map.
func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// SubscriptionError is delivered on the subscription error channel when a
// live document subscription breaks. It is non-fatal: the last good draft
// remains usable, but no further remote updates arrive until the draft is
// reloaded.
type SubscriptionError struct {
	UserID string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription for user %s: %v", e.UserID, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var ae *AuthError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case AuthInvalidCredential:
			return http.StatusUnauthorized
		case AuthAccountExists:
			return http.StatusConflict
		case AuthWeakSecret, AuthPopupClosed:
			return http.StatusBadRequest
		case AuthRateLimited:
			return http.StatusTooManyRequests
		default:
			return http.StatusInternalServerError
		}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}

	var we *WriteError
	if errors.As(err, &we) {
		if we.Kind == WritePermissionDenied {
			return http.StatusForbidden
		}
		return http.StatusBadGateway
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoSession):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for the given error, used in
// HTTP error envelopes.
func Code(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return "AUTH_" + strings.ToUpper(string(ae.Kind))
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return "VALIDATION_FAILED"
	}

	var we *WriteError
	if errors.As(err, &we) {
		return "WRITE_" + strings.ToUpper(string(we.Kind))
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoSession):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL_ERROR"
	}
}
