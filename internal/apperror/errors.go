// Package apperror defines the error taxonomy shared by every component.
// Components return *Error values (or wrap them); the HTTP boundary maps
// each Kind to exactly one status code via HTTPStatus.
package apperror

import (
    "errors"
    "fmt"
    "net/http"
)

// Kind classifies an error for the boundary mapping.
type Kind int

const (
    KindInternal Kind = iota
    KindInvalidInput
    KindAuthentication
    KindInvalidCredentials
    KindInvalidToken
    KindInvalidRefreshToken
    KindAuthorization
    KindNotFound
    KindEmailExists
    KindConflict
    KindRateLimit
    KindGateway
    KindStore
)

var kindNames = map[Kind]string{
    KindInternal:            "Internal",
    KindInvalidInput:        "InvalidInput",
    KindAuthentication:      "AuthenticationError",
    KindInvalidCredentials:  "InvalidCredentials",
    KindInvalidToken:        "InvalidToken",
    KindInvalidRefreshToken: "InvalidRefreshToken",
    KindAuthorization:       "AuthorizationError",
    KindNotFound:            "NotFound",
    KindEmailExists:         "EmailExists",
    KindConflict:            "ConflictError",
    KindRateLimit:           "RateLimitError",
    KindGateway:             "GatewayError",
    KindStore:               "StoreError",
}

func (k Kind) String() string {
    if n, ok := kindNames[k]; ok {
        return n
    }
    return fmt.Sprintf("Kind(%d)", int(k))
}

// MsgUnauthorized is the one message every authentication-adjacent failure
// carries, so callers cannot tell a bad password from an unknown account,
// an inactive account or a stale token.
const MsgUnauthorized = "invalid credentials"

// Error is the tagged error variant produced by components.
type Error struct {
    Kind    Kind
    Message string
    // DownstreamStatus is the status obtained from the downstream service,
    // zero when the transport failed before a response arrived.
    DownstreamStatus int
    // Data carries the downstream error payload, if any.
    Data any
    Err  error
}

func (e *Error) Error() string {
    if e.Err != nil {
        return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
    }
    return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, apperror.New(KindNotFound, "")) works.
func (e *Error) Is(target error) bool {
    var t *Error
    if !errors.As(target, &t) {
        return false
    }
    return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, err error) *Error {
    return &Error{Kind: kind, Message: msg, Err: err}
}

func InvalidInput(msg string) *Error { return New(KindInvalidInput, msg) }

func InvalidCredentials() *Error { return New(KindInvalidCredentials, MsgUnauthorized) }

func InvalidToken(err error) *Error { return Wrap(KindInvalidToken, MsgUnauthorized, err) }

func InvalidRefreshToken() *Error { return New(KindInvalidRefreshToken, MsgUnauthorized) }

func Unauthenticated() *Error { return New(KindAuthentication, MsgUnauthorized) }

func Forbidden() *Error { return New(KindAuthorization, "forbidden") }

func NotFound(msg string) *Error { return New(KindNotFound, msg) }

func EmailExists() *Error { return New(KindEmailExists, "email already exists") }

func Conflict(msg string, err error) *Error { return Wrap(KindConflict, msg, err) }

func RateLimited() *Error { return New(KindRateLimit, "rate limit exceeded") }

func Store(msg string, err error) *Error { return Wrap(KindStore, msg, err) }

func Internal(msg string, err error) *Error { return Wrap(KindInternal, msg, err) }

// Gateway builds a GatewayError.  status is the downstream status when one
// was obtained, otherwise zero.
func Gateway(msg string, status int, data any, err error) *Error {
    return &Error{Kind: KindGateway, Message: msg, DownstreamStatus: status, Data: data, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
    var e *Error
    if errors.As(err, &e) {
        return e.Kind
    }
    return KindInternal
}

// HTTPStatus is the single Kind → status table used at the boundary.
func HTTPStatus(kind Kind) int {
    switch kind {
    case KindInvalidInput:
        return http.StatusBadRequest
    case KindAuthentication, KindInvalidCredentials, KindInvalidToken, KindInvalidRefreshToken:
        return http.StatusUnauthorized
    case KindAuthorization:
        return http.StatusForbidden
    case KindNotFound:
        return http.StatusNotFound
    case KindEmailExists, KindConflict:
        return http.StatusConflict
    case KindRateLimit:
        return http.StatusTooManyRequests
    case KindGateway:
        return http.StatusBadGateway
    default:
        return http.StatusInternalServerError
    }
}
