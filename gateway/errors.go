package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every failure the gateway reports.
type Kind string

const (
	KindUnauthorized          Kind = "Unauthorized"
	KindInvalidCredentials    Kind = "InvalidCredentials"
	KindUpstreamProtocol      Kind = "UpstreamProtocolError"
	KindUpstreamUnavailable   Kind = "UpstreamUnavailable"
	KindNotFound              Kind = "NotFound"
	KindForbidden             Kind = "Forbidden"
	KindConflict              Kind = "Conflict"
	KindNoMatchingDatasource  Kind = "NoMatchingDatasource"
	KindValidation            Kind = "ValidationError"
	KindSessionTeardownFailed Kind = "SessionTeardownFailed"
	KindSessionStore          Kind = "SessionStoreUnavailable"
)

// Sentinels for errors.Is; any *Error of the same Kind matches.
var (
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials}
	ErrUpstreamProtocol      = &Error{Kind: KindUpstreamProtocol}
	ErrUpstreamUnavailable   = &Error{Kind: KindUpstreamUnavailable}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrForbidden             = &Error{Kind: KindForbidden}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrNoMatchingDatasource  = &Error{Kind: KindNoMatchingDatasource}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrSessionTeardownFailed = &Error{Kind: KindSessionTeardownFailed}
	ErrSessionStore          = &Error{Kind: KindSessionStore}
)

// Error is the structured failure returned by every gateway operation.
type Error struct {
	Kind Kind
	// Op names the gateway operation, e.g. "get_dashboard".
	Op string
	// Status is the upstream HTTP status, 0 when no response was received.
	Status  int
	Message string
	// Body is the upstream response body when it was JSON.
	Body json.RawMessage
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "gateway: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// HTTPStatus is the status the gateway's callers should answer with.
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

// StatusFor maps a Kind to an HTTP status.
func StatusFor(k Kind) int {
	switch k {
	case KindUnauthorized, KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound, KindNoMatchingDatasource:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamProtocol:
		return http.StatusBadGateway
	case KindSessionStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the Kind of err, or "" when err is not a gateway error.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// kindForStatus maps a non-2xx upstream status onto the taxonomy.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return KindConflict
	case status >= 500:
		return KindUpstreamUnavailable
	default:
		return KindUpstreamProtocol
	}
}

// fromResponse builds the error for a non-2xx upstream answer, keeping the
// upstream message and body when present.
func fromResponse(op string, status int, body []byte) *Error {
	e := &Error{Kind: kindForStatus(status), Op: op, Status: status}
	if json.Valid(body) {
		e.Body = json.RawMessage(body)
		var msg struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &msg); err == nil {
			e.Message = firstNonEmpty(msg.Message, msg.Error)
		}
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("upstream answered %d %s", status, http.StatusText(status))
	}
	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
