package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind classifies framework errors so middleware can react without
// inspecting concrete types.
type Kind int

const (
	KindEngine Kind = iota
	KindNotFound
	KindMethodNotAllowed
	KindValidation
	KindConfiguration
	KindLockTimeout
	KindBridgeDecode
	KindTransport
)

// Error represents an error that can be returned to clients.
type Error struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	kind       Kind
	underlying error
}

func (e *Error) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.underlying
}

// Kind returns the error classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// WriteJSON writes the error as JSON to the response.
// For base errors (no details/requestID), uses pre-serialized JSON to avoid allocations.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrNotFound = &Error{
		Code:    http.StatusNotFound,
		Message: "Not Found",
		kind:    KindNotFound,
	}

	ErrMethodNotAllowed = &Error{
		Code:    http.StatusMethodNotAllowed,
		Message: "Method Not Allowed",
		kind:    KindMethodNotAllowed,
	}

	ErrForbidden = &Error{
		Code:    http.StatusForbidden,
		Message: "Forbidden",
	}

	ErrTooManyRequests = &Error{
		Code:    http.StatusTooManyRequests,
		Message: "Too Many Requests",
	}

	ErrGatewayTimeout = &Error{
		Code:    http.StatusGatewayTimeout,
		Message: "Gateway Timeout",
	}

	ErrBadRequest = &Error{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrInternalServer = &Error{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}

	ErrLockTimeout = &Error{
		Code:    http.StatusConflict,
		Message: "Lock Timeout",
		kind:    KindLockTimeout,
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*Error][]byte

func init() {
	bases := []*Error{
		ErrNotFound, ErrMethodNotAllowed, ErrForbidden,
		ErrTooManyRequests, ErrGatewayTimeout, ErrBadRequest,
		ErrInternalServer, ErrLockTimeout,
	}
	preSerialized = make(map[*Error][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new engine error with an explicit status code.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		kind:    KindEngine,
	}
}

// NewKind creates a new error with an explicit kind.
func NewKind(kind Kind, code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		kind:    kind,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, code int, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		kind:       KindEngine,
		underlying: err,
	}
}

// WrapKind wraps an error under a specific kind.
func WrapKind(err error, kind Kind, code int, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		kind:       kind,
		underlying: err,
	}
}

// Configuration creates a configuration error. Configuration errors are
// raised at engine build or driver resolve time and are never masked.
func Configuration(format string, args ...any) *Error {
	return &Error{
		Code:    http.StatusInternalServerError,
		Message: fmt.Sprintf(format, args...),
		kind:    KindConfiguration,
	}
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	fe, ok := AsError(err)
	return ok && fe.kind == KindConfiguration
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details string) *Error {
	return &Error{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		RequestID:  e.RequestID,
		kind:       e.kind,
		underlying: e.underlying,
	}
}

// WithRequestID adds a request ID to the error.
func (e *Error) WithRequestID(requestID string) *Error {
	return &Error{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  requestID,
		kind:       e.kind,
		underlying: e.underlying,
	}
}

// AsError checks if an error is a framework *Error.
func AsError(err error) (*Error, bool) {
	if fe, ok := err.(*Error); ok {
		return fe, true
	}
	return nil, false
}
