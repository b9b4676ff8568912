// Package errs defines the stable error codes surfaced by the core, each
// carrying the HTTP status spec.md §7 assigns it, generalized from the
// teacher's MapStoreError/HandleStoreError two-step "classify then write"
// pattern into a typed sentinel with a Code() method instead of a switch
// over model-specific sentinels.
package errs

import "net/http"

// Error is a structured {code, message} error with an associated HTTP
// status.
type Error struct {
	code    string
	status  int
	message string
	err     error
}

func (e *Error) Error() string {
	if e.message != "" {
		return e.code + ": " + e.message
	}
	return e.code
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// Code returns the stable error code clients branch on.
func (e *Error) Code() string { return e.code }

// HTTPStatus returns the HTTP status this error maps to.
func (e *Error) HTTPStatus() int { return e.status }

// Message returns the human-readable detail, which may be empty.
func (e *Error) Message() string { return e.message }

// statusByCode is the fixed mapping from spec.md §7's error kinds to HTTP
// status. Codes not listed here default to 500 in New.
var statusByCode = map[string]int{
	// Admission
	"banned":          http.StatusForbidden,
	"invalid_ip":      http.StatusForbidden,
	"busy":            http.StatusServiceUnavailable,
	"upload_capacity": http.StatusServiceUnavailable,
	"file_limit":      http.StatusTooManyRequests,
	"rate_limited":    http.StatusTooManyRequests,
	"quota":           http.StatusInsufficientStorage,

	// Validation
	"empty":        http.StatusBadRequest,
	"too_large":    http.StatusRequestEntityTooLarge,
	"chunk_layout": http.StatusBadRequest,
	"chunk_index":  http.StatusBadRequest,
	"chunk_size":   http.StatusBadRequest,
	"bad_file":     http.StatusBadRequest,
	"bad_filetype": http.StatusBadRequest,
	"no_files":     http.StatusBadRequest,
	"missing":      http.StatusBadRequest,
	"invalid":      http.StatusBadRequest,

	// Session lifecycle
	"chunk_session": http.StatusNotFound,
	"not_owner":     http.StatusForbidden,
	"completed":     http.StatusBadRequest,
	"incomplete":    http.StatusBadRequest,
	"hash_mismatch": http.StatusBadRequest,

	// Storage
	"chunk_dir":     http.StatusInternalServerError,
	"chunk_write":   http.StatusInternalServerError,
	"chunk_missing": http.StatusInternalServerError,
	"chunk_read":    http.StatusInternalServerError,
	"final_create":  http.StatusInternalServerError,
	"write":         http.StatusInternalServerError,
	"move":          http.StatusInternalServerError,
	"flush":         http.StatusInternalServerError,
	"fs_error":      http.StatusInternalServerError,

	// Admin
	"not_admin":   http.StatusForbidden,
	"no_key":      http.StatusUnauthorized,
	"invalid_key": http.StatusUnauthorized,

	// Fetch/delete/bad-name path
	"not_found": http.StatusNotFound,
	"duplicate": http.StatusConflict,
}

// New constructs an *Error for code with an optional human message. The
// HTTP status is looked up from the fixed table; unknown codes map to 500.
func New(code, message string) *Error {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{code: code, status: status, message: message}
}

// Wrap is New with an underlying cause attached for errors.Is/As and
// logging, without leaking the cause into the client-facing message.
func Wrap(code, message string, err error) *Error {
	e := New(code, message)
	e.err = err
	return e
}

// Is reports whether err is an *Error with the given code. It lets callers
// write `errs.Is(err, "not_owner")` instead of a type assertion.
func Is(err error, code string) bool {
	var e *Error
	if as(err, &e) {
		return e.code == code
	}
	return false
}

// as is a tiny local shim to avoid importing "errors" purely for the one
// As call used by Is; kept private since callers should use errors.As
// directly when they need the full *Error.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
