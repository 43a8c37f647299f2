package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mortal-core/internal/auth"
	"github.com/nerrad567/mortal-core/internal/menu"
)

// Business codes carried in every response envelope.
const (
	CodeOperationSuccess     = 1001
	CodeOperationFailed      = 9001
	CodeDataValidationFailed = 9002
	CodeDataNotFound         = 9003
	CodePermissionDenied     = 9004
	CodeSystemError          = 9005
	CodeServiceUnavailable   = 9006
)

// errUnavailable marks a feature whose backing dependency is not configured.
var errUnavailable = errors.New("service not configured")

// Envelope is the shape of every JSON response.
// Success is derived from the HTTP status alone.
type Envelope struct {
	Success bool              `json:"success"`
	Code    int               `json:"code"`
	Data    any               `json:"data"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// fieldErrorer is implemented by the domain validation errors.
type fieldErrorer interface {
	FieldErrors() map[string]string
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// writeSuccess wraps data in a success envelope.
func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{
		Success: isSuccess(status),
		Code:    CodeOperationSuccess,
		Data:    data,
	})
}

// writeFailure writes an error envelope. fields may be nil.
func writeFailure(w http.ResponseWriter, status, code int, message string, fields map[string]string) {
	writeJSON(w, status, Envelope{
		Success: isSuccess(status),
		Code:    code,
		Message: message,
		Errors:  fields,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusBadRequest, CodeDataValidationFailed, message, nil)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusUnauthorized, CodeOperationFailed, message, nil)
}

func writeForbidden(w http.ResponseWriter) {
	writeFailure(w, http.StatusForbidden, CodePermissionDenied, "permission denied", nil)
}

func writeInternalError(w http.ResponseWriter) {
	writeFailure(w, http.StatusInternalServerError, CodeSystemError, "internal server error", nil)
}

// writeError maps a domain error onto status, code and message.
// Anything unrecognised is logged and reported as a system error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fe fieldErrorer
	switch {
	case errors.As(err, &fe):
		writeFailure(w, http.StatusBadRequest, CodeDataValidationFailed, "validation failed", fe.FieldErrors())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "invalid username or password")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeUnauthorized(w, "invalid or expired token")
	case errors.Is(err, auth.ErrForbidden):
		writeForbidden(w)
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrRoleNotFound),
		errors.Is(err, menu.ErrNotFound):
		writeFailure(w, http.StatusNotFound, CodeDataNotFound, err.Error(), nil)
	case errors.Is(err, auth.ErrUsernameExists),
		errors.Is(err, auth.ErrRoleCodeExists),
		errors.Is(err, menu.ErrCodeExists):
		writeBadRequest(w, err.Error())
	case errors.Is(err, errUnavailable):
		writeFailure(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "service unavailable", nil)
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w)
	}
}

// decodeJSON reads the request body into v. An empty body is an error
// unless allowEmpty is set. On failure the response has been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeFailure(w, http.StatusRequestEntityTooLarge, CodeDataValidationFailed, "request body too large", nil)
		return false
	}
	writeBadRequest(w, "invalid JSON body")
	return false
}

// pathID parses the {id} URL parameter. On failure the response has been written.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}

// pageParams reads the optional size/page query parameters.
// Both are zero when size is absent or invalid.
func pageParams(r *http.Request) (size, page int) {
	q := r.URL.Query()
	size, err := strconv.Atoi(q.Get("size"))
	if err != nil || size <= 0 {
		return 0, 0
	}
	page, err = strconv.Atoi(q.Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	return size, page
}
