package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

const maxBodyBytes = 10 << 20

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON encodes data before touching w, so an unencodable value turns into a
// 500 instead of a truncated 200.
func JSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("encode response", "status", status, "error", err)
		status = http.StatusInternalServerError
		buf.Reset()
		buf.WriteString(`{"error":"internal server error","code":"internal"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func OK(w http.ResponseWriter, data any)      { JSON(w, http.StatusOK, data) }
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, data) }
func NoContent(w http.ResponseWriter)         { w.WriteHeader(http.StatusNoContent) }

// Error writes message with a code derived from the status text
// ("Not Found" becomes "not_found").
func Error(w http.ResponseWriter, status int, message string) {
	ErrorWithCode(w, status, statusCode(status), message, nil)
}

// ErrorWithCode writes an error with an explicit machine-readable code.
func ErrorWithCode(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

func BadRequest(w http.ResponseWriter, message string) { Error(w, http.StatusBadRequest, message) }
func NotFound(w http.ResponseWriter, message string)   { Error(w, http.StatusNotFound, message) }

// Conflict reports an operation the resource's current state does not allow.
func Conflict(w http.ResponseWriter, message string, details any) {
	ErrorWithCode(w, http.StatusConflict, "invalid_transition", message, details)
}

// InternalError logs err under a fresh error id and returns only that id to
// the client.
func InternalError(w http.ResponseWriter, err error) {
	id := uuid.NewString()
	logger.Error("internal error", "error_id", id, "error", err)
	ErrorWithCode(w, http.StatusInternalServerError, "internal", "internal server error",
		map[string]string{"error_id": id})
}

// Decode reads exactly one JSON value from the body into dst. On failure it
// writes a 400 and returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decode(w, r, dst, false)
}

// DecodeOptional is Decode for bodies the caller may omit. An empty body,
// chunked or not, leaves dst untouched and reports success.
func DecodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decode(w, r, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return true
		}
		BadRequest(w, "request body is empty")
		return false
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	err := dec.Decode(dst)
	switch {
	case errors.Is(err, io.EOF):
		if optional {
			return true
		}
		BadRequest(w, "request body is empty")
		return false
	case err != nil:
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	case dec.More():
		BadRequest(w, "invalid JSON: unexpected data after the first value")
		return false
	}
	return true
}

func statusCode(status int) string {
	return strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
}
