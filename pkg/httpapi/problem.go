// Package httpapi is the thin HTTP transport over pkg/juicebox.Service: a
// chi router plus handlers that do request parsing and response encoding
// only. Every admission, quota, and storage decision is made by Service.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/marmos91/juicebox/internal/logger"
)

// Problem is an RFC 7807 problem-details response extended with a stable
// machine-readable code, the field clients branch on (spec §7).
type Problem struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response carrying code.
func WriteProblem(w http.ResponseWriter, status int, title, detail, code string) {
	problem := &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   code,
	}
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes the appropriate problem response for err: an
// *errs.Error (or anything promoting its Code()/HTTPStatus()/Message()
// methods, e.g. chunkupload/singleupload's DuplicateError) maps directly;
// anything else is an unclassified 500.
func WriteError(w http.ResponseWriter, err error) {
	type classified interface {
		Code() string
		HTTPStatus() int
		Message() string
	}
	if e, ok := err.(classified); ok {
		if e.HTTPStatus() >= http.StatusInternalServerError {
			logger.Error("httpapi: request failed", logger.ErrorCode(e.Code()), logger.Err(err))
		}
		WriteProblem(w, e.HTTPStatus(), titleForStatus(e.HTTPStatus()), e.Message(), e.Code())
		return
	}
	logger.Error("httpapi: unclassified error", logger.Err(err))
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), "")
}

func titleForStatus(status int) string {
	if title := http.StatusText(status); title != "" {
		return title
	}
	return "Error"
}

// BadRequest writes a 400 problem response with no code, for transport-
// level parsing failures that never reach Service.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail, "")
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a 204 No Content response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSONBody decodes r's JSON body into v, writing a 400 on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}
