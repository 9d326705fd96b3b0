package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/fault"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Codes used for failures that are not faults.
const (
	CodeInternal     = "INTERNAL"
	CodeInvalidInput = "INVALID_INPUT"
)

// statusOf maps a fault code to an HTTP status.
func statusOf(code fault.Code) int {
	switch code {
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeAmbiguousMatch, fault.CodeMalformedPayload:
		return http.StatusBadRequest
	case fault.CodeConflictingEdit:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, mimetype, body string) {
	w.Header().Set("Content-Type", mimetype)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: msg})
}

// writeFault reports err with the status its fault code maps to.
func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	if config.IsValidationError(err) {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}
	code := fault.CodeOf(err)
	status := statusOf(code)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if code == "" {
			writeError(w, status, CodeInternal, err.Error())
			return
		}
	}
	writeError(w, status, string(code), err.Error())
}
