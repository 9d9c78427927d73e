package web

// errors.go provides unified error response handling for the web layer.
//
// All API errors are logged with full technical detail server-side and
// returned to clients as JSON carrying a machine-readable code, correlated
// by request ID.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/netgrid/cmdb/internal/ingest"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError logs the technical error and writes a JSON error response
// with a status and code derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeError(w, status, code, err.Error())
}

// classifyError maps processing errors to an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrTooManyImports):
		return http.StatusServiceUnavailable, "TOO_MANY_IMPORTS"
	case errors.Is(err, ingest.ErrErrorThreshold):
		return http.StatusUnprocessableEntity, ingest.CodeErrorThreshold
	case errors.Is(err, ingest.ErrMemoryLimit):
		return http.StatusInsufficientStorage, ingest.CodeMemoryLimit
	case errors.Is(err, ingest.ErrCancelled), errors.Is(err, context.Canceled):
		return 499, ingest.CodeOperationCancelled // client closed request
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ingest.CodeOperationCancelled
	default:
		return http.StatusUnprocessableEntity, ingest.CodeRowProcessingError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
