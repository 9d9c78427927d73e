// Package middleware provides HTTP middleware for the import API server.
package middleware

import (
	"net/http"
	"time"

	"github.com/netgrid/cmdb/internal/logging"
)

// Logger emits one structured log line per request: method, path, status,
// bytes written, duration, and client address. The logger comes from the
// request context so every line carries the chi request ID, which ties the
// access line to the import operation logs emitted further down the stack.
//
// Import streams hold the connection open for the whole run, so the
// duration of a stream line is the processing time, not a slow handler.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		logging.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"bytes", ww.written,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
		)
	})
}

// responseWriter records the status code and body size as they pass through.
type responseWriter struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Unwrap exposes the wrapped writer so interface checks like http.Flusher
// still reach it; the NDJSON import stream depends on flushing per line.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
