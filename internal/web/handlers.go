package web

// handlers.go implements the import API: buffered and streaming import,
// template download, device export, and the streaming operation registry.
//
// Buffered imports accept multipart form uploads (field "file") or a raw
// body. Streaming imports take a raw body and write newline-delimited JSON
// back: one object per record result, then a final summary object.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netgrid/cmdb/internal/ingest"
)

const multipartMemoryLimit = 10 << 20 // form parsing buffer, not the file cap

// handleHealth reports liveness plus the limiter's current load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.limiter.Status(),
	})
}

// baseOptions translates server configuration into processing options.
func (s *Server) baseOptions() ingest.Options {
	return ingest.Options{
		MaxFileSize:      s.cfg.Ingest.MaxFileSize,
		MaxRecords:       s.cfg.Ingest.MaxRecords,
		BatchSize:        s.cfg.Ingest.BatchSize,
		ErrorThreshold:   s.cfg.Ingest.ErrorThreshold,
		MemoryLimitMB:    s.cfg.Ingest.MemoryLimitMB,
		ProgressInterval: s.cfg.Ingest.ProgressInterval,
		Fields:           s.fields,
	}
}

// parseOptions layers per-request query parameters over the configured
// defaults.
func (s *Server) parseOptions(r *http.Request) (ingest.Options, error) {
	opts := s.baseOptions()
	q := r.URL.Query()

	if v := q.Get("delimiter"); v != "" {
		runes := []rune(v)
		if len(runes) != 1 {
			return opts, fmt.Errorf("delimiter must be a single character, got %q", v)
		}
		opts.CSV.Delimiter = runes[0]
	}
	if v := q.Get("sheet"); v != "" {
		opts.XLSX.SheetName = v
	}
	if v := q.Get("sheetIndex"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("invalid sheetIndex %q", v)
		}
		opts.XLSX.SheetIndex = n
	}
	if v := q.Get("headerRow"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("invalid headerRow %q", v)
		}
		opts.XLSX.HeaderRow = n
	}
	if v := q.Get("arrayPath"); v != "" {
		opts.JSON.ArrayPath = v
	}
	if v := q.Get("strict"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid strict value %q", v)
		}
		opts.JSON.Strict = b
	}
	if v := q.Get("maxRecords"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid maxRecords %q", v)
		}
		opts.MaxRecords = n
	}
	if v := q.Get("encoding"); v != "" {
		opts.Encoding = v
	}

	return opts, opts.Validate()
}

// uploadMetadata builds file metadata from the request. The declared MIME
// type and filename are client input; detection never trusts them alone.
func uploadMetadata(r *http.Request, name, mimeType string, size int64) ingest.FileMetadata {
	if name == "" {
		name = r.Header.Get("X-File-Name")
	}
	if name == "" {
		name = r.URL.Query().Get("filename")
	}
	if mimeType == "" {
		mimeType = r.Header.Get("Content-Type")
	}
	return ingest.FileMetadata{
		FileName:   name,
		MIMEType:   mimeType,
		SizeBytes:  size,
		UploadedAt: time.Now(),
	}
}

// readUpload extracts the uploaded file bytes: a multipart "file" field when
// present, otherwise the raw request body. Size is capped at the configured
// maximum.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, ingest.FileMetadata, error) {
	limit := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+1)

	ct := r.Header.Get("Content-Type")
	if len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
			return nil, ingest.FileMetadata{}, fmt.Errorf("parse upload form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, ingest.FileMetadata{}, fmt.Errorf("missing file field: %w", err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, ingest.FileMetadata{}, fmt.Errorf("read upload: %w", err)
		}
		meta := uploadMetadata(r, header.Filename, header.Header.Get("Content-Type"), int64(len(data)))
		return data, meta, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, ingest.FileMetadata{}, fmt.Errorf("read upload: %w", err)
	}
	meta := uploadMetadata(r, "", "", int64(len(data)))
	return data, meta, nil
}

// handleImport runs the buffered pipeline and returns the full BatchResult,
// including per-record outcomes.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.Acquire(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	opts, err := s.parseOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OPTIONS", err.Error())
		return
	}

	data, meta, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Ingest.Timeout)
	defer cancel()

	result, err := s.factory.Process(ctx, data, meta, opts)
	if err != nil {
		if result == nil {
			s.respondError(w, r, err)
			return
		}
		// Partial results stay valid on abort; return them with the failure
		// status so the client sees both.
		status, _ := classifyError(err)
		writeJSON(w, status, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// streamLine is one newline-delimited JSON object in a streaming response.
type streamLine struct {
	Operation string              `json:"operation,omitempty"`
	Record    *ingest.Result      `json:"record,omitempty"`
	Progress  *ingest.StreamStats `json:"progress,omitempty"`
	Summary   *ingest.BatchResult `json:"summary,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// handleImportStream processes a raw upload incrementally, writing one JSON
// line per record as it is validated. The first line carries the operation
// ID so a second client can poll or cancel; the last line is the summary.
func (s *Server) handleImportStream(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.Acquire(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	opts, err := s.parseOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OPTIONS", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Ingest.Timeout)
	defer cancel()

	meta := uploadMetadata(r, "", "", r.ContentLength)
	op, err := s.factory.StartStream(ctx, meta, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OPTIONS", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	if err := enc.Encode(streamLine{Operation: op.ID()}); err != nil {
		// The client is already gone; cancel so the run aborts immediately
		// and the operation still reaches a terminal state.
		op.Cancel()
	}
	flusher.Flush()

	body := http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxFileSize+1)
	sink := func(res ingest.Result) error {
		if err := enc.Encode(streamLine{Record: &res}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	progress := func(stats ingest.StreamStats) {
		// A write failure here surfaces on the next record line.
		if enc.Encode(streamLine{Progress: &stats}) == nil {
			flusher.Flush()
		}
	}

	result, err := s.factory.Run(op, body, meta, opts, sink, progress)
	line := streamLine{Summary: result}
	if err != nil {
		line.Error = err.Error()
	}
	if err := enc.Encode(line); err != nil {
		return
	}
	flusher.Flush()
}

// handleTemplate serves a downloadable one-example-row file in the requested
// format.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	format, ok := ingest.ParseFormat(chi.URLParam(r, "format"))
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_FORMAT", "unknown template format")
		return
	}

	opts, err := s.parseOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OPTIONS", err.Error())
		return
	}

	data, err := s.factory.Template(format, s.fields, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", formatContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "device_template."+string(format)))
	w.Write(data)
}

// handleExport renders posted devices in the requested format. The body is a
// JSON array of device objects.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, ok := ingest.ParseFormat(chi.URLParam(r, "format"))
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_FORMAT", "unknown export format")
		return
	}

	opts, err := s.parseOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OPTIONS", err.Error())
		return
	}

	var devices []ingest.Device
	if err := json.NewDecoder(r.Body).Decode(&devices); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "body must be a JSON array of devices")
		return
	}

	data, err := s.factory.Export(format, devices, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", formatContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "devices."+string(format)))
	w.Write(data)
}

// handleFormats lists the registered import formats.
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"formats": s.factory.Formats()})
}

// handleFields returns the effective device schema.
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	fields := s.fields
	if len(fields) == 0 {
		fields = ingest.DeviceFields()
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

// handleListOperations returns snapshots of all registered streaming
// operations.
func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.factory.Operations()})
}

// handleGetOperation returns one operation's snapshot, with the final result
// once it is terminal.
func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, ok := s.factory.Operation(chi.URLParam(r, "operationID"))
	if !ok {
		writeError(w, http.StatusNotFound, "OPERATION_NOT_FOUND", "no such operation")
		return
	}

	resp := map[string]any{"operation": op.Snapshot()}
	if result, done, opErr := op.Result(); done {
		resp["result"] = result
		if opErr != nil {
			resp["error"] = opErr.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancelOperation requests cancellation of one operation.
func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operationID")
	if !s.factory.Cancel(id) {
		writeError(w, http.StatusNotFound, "OPERATION_NOT_FOUND", "no such operation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"cancelled": id})
}

// handleForgetOperation drops a finished operation from the registry.
func (s *Server) handleForgetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operationID")
	if !s.factory.Forget(id) {
		writeError(w, http.StatusConflict, "OPERATION_ACTIVE", "operation not found or still running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelAll requests cancellation of every active operation.
func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	n := s.factory.CancelAll()
	writeJSON(w, http.StatusAccepted, map[string]any{"cancelled": n})
}

// handleStats returns cumulative per-format adapter statistics and limiter
// load.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]ingest.ProcessorStats)
	for _, format := range s.factory.Formats() {
		proc, err := s.factory.Processor(format)
		if err != nil {
			continue
		}
		stats[string(format)] = proc.Stats()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processors": stats,
		"imports":    s.limiter.Status(),
	})
}

// formatContentType maps a format to its download content type.
func formatContentType(format ingest.Format) string {
	switch format {
	case ingest.FormatCSV:
		return "text/csv; charset=utf-8"
	case ingest.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ingest.FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
