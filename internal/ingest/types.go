// Package ingest implements the multi-format record ingestion and export
// engine for network device imports. It accepts uploaded files of unknown
// format (delimited text, xlsx spreadsheets, JSON documents), detects the
// format from content rather than client metadata, validates every record
// against the canonical device schema, and processes input either as a whole
// buffer or as a bounded-memory stream with progress reporting and resource
// safety limits.
//
// This package has no HTTP or persistence dependencies and can be driven by
// any frontend.
package ingest

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies a supported input file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"

	// FormatUnknown means detection failed. Callers must treat this as a
	// hard validation error, never as a default.
	FormatUnknown Format = ""
)

// ParseFormat converts a user-supplied format name to a known Format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, true
	case "xlsx", "excel":
		return FormatXLSX, true
	case "json":
		return FormatJSON, true
	}
	return FormatUnknown, false
}

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Machine-readable codes attached to every validation and processing error.
const (
	CodeRequiredFieldMissing  = "REQUIRED_FIELD_MISSING"
	CodeInvalidIPAddress      = "INVALID_IP_ADDRESS"
	CodeInvalidMACAddress     = "INVALID_MAC_ADDRESS"
	CodeInvalidJSONSyntax     = "INVALID_JSON_SYNTAX"
	CodeInvalidJSONStructure  = "INVALID_JSON_STRUCTURE"
	CodeNoDataRecords         = "NO_DATA_RECORDS"
	CodeEmptyFile             = "EMPTY_FILE"
	CodeFileTooLarge          = "FILE_TOO_LARGE"
	CodeFormatDetectionFailed = "FORMAT_DETECTION_FAILED"
	CodeErrorThreshold        = "ERROR_THRESHOLD_EXCEEDED"
	CodeMemoryLimit           = "MEMORY_LIMIT_EXCEEDED"
	CodeRowProcessingError    = "ROW_PROCESSING_ERROR"
	CodeRecordProcessingError = "RECORD_PROCESSING_ERROR"
	CodeUnsafeFilename        = "UNSAFE_FILENAME"
	CodeSuspiciousContent     = "SUSPICIOUS_CONTENT"
	CodeNestingTooDeep        = "NESTING_TOO_DEEP"
	CodeMIMEMismatch          = "MIME_MISMATCH"
	CodeEncodingUncertain     = "ENCODING_UNCERTAIN"
	CodeMalformedContainer    = "MALFORMED_CONTAINER"
	CodeSheetNotFound         = "SHEET_NOT_FOUND"
	CodeMaxRecordsTruncated   = "MAX_RECORDS_TRUNCATED"
	CodeLargeFileWarning      = "LARGE_FILE_WARNING"
	CodeUnknownEnumValue      = "UNKNOWN_ENUM_VALUE"
	CodeOperationCancelled    = "OPERATION_CANCELLED"
)

// FileMetadata describes an uploaded file as reported by the transport.
// It is supplied by the caller and never trusted on its own for format
// decisions; content always wins.
type FileMetadata struct {
	FileName     string
	MIMEType     string // declared by the client, verified against detection
	SizeBytes    int64
	EncodingHint string
	UploadedAt   time.Time
}

// FieldType is the expected data type for a field definition.
type FieldType string

const (
	FieldText   FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "boolean"
	FieldDate   FieldType = "date"
	FieldEmail  FieldType = "email"
	FieldIP     FieldType = "ip"
	FieldMAC    FieldType = "mac"
)

// FieldDefinition describes one field of an import schema. Definitions drive
// both record validation and template generation.
type FieldDefinition struct {
	Name       string    `yaml:"name"`
	Type       FieldType `yaml:"type"`
	Required   bool      `yaml:"required"`
	Example    string    `yaml:"example,omitempty"`
	EnumValues []string  `yaml:"enum,omitempty"`
}

// ValidationError is a single validation finding for a field or a file.
// Instances are immutable once created.
type ValidationError struct {
	Field    string   `json:"field,omitempty"`
	Value    string   `json:"value,omitempty"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s [%s]", e.Field, e.Message, e.Code)
	}
	return fmt.Sprintf("%s [%s]", e.Message, e.Code)
}

// IsError reports whether the finding is error severity (as opposed to a
// warning that still lets the record through).
func (e ValidationError) IsError() bool {
	return e.Severity == SeverityError
}

// Result is the outcome of processing a single input record.
//
// Invariant: Success is true iff Errors contains no error-severity entries.
// Raw always carries the original input fields so callers can report failed
// records without re-parsing the file.
type Result struct {
	Index    int               `json:"recordIndex"` // 1-based input position
	Success  bool              `json:"success"`
	Device   *Device           `json:"device,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
	Raw      map[string]any    `json:"rawInput,omitempty"`
}

// BatchResult aggregates processing of one finite input.
//
// Invariant: ValidRecords + InvalidRecords == TotalRecords, unless Truncated
// is set, in which case a MAX_RECORDS_TRUNCATED warning documents the cutoff.
type BatchResult struct {
	Success        bool              `json:"success"`
	TotalRecords   int               `json:"totalRecords"`
	ValidRecords   int               `json:"validRecords"`
	InvalidRecords int               `json:"invalidRecords"`
	Truncated      bool              `json:"truncated,omitempty"`
	Results        []Result          `json:"results"`
	Errors         []ValidationError `json:"errors,omitempty"`
	Warnings       []ValidationError `json:"warnings,omitempty"`
	Duration       time.Duration     `json:"-"`
	DurationMS     int64             `json:"processingTimeMs"`
	PeakMemoryMB   float64           `json:"peakMemoryMB"`
}

// StreamStats is a point-in-time snapshot of a streaming operation.
// The supervisor owns the live counters; consumers always receive copies.
type StreamStats struct {
	RecordsProcessed int     `json:"recordsProcessed"`
	RecordsValid     int     `json:"recordsValid"`
	RecordsInvalid   int     `json:"recordsInvalid"`
	MemoryMB         float64 `json:"currentMemoryUsageMB"`
	RecordsPerSecond float64 `json:"processingRatePerSecond"`
}

// ProgressFunc receives periodic StreamStats snapshots during streaming.
type ProgressFunc func(StreamStats)

// SinkFunc receives each produced Result during streaming, in input order.
// Returning an error stops the stream; the adapter will not read further
// input, which gives natural backpressure.
type SinkFunc func(Result) error
