package ingest

// options.go defines the per-operation option structs.
//
// Options common to every format live on Options itself; format-specific
// knobs live in dedicated sub-structs so each adapter only sees settings that
// mean something for its format. Everything is validated up front by
// Validate, not at first use.

import (
	"fmt"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultMaxFileSize      = 100 * 1024 * 1024 // 100 MB
	DefaultBatchSize        = 1000
	DefaultErrorThreshold   = 100
	DefaultMemoryLimitMB    = 512
	DefaultProgressInterval = 1000

	// LargeFileWarningSize is the size above which the validation gate adds
	// a LARGE_FILE_WARNING without blocking processing.
	LargeFileWarningSize = 50 * 1024 * 1024
)

// CSVOptions holds settings meaningful only to the delimited-text adapter.
type CSVOptions struct {
	// Delimiter overrides delimiter sniffing. Zero means auto-detect among
	// comma, semicolon and tab.
	Delimiter rune
}

// XLSXOptions holds settings meaningful only to the spreadsheet adapter.
type XLSXOptions struct {
	// SheetName selects a sheet by name. Takes precedence over SheetIndex.
	SheetName string
	// SheetIndex selects a sheet by position (0-based). Default: first sheet.
	SheetIndex int
	// HeaderRow is the 0-based row containing column headers. Default: 0.
	HeaderRow int
}

// JSONOptions holds settings meaningful only to the structured-text adapter.
type JSONOptions struct {
	// ArrayPath is a dot-separated path to the record array inside a
	// top-level object, e.g. "data.devices". Empty means the document root
	// must be an array, or one of the conventional wrapper keys is probed.
	ArrayPath string
	// Strict rejects documents whose records are not objects instead of
	// reporting them as per-record errors.
	Strict bool
}

// Options configures one processing operation.
type Options struct {
	MaxFileSize int64 // bytes; 0 means DefaultMaxFileSize
	MaxRecords  int   // 0 means unlimited; exceeding it truncates with a warning
	Encoding    string

	BatchSize        int
	ErrorThreshold   int
	MemoryLimitMB    int
	ProgressInterval int

	// Fields overrides the canonical device schema for validation and
	// template generation. Nil means DeviceFields().
	Fields []FieldDefinition

	// Shape overrides the record shape checker. Nil means the built-in
	// field-by-field device checker.
	Shape ShapeChecker

	CSV  CSVOptions
	XLSX XLSXOptions
	JSON JSONOptions
}

// withDefaults returns a copy with zero values replaced by defaults.
func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ErrorThreshold <= 0 {
		o.ErrorThreshold = DefaultErrorThreshold
	}
	if o.MemoryLimitMB <= 0 {
		o.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	return o
}

// Validate rejects option combinations that would only fail later, deep in
// processing.
func (o Options) Validate() error {
	if o.MaxFileSize < 0 {
		return fmt.Errorf("maxFileSize must be non-negative, got %d", o.MaxFileSize)
	}
	if o.MaxRecords < 0 {
		return fmt.Errorf("maxRecords must be non-negative, got %d", o.MaxRecords)
	}
	if o.ErrorThreshold < 0 {
		return fmt.Errorf("errorThreshold must be non-negative, got %d", o.ErrorThreshold)
	}
	if o.MemoryLimitMB < 0 {
		return fmt.Errorf("memoryLimitMB must be non-negative, got %d", o.MemoryLimitMB)
	}
	if o.ProgressInterval < 0 {
		return fmt.Errorf("progressInterval must be non-negative, got %d", o.ProgressInterval)
	}
	if o.XLSX.SheetIndex < 0 {
		return fmt.Errorf("sheetIndex must be non-negative, got %d", o.XLSX.SheetIndex)
	}
	if o.XLSX.HeaderRow < 0 {
		return fmt.Errorf("headerRow must be non-negative, got %d", o.XLSX.HeaderRow)
	}
	switch o.CSV.Delimiter {
	case 0, ',', ';', '\t', '|':
	default:
		return fmt.Errorf("unsupported delimiter %q", o.CSV.Delimiter)
	}
	return nil
}

// fields returns the effective field definitions for this operation.
func (o Options) fields() []FieldDefinition {
	if len(o.Fields) > 0 {
		return o.Fields
	}
	return DeviceFields()
}

// shape returns the effective shape checker for this operation.
func (o Options) shape() ShapeChecker {
	if o.Shape != nil {
		return o.Shape
	}
	return defaultShapeChecker
}
