package ingest

// json.go implements the structured-text adapter. The whole-buffer path
// decodes with sonic; the streaming path walks the document with the stdlib
// token decoder, which parses array elements incrementally so the input
// never needs to be fully resident (sonic's decoder has no token API, hence
// the split).
//
// Records live either in a top-level array, at a dot-separated ArrayPath
// inside a wrapper object, or under one of the conventional wrapper keys
// probed in order.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
)

// wrapperKeys are probed, in order, when the document root is an object and
// no ArrayPath was given.
var wrapperKeys = []string{"records", "devices", "data", "items", "rows"}

// JSONProcessor is the structured-text format adapter.
type JSONProcessor struct {
	baseProcessor
}

// NewJSONProcessor creates the structured-text adapter.
func NewJSONProcessor() *JSONProcessor {
	return &JSONProcessor{baseProcessor: newBaseProcessor(FormatJSON)}
}

// ValidateFile checks size, emptiness and encoding, then verifies the
// document parses at all.
func (p *JSONProcessor) ValidateFile(data []byte, meta FileMetadata, opts Options) []ValidationError {
	findings := p.validateCommon(data, opts, true)
	if hasErrors(findings) {
		return findings
	}

	decoded, err := DecodeToUTF8(data, effectiveEncoding(data, meta, opts))
	if err != nil || !sonic.Valid(decoded) {
		findings = append(findings, ValidationError{
			Code:     CodeInvalidJSONSyntax,
			Message:  "file is not valid JSON",
			Severity: SeverityError,
		})
	}
	return findings
}

// ProcessFile decodes the entire document and validates every record.
func (p *JSONProcessor) ProcessFile(ctx context.Context, data []byte, meta FileMetadata, opts Options) (*BatchResult, error) {
	opts = opts.withDefaults()
	tracker := newStreamTracker(opts, nil, nil, true)

	decoded, derr := DecodeToUTF8(data, effectiveEncoding(data, meta, opts))
	if derr != nil {
		return p.done(tracker, failOp(CodeInvalidJSONSyntax, "cannot decode file: %v", derr))
	}

	var doc any
	if err := sonic.Unmarshal(decoded, &doc); err != nil {
		return p.done(tracker, failOp(CodeInvalidJSONSyntax, "invalid JSON syntax: %v", err))
	}

	records, ferr := findRecordArray(doc, opts.JSON.ArrayPath)
	if ferr != nil {
		return p.done(tracker, ferr)
	}

	if len(records) == 0 {
		tracker.warnings = append(tracker.warnings, noDataWarning())
		return p.done(tracker, nil)
	}

	checker := opts.shape()
	for i, item := range records {
		if err := tracker.checkContext(ctx); err != nil {
			return p.done(tracker, err)
		}

		res, serr := recordResult(item, i+1, checker, opts.JSON.Strict)
		if serr != nil {
			return p.done(tracker, serr)
		}
		if err := tracker.emit(res); err != nil {
			return p.done(tracker, err)
		}
	}

	return p.done(tracker, nil)
}

// Stream walks the document token by token, decoding one array element at a
// time.
func (p *JSONProcessor) Stream(ctx context.Context, r io.Reader, meta FileMetadata, opts Options, sink SinkFunc, progress ProgressFunc) (*BatchResult, error) {
	opts = opts.withDefaults()
	tracker := newStreamTracker(opts, sink, progress, false)

	dec := json.NewDecoder(wrapTextReader(r, encodingOrHint(meta, opts)))
	if err := seekRecordArray(dec, opts.JSON.ArrayPath); err != nil {
		return p.done(tracker, err)
	}

	checker := opts.shape()
	index := 0
	for dec.More() {
		if err := tracker.checkContext(ctx); err != nil {
			return p.done(tracker, err)
		}

		var item any
		if err := dec.Decode(&item); err != nil {
			return p.done(tracker, failOp(CodeInvalidJSONSyntax, "invalid JSON at record %d: %v", index+1, err))
		}
		index++

		res, serr := recordResult(item, index, checker, opts.JSON.Strict)
		if serr != nil {
			return p.done(tracker, serr)
		}
		if err := tracker.emit(res); err != nil {
			return p.done(tracker, err)
		}
	}

	if index == 0 {
		tracker.warnings = append(tracker.warnings, noDataWarning())
	}
	return p.done(tracker, nil)
}

// recordResult turns one decoded array element into a Result. Non-object
// elements fail that record, or the whole operation in strict mode.
func recordResult(item any, index int, checker ShapeChecker, strict bool) (Result, error) {
	raw, ok := item.(map[string]any)
	if !ok {
		if strict {
			return Result{}, failOp(CodeInvalidJSONStructure, "record %d is not an object", index)
		}
		return Result{
			Index:   index,
			Success: false,
			Errors: []ValidationError{{
				Code:     CodeInvalidJSONStructure,
				Message:  fmt.Sprintf("record %d is not an object", index),
				Severity: SeverityError,
			}},
		}, nil
	}
	return ValidateRecord(raw, index, checker), nil
}

func noDataWarning() ValidationError {
	return ValidationError{
		Code:     CodeNoDataRecords,
		Message:  "document contains no data records",
		Severity: SeverityWarning,
	}
}

// findRecordArray locates the record array in a decoded document: the root
// itself, the value at arrayPath, or a conventional wrapper key.
func findRecordArray(doc any, arrayPath string) ([]any, error) {
	if arr, ok := doc.([]any); ok {
		return arr, nil
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, failOp(CodeInvalidJSONStructure, "document root must be an array or object, got %T", doc)
	}

	if arrayPath != "" {
		node := any(obj)
		for _, part := range strings.Split(arrayPath, ".") {
			m, ok := node.(map[string]any)
			if !ok {
				return nil, failOp(CodeInvalidJSONStructure, "path %q does not resolve to an array", arrayPath)
			}
			node, ok = m[part]
			if !ok {
				return nil, failOp(CodeInvalidJSONStructure, "path element %q not found", part)
			}
		}
		arr, ok := node.([]any)
		if !ok {
			return nil, failOp(CodeInvalidJSONStructure, "path %q does not resolve to an array", arrayPath)
		}
		return arr, nil
	}

	for _, key := range wrapperKeys {
		if arr, ok := obj[key].([]any); ok {
			return arr, nil
		}
	}
	return nil, failOp(CodeInvalidJSONStructure,
		"no record array found; expected a top-level array or one of the keys: %s", strings.Join(wrapperKeys, ", "))
}

// seekRecordArray advances a token decoder to just inside the record array.
func seekRecordArray(dec *json.Decoder, arrayPath string) error {
	tok, err := dec.Token()
	if err != nil {
		return failOp(CodeInvalidJSONSyntax, "invalid JSON syntax: %v", err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return failOp(CodeInvalidJSONStructure, "document root must be an array or object")
	}
	if delim == '[' {
		return nil
	}
	if delim != '{' {
		return failOp(CodeInvalidJSONStructure, "document root must be an array or object")
	}

	var path []string
	if arrayPath != "" {
		path = strings.Split(arrayPath, ".")
	}
	return descendToArray(dec, path)
}

// descendToArray walks object keys until it enters the record array: the
// next element of path when given, otherwise the first wrapper key holding
// an array. The decoder is left positioned inside that array.
func descendToArray(dec *json.Decoder, path []string) error {
	targets := map[string]bool{}
	if len(path) > 0 {
		targets[path[0]] = true
	} else {
		for _, k := range wrapperKeys {
			targets[k] = true
		}
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return failOp(CodeInvalidJSONSyntax, "invalid JSON syntax: %v", err)
		}
		if delim, ok := tok.(json.Delim); ok && delim == '}' {
			return failOp(CodeInvalidJSONStructure, "no record array found in document")
		}

		key, ok := tok.(string)
		if !ok {
			return failOp(CodeInvalidJSONStructure, "unexpected token %v in object", tok)
		}

		if !targets[key] {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}

		next, err := dec.Token()
		if err != nil {
			return failOp(CodeInvalidJSONSyntax, "invalid JSON syntax: %v", err)
		}
		delim, isDelim := next.(json.Delim)
		switch {
		case isDelim && delim == '[' && len(path) <= 1:
			return nil
		case isDelim && delim == '{' && len(path) > 1:
			return descendToArray(dec, path[1:])
		case len(path) > 0:
			return failOp(CodeInvalidJSONStructure, "value at %q is not a record array", key)
		default:
			// Wrapper probing matches the buffered prober: a conventional
			// key holding a non-array does not end the search.
			if isDelim {
				if err := consumeComposite(dec); err != nil {
					return err
				}
			}
		}
	}
}

// skipValue consumes one complete JSON value from the decoder.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return failOp(CodeInvalidJSONSyntax, "invalid JSON syntax: %v", err)
	}
	if delim, ok := tok.(json.Delim); ok && (delim == '{' || delim == '[') {
		return consumeComposite(dec)
	}
	return nil
}

// consumeComposite consumes the rest of a composite value whose opening
// delimiter has already been read.
func consumeComposite(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return failOp(CodeInvalidJSONSyntax, "invalid JSON syntax: %v", err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// GenerateTemplate produces a one-record JSON array with example values,
// indented for human editing.
func (p *JSONProcessor) GenerateTemplate(fields []FieldDefinition, opts Options) ([]byte, error) {
	if len(fields) == 0 {
		fields = DeviceFields()
	}
	record := make(map[string]string, len(fields))
	for _, f := range fields {
		record[f.Name] = exampleValue(f)
	}
	out, err := sonic.ConfigDefault.MarshalIndent([]map[string]string{record}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	return out, nil
}

// ExportDevices renders validated devices as an indented JSON array.
// Custom fields survive as-is, preserving nested structure.
func (p *JSONProcessor) ExportDevices(devices []Device, opts Options) ([]byte, error) {
	out, err := sonic.ConfigDefault.MarshalIndent(devices, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal devices: %w", err)
	}
	return out, nil
}

// encodingOrHint resolves encoding for streaming, where no sample buffer is
// available to sniff.
func encodingOrHint(meta FileMetadata, opts Options) string {
	if opts.Encoding != "" {
		return opts.Encoding
	}
	return meta.EncodingHint
}

var _ Processor = (*JSONProcessor)(nil)
