package ingest

// csv.go implements the delimited-text adapter. Parsing is incremental in
// both modes: the whole-buffer path simply streams over the in-memory bytes.
// The delimiter is sniffed from the header line unless the caller pins one.
// Header names are matched against the canonical schema case-insensitively;
// unknown columns flow through to customFields untouched.

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVProcessor is the delimited-text format adapter.
type CSVProcessor struct {
	baseProcessor
}

// NewCSVProcessor creates the delimited-text adapter.
func NewCSVProcessor() *CSVProcessor {
	return &CSVProcessor{baseProcessor: newBaseProcessor(FormatCSV)}
}

// ValidateFile checks size, emptiness and encoding, then verifies that a
// header row can actually be read with the effective delimiter.
func (p *CSVProcessor) ValidateFile(data []byte, meta FileMetadata, opts Options) []ValidationError {
	findings := p.validateCommon(data, opts, true)
	if hasErrors(findings) {
		return findings
	}

	decoded, err := DecodeToUTF8(data, effectiveEncoding(data, meta, opts))
	if err != nil {
		return append(findings, ValidationError{
			Code:     CodeRowProcessingError,
			Message:  fmt.Sprintf("cannot decode file: %v", err),
			Severity: SeverityError,
		})
	}

	reader := p.newReader(bytes.NewReader(decoded), decoded, opts)
	header, err := reader.Read()
	if err != nil {
		return append(findings, ValidationError{
			Code:     CodeNoDataRecords,
			Message:  "file contains no header row",
			Severity: SeverityError,
		})
	}
	if len(header) == 0 || (len(header) == 1 && strings.TrimSpace(header[0]) == "") {
		findings = append(findings, ValidationError{
			Code:     CodeNoDataRecords,
			Message:  "header row is empty",
			Severity: SeverityError,
		})
	}
	return findings
}

// ProcessFile parses the entire buffer and validates every record.
func (p *CSVProcessor) ProcessFile(ctx context.Context, data []byte, meta FileMetadata, opts Options) (*BatchResult, error) {
	opts = opts.withDefaults()
	tracker := newStreamTracker(opts, nil, nil, true)

	result, err := p.run(ctx, bytes.NewReader(data), data, meta, opts, tracker)
	p.recordBatch(result)
	return result, err
}

// Stream processes records incrementally from r. Memory stays bounded by the
// reader buffer; the whole input is never resident. A small head is buffered
// first so delimiter and encoding sniffing see the same bytes in both modes.
func (p *CSVProcessor) Stream(ctx context.Context, r io.Reader, meta FileMetadata, opts Options, sink SinkFunc, progress ProgressFunc) (*BatchResult, error) {
	opts = opts.withDefaults()
	tracker := newStreamTracker(opts, sink, progress, false)

	head := make([]byte, detectionBufSize)
	n, rerr := io.ReadFull(r, head)
	head = head[:n]
	if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
		return p.done(tracker, failOp(CodeRowProcessingError, "cannot read input: %v", rerr))
	}

	result, err := p.run(ctx, io.MultiReader(bytes.NewReader(head), r), head, meta, opts, tracker)
	p.recordBatch(result)
	return result, err
}

// run is the single parse loop behind both modes. sniffSource provides the
// bytes for delimiter and encoding sniffing: the whole buffer when buffered,
// the buffered head when streaming.
func (p *CSVProcessor) run(ctx context.Context, r io.Reader, sniffSource []byte, meta FileMetadata, opts Options, tracker *streamTracker) (*BatchResult, error) {
	reader := p.newReader(wrapTextReader(r, effectiveEncoding(sniffSource, meta, opts)), sniffSource, opts)

	header, err := reader.Read()
	if err == io.EOF {
		return tracker.finish(failOp(CodeEmptyFile, "file is empty"))
	}
	if err != nil {
		return tracker.finish(failOp(CodeRowProcessingError, "cannot read header row: %v", err))
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(h)
	}

	checker := opts.shape()
	index := 0
	for {
		if err := tracker.checkContext(ctx); err != nil {
			return tracker.finish(err)
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}

		index++
		var res Result
		switch {
		case err != nil:
			// A malformed row never aborts the file; it fails that record.
			res = Result{
				Index:   index,
				Success: false,
				Errors: []ValidationError{{
					Code:     CodeRowProcessingError,
					Message:  fmt.Sprintf("row %d: %v", index, err),
					Severity: SeverityError,
				}},
			}
		case rowIsEmpty(row):
			// Fully empty rows are common trailing artifacts; skip silently.
			index--
			continue
		default:
			res = ValidateRecord(rowToRecord(headers, row), index, checker)
		}

		if err := tracker.emit(res); err != nil {
			return tracker.finish(err)
		}
	}

	if index == 0 {
		tracker.warnings = append(tracker.warnings, ValidationError{
			Code:     CodeNoDataRecords,
			Message:  "file contains a header but no data records",
			Severity: SeverityWarning,
		})
	}
	return tracker.finish(nil)
}

// newReader builds a csv.Reader with the effective delimiter. Field count
// enforcement is disabled: ragged rows are handled per record.
func (p *CSVProcessor) newReader(r io.Reader, sniffSource []byte, opts Options) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	switch {
	case opts.CSV.Delimiter != 0:
		reader.Comma = opts.CSV.Delimiter
	case len(sniffSource) > 0:
		reader.Comma = sniffDelimiter(sniffSource)
	default:
		reader.Comma = ','
	}
	return reader
}

// rowToRecord pairs header names with row values. Extra cells beyond the
// header become positional custom fields rather than being dropped.
func rowToRecord(headers, row []string) map[string]any {
	record := make(map[string]any, len(headers))
	for i, value := range row {
		value = strings.TrimSpace(value)
		if i < len(headers) && headers[i] != "" {
			record[headers[i]] = value
			continue
		}
		if value != "" {
			record[fmt.Sprintf("column_%d", i+1)] = value
		}
	}
	return record
}

func rowIsEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// GenerateTemplate produces a header row plus one example row, usable as a
// round-trip import template.
func (p *CSVProcessor) GenerateTemplate(fields []FieldDefinition, opts Options) ([]byte, error) {
	if len(fields) == 0 {
		fields = DeviceFields()
	}

	delim := opts.CSV.Delimiter
	if delim == 0 {
		delim = ','
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim

	names := make([]string, len(fields))
	examples := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		examples[i] = exampleValue(f)
	}
	if err := w.Write(names); err != nil {
		return nil, fmt.Errorf("write template header: %w", err)
	}
	if err := w.Write(examples); err != nil {
		return nil, fmt.Errorf("write template example row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush template: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportDevices renders validated devices back to delimited text, the
// counterpart of import. Custom fields are flattened into extra columns.
func (p *CSVProcessor) ExportDevices(devices []Device, opts Options) ([]byte, error) {
	delim := opts.CSV.Delimiter
	if delim == 0 {
		delim = ','
	}

	customCols := collectCustomColumns(devices)
	headers := append(deviceColumnNames(), customCols...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim
	if err := w.Write(headers); err != nil {
		return nil, fmt.Errorf("write export header: %w", err)
	}
	for i, d := range devices {
		if err := w.Write(deviceRow(d, customCols)); err != nil {
			return nil, fmt.Errorf("write device %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush export: %w", err)
	}
	return buf.Bytes(), nil
}

var _ Processor = (*CSVProcessor)(nil)
