package ingest

// xlsx.go implements the spreadsheet adapter on excelize. The container
// format is a ZIP archive, so records cannot be produced before the workbook
// is decoded; Stream buffers the input, decodes once, then re-emits rows one
// at a time through the same supervisor as the other adapters. The memory
// ceiling is therefore enforced before decoding: a workbook whose raw size
// already exceeds the limit is rejected up front.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXProcessor is the spreadsheet format adapter.
type XLSXProcessor struct {
	baseProcessor
}

// NewXLSXProcessor creates the spreadsheet adapter.
func NewXLSXProcessor() *XLSXProcessor {
	return &XLSXProcessor{baseProcessor: newBaseProcessor(FormatXLSX)}
}

// ValidateFile checks size and emptiness, rejects workbooks too large to
// decode within the memory ceiling, then verifies the container opens and the
// requested sheet exists.
func (p *XLSXProcessor) ValidateFile(data []byte, meta FileMetadata, opts Options) []ValidationError {
	opts = opts.withDefaults()
	findings := p.validateCommon(data, opts, false)
	if hasErrors(findings) {
		return findings
	}

	if err := checkDecodeCeiling(data, opts); err != nil {
		return append(findings, abortFinding(err))
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return append(findings, ValidationError{
			Code:     CodeMalformedContainer,
			Message:  fmt.Sprintf("cannot open workbook: %v", err),
			Severity: SeverityError,
		})
	}
	defer f.Close()

	if _, err := resolveSheet(f, opts); err != nil {
		findings = append(findings, abortFinding(err))
	}
	return findings
}

// ProcessFile decodes the workbook and validates every row of the selected
// sheet.
func (p *XLSXProcessor) ProcessFile(ctx context.Context, data []byte, meta FileMetadata, opts Options) (*BatchResult, error) {
	opts = opts.withDefaults()
	tracker := newStreamTracker(opts, nil, nil, true)
	return p.run(ctx, data, opts, tracker)
}

// Stream buffers the input, then decodes and re-emits rows one at a time.
// This is the documented exception to incremental parsing: the container
// cannot yield records before a full decode.
func (p *XLSXProcessor) Stream(ctx context.Context, r io.Reader, meta FileMetadata, opts Options, sink SinkFunc, progress ProgressFunc) (*BatchResult, error) {
	opts = opts.withDefaults()
	tracker := newStreamTracker(opts, sink, progress, false)

	limit := opts.MaxFileSize + 1
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return p.done(tracker, failOp(CodeMalformedContainer, "cannot read workbook: %v", err))
	}
	if int64(len(data)) >= limit {
		return p.done(tracker, failOp(CodeFileTooLarge, "workbook exceeds limit of %d bytes", opts.MaxFileSize))
	}
	return p.run(ctx, data, opts, tracker)
}

// run is the shared decode-and-validate loop behind both modes.
func (p *XLSXProcessor) run(ctx context.Context, data []byte, opts Options, tracker *streamTracker) (*BatchResult, error) {
	if len(data) == 0 {
		return p.done(tracker, failOp(CodeEmptyFile, "file is empty"))
	}
	if err := checkDecodeCeiling(data, opts); err != nil {
		return p.done(tracker, err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return p.done(tracker, failOp(CodeMalformedContainer, "cannot open workbook: %v", err))
	}
	defer f.Close()

	sheet, serr := resolveSheet(f, opts)
	if serr != nil {
		return p.done(tracker, serr)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return p.done(tracker, failOp(CodeMalformedContainer, "cannot read sheet %q: %v", sheet, err))
	}
	defer rows.Close()

	// Skip rows preceding the configured header row.
	for skip := 0; skip < opts.XLSX.HeaderRow; skip++ {
		if !rows.Next() {
			return p.done(tracker, failOp(CodeNoDataRecords, "sheet %q has no row %d to use as header", sheet, opts.XLSX.HeaderRow+1))
		}
	}
	if !rows.Next() {
		return p.done(tracker, failOp(CodeNoDataRecords, "sheet %q contains no header row", sheet))
	}
	header, err := rows.Columns()
	if err != nil {
		return p.done(tracker, failOp(CodeMalformedContainer, "cannot read header row: %v", err))
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(h)
	}

	checker := opts.shape()
	index := 0
	for rows.Next() {
		if err := tracker.checkContext(ctx); err != nil {
			return p.done(tracker, err)
		}

		cols, err := rows.Columns()

		index++
		var res Result
		switch {
		case err != nil:
			res = Result{
				Index:   index,
				Success: false,
				Errors: []ValidationError{{
					Code:     CodeRowProcessingError,
					Message:  fmt.Sprintf("row %d: %v", index, err),
					Severity: SeverityError,
				}},
			}
		case rowIsEmpty(cols):
			index--
			continue
		default:
			res = ValidateRecord(rowToRecord(headers, cols), index, checker)
		}

		if err := tracker.emit(res); err != nil {
			return p.done(tracker, err)
		}
	}
	if err := rows.Error(); err != nil {
		return p.done(tracker, failOp(CodeMalformedContainer, "sheet iteration failed: %v", err))
	}

	if index == 0 {
		tracker.warnings = append(tracker.warnings, ValidationError{
			Code:     CodeNoDataRecords,
			Message:  fmt.Sprintf("sheet %q contains a header but no data rows", sheet),
			Severity: SeverityWarning,
		})
	}
	return p.done(tracker, nil)
}

// checkDecodeCeiling rejects workbooks whose raw size already exceeds the
// memory limit. Decoded sheets only expand from there.
func checkDecodeCeiling(data []byte, opts Options) error {
	limit := int64(opts.MemoryLimitMB) * 1024 * 1024
	if opts.MemoryLimitMB > 0 && int64(len(data)) > limit {
		return failOp(CodeMemoryLimit,
			"workbook size %d exceeds the %d MB memory limit; it cannot be decoded within bounds",
			len(data), opts.MemoryLimitMB)
	}
	return nil
}

// resolveSheet picks the sheet to process: by name when given, else by index,
// defaulting to the first sheet.
func resolveSheet(f *excelize.File, opts Options) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", failOp(CodeSheetNotFound, "workbook contains no sheets")
	}

	if opts.XLSX.SheetName != "" {
		idx, err := f.GetSheetIndex(opts.XLSX.SheetName)
		if err != nil || idx < 0 {
			return "", failOp(CodeSheetNotFound, "sheet %q not found; workbook has: %s",
				opts.XLSX.SheetName, strings.Join(sheets, ", "))
		}
		return opts.XLSX.SheetName, nil
	}

	if opts.XLSX.SheetIndex >= len(sheets) {
		return "", failOp(CodeSheetNotFound, "sheet index %d out of range; workbook has %d sheets",
			opts.XLSX.SheetIndex, len(sheets))
	}
	return sheets[opts.XLSX.SheetIndex], nil
}

// GenerateTemplate produces a workbook with a header row and one example row
// on a single "Devices" sheet.
func (p *XLSXProcessor) GenerateTemplate(fields []FieldDefinition, opts Options) ([]byte, error) {
	if len(fields) == 0 {
		fields = DeviceFields()
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Devices"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename template sheet: %w", err)
	}

	names := make([]any, len(fields))
	examples := make([]any, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
		examples[i] = exampleValue(fd)
	}
	if err := f.SetSheetRow(sheet, "A1", &names); err != nil {
		return nil, fmt.Errorf("write template header: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A2", &examples); err != nil {
		return nil, fmt.Errorf("write template example row: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode template workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportDevices renders validated devices into a workbook, one row per
// device, custom fields flattened into extra columns.
func (p *XLSXProcessor) ExportDevices(devices []Device, opts Options) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Devices"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename export sheet: %w", err)
	}

	customCols := collectCustomColumns(devices)
	headers := append(deviceColumnNames(), customCols...)

	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &cells); err != nil {
		return nil, fmt.Errorf("write export header: %w", err)
	}

	for i, d := range devices {
		row := deviceRow(d, customCols)
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("address row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return nil, fmt.Errorf("write device %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode export workbook: %w", err)
	}
	return buf.Bytes(), nil
}

var _ Processor = (*XLSXProcessor)(nil)
