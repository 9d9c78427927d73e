package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testFactory() *Factory {
	return NewFactory(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFactoryProcess_CSV(t *testing.T) {
	f := testFactory()
	data := []byte("hostname,ipAddress,status\nsw-01,10.0.0.1,active\nsw-02,10.0.0.2,active\n")
	meta := FileMetadata{FileName: "devices.csv", MIMEType: "text/csv"}

	result, err := f.Process(context.Background(), data, meta, Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.ValidRecords != 2 {
		t.Errorf("ValidRecords = %d, want 2", result.ValidRecords)
	}
}

func TestFactoryProcess_JSONWithGateWarning(t *testing.T) {
	f := testFactory()
	data := []byte(`[{"hostname": "sw-01", "ipAddress": "10.0.0.1", "status": "active"}]`)
	// Declared MIME disagrees with detected JSON; for JSON that is only a warning.
	meta := FileMetadata{FileName: "devices.json", MIMEType: "text/csv"}

	result, err := f.Process(context.Background(), data, meta, Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.ValidRecords != 1 {
		t.Errorf("ValidRecords = %d, want 1", result.ValidRecords)
	}
	if !hasCode(result.Warnings, CodeMIMEMismatch) {
		t.Errorf("gate warning not carried into result: %v", result.Warnings)
	}
}

func TestFactoryProcess_DetectionFailure(t *testing.T) {
	f := testFactory()
	data := []byte("a short note with no structure")

	result, err := f.Process(context.Background(), data, FileMetadata{}, Options{})
	if err == nil {
		t.Fatal("undetectable input must fail")
	}
	if result == nil || result.TotalRecords != 0 {
		t.Fatalf("want zero-count result, got %+v", result)
	}
	if !hasCode(result.Errors, CodeFormatDetectionFailed) {
		t.Errorf("errors = %v, want %s", result.Errors, CodeFormatDetectionFailed)
	}
}

func TestFactoryProcess_GateBlocksSuspiciousContent(t *testing.T) {
	f := testFactory()
	// Executable signature under a spreadsheet-free csv name: detection falls
	// back to the extension, the gate rejects the content.
	data := []byte("MZ\x90\x00\x03binary payload")
	meta := FileMetadata{FileName: "devices.csv"}

	result, err := f.Process(context.Background(), data, meta, Options{})
	if err == nil {
		t.Fatal("suspicious content must be rejected")
	}
	if result.TotalRecords != 0 {
		t.Errorf("no records may be processed past the gate, got %d", result.TotalRecords)
	}
	if !hasCode(result.Errors, CodeSuspiciousContent) {
		t.Errorf("errors = %v, want %s", result.Errors, CodeSuspiciousContent)
	}
}

func TestFactoryProcess_InvalidOptions(t *testing.T) {
	f := testFactory()
	_, err := f.Process(context.Background(), []byte("x"), FileMetadata{}, Options{MaxFileSize: -1})
	if err == nil {
		t.Fatal("invalid options must be rejected before detection")
	}
}

func TestFactoryDetect(t *testing.T) {
	f := testFactory()

	format, err := f.Detect([]byte(`[{"hostname":"x"}]`), FileMetadata{})
	if err != nil || format != FormatJSON {
		t.Errorf("Detect() = (%q, %v), want (json, nil)", format, err)
	}

	_, err = f.Detect([]byte("???"), FileMetadata{})
	if err == nil {
		t.Error("unknown format must error")
	}
	if finding := abortFinding(err); finding.Code != CodeFormatDetectionFailed {
		t.Errorf("Code = %q, want %q", finding.Code, CodeFormatDetectionFailed)
	}
}

func TestFactoryStream(t *testing.T) {
	f := testFactory()
	data := "hostname,ipAddress\nsw-01,10.0.0.1\nsw-02,10.0.0.2\n"

	var order []int
	sink := func(res Result) error {
		order = append(order, res.Index)
		return nil
	}

	result, err := f.Stream(context.Background(), strings.NewReader(data), FileMetadata{FileName: "d.csv"}, Options{}, sink, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if result.ValidRecords != 2 {
		t.Errorf("ValidRecords = %d, want 2", result.ValidRecords)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("sink order = %v, want [1 2]", order)
	}

	// The operation stays queryable after completion.
	ops := f.Operations()
	if len(ops) != 1 {
		t.Fatalf("got %d operations, want 1", len(ops))
	}
	if ops[0].State != StateCompleted {
		t.Errorf("State = %q, want %q", ops[0].State, StateCompleted)
	}
	if ops[0].Format != FormatCSV {
		t.Errorf("Format = %q, want csv", ops[0].Format)
	}
}

func TestFactoryStream_InputLargerThanDetectionBuffer(t *testing.T) {
	f := testFactory()

	var b strings.Builder
	b.WriteString("hostname,ipAddress\n")
	for i := 0; i < 500; i++ {
		b.WriteString("sw-unit-with-a-long-name,10.0.0.1\n")
	}

	result, err := f.Stream(context.Background(), strings.NewReader(b.String()), FileMetadata{}, Options{}, nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	// The detection prefix must be re-fed to the adapter; a lost byte would
	// shift every row.
	if result.ValidRecords != 500 {
		t.Errorf("ValidRecords = %d, want 500", result.ValidRecords)
	}
}

func TestFactoryStream_SemicolonDelimited(t *testing.T) {
	f := testFactory()
	data := "hostname;ipAddress\nsw-01;192.168.1.1\nsw-02;192.168.1.2\n"
	meta := FileMetadata{FileName: "devices.csv"}

	buffered, err := f.Process(context.Background(), []byte(data), meta, Options{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	streamed, err := f.Stream(context.Background(), strings.NewReader(data), meta, Options{}, nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	// Both modes see the same bytes and must agree on the delimiter.
	if buffered.ValidRecords != 2 || streamed.ValidRecords != 2 {
		t.Errorf("ValidRecords buffered/streamed = %d/%d, want 2/2",
			buffered.ValidRecords, streamed.ValidRecords)
	}
}

func TestFactoryStream_CarriesGateWarnings(t *testing.T) {
	f := testFactory()
	data := `[{"hostname": "sw-01", "ipAddress": "10.0.0.1", "status": "active"}]`
	meta := FileMetadata{FileName: "devices.json", MIMEType: "text/html"}

	result, err := f.Stream(context.Background(), strings.NewReader(data), meta, Options{}, nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if result.ValidRecords != 1 {
		t.Errorf("ValidRecords = %d, want 1", result.ValidRecords)
	}
	if !hasCode(result.Warnings, CodeMIMEMismatch) {
		t.Errorf("gate warning lost in streaming mode: %v", result.Warnings)
	}
}

func TestFactoryStream_CancelBeforeRun(t *testing.T) {
	f := testFactory()
	data := "hostname,ipAddress\nsw-01,10.0.0.1\n"

	op, err := f.StartStream(context.Background(), FileMetadata{FileName: "d.csv"}, Options{})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	if op.ID() == "" {
		t.Fatal("operation must have an ID before Run")
	}
	if op.Snapshot().State != StateDetecting {
		t.Errorf("initial state = %q", op.Snapshot().State)
	}

	op.Cancel()
	_, err = f.Run(op, strings.NewReader(data), FileMetadata{FileName: "d.csv"}, Options{}, nil, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}
	if got := op.Snapshot().State; got != StateAborted {
		t.Errorf("State = %q, want %q", got, StateAborted)
	}

	result, done, rerr := op.Result()
	if !done || result == nil || rerr == nil {
		t.Errorf("Result() = (%v, %v, %v), want terminal result with error", result, done, rerr)
	}
}

func TestFactoryCancelAndForget(t *testing.T) {
	f := testFactory()

	if f.Cancel("nope") {
		t.Error("cancelling an unknown operation must return false")
	}
	if f.Forget("nope") {
		t.Error("forgetting an unknown operation must return false")
	}

	op, err := f.StartStream(context.Background(), FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	// Active operations cannot be forgotten.
	if f.Forget(op.ID()) {
		t.Error("active operation must not be forgettable")
	}
	if !f.Cancel(op.ID()) {
		t.Error("Cancel() on a live operation must return true")
	}
	if _, err := f.Run(op, strings.NewReader("hostname,ipAddress\nsw,10.0.0.1\n"), FileMetadata{FileName: "d.csv"}, Options{}, nil, nil); err == nil {
		t.Fatal("cancelled run must fail")
	}

	if !f.Forget(op.ID()) {
		t.Error("terminal operation must be forgettable")
	}
	if _, ok := f.Operation(op.ID()); ok {
		t.Error("forgotten operation still registered")
	}
}

func TestFactoryCancelAll(t *testing.T) {
	f := testFactory()

	op1, _ := f.StartStream(context.Background(), FileMetadata{}, Options{})
	op2, _ := f.StartStream(context.Background(), FileMetadata{}, Options{})

	if n := f.CancelAll(); n != 2 {
		t.Errorf("CancelAll() = %d, want 2", n)
	}
	for _, op := range []*StreamOperation{op1, op2} {
		if op.runCtx.Err() == nil {
			t.Errorf("operation %s not cancelled", op.ID())
		}
	}
}

func TestFactoryTemplateAndExport(t *testing.T) {
	f := testFactory()

	for _, format := range []Format{FormatCSV, FormatXLSX, FormatJSON} {
		tmpl, err := f.Template(format, nil, Options{})
		if err != nil {
			t.Errorf("Template(%q) error = %v", format, err)
		}
		if len(tmpl) == 0 {
			t.Errorf("Template(%q) returned empty output", format)
		}
	}

	devices := []Device{{Hostname: "sw-01", IPAddress: "10.0.0.1", Status: "active"}}
	for _, format := range []Format{FormatCSV, FormatXLSX, FormatJSON} {
		out, err := f.Export(format, devices, Options{})
		if err != nil {
			t.Errorf("Export(%q) error = %v", format, err)
		}
		if len(out) == 0 {
			t.Errorf("Export(%q) returned empty output", format)
		}
	}

	if _, err := f.Template("parquet", nil, Options{}); err == nil {
		t.Error("unregistered format must error")
	}
}

func TestFactoryFormats(t *testing.T) {
	f := testFactory()
	formats := f.Formats()
	if len(formats) != 3 {
		t.Fatalf("got %d formats, want 3: %v", len(formats), formats)
	}
	seen := map[Format]bool{}
	for _, format := range formats {
		seen[format] = true
	}
	for _, want := range []Format{FormatCSV, FormatXLSX, FormatJSON} {
		if !seen[want] {
			t.Errorf("missing format %q", want)
		}
	}
}
