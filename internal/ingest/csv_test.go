package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCSVProcessFile(t *testing.T) {
	p := NewCSVProcessor()
	data := []byte("hostname,ipAddress,deviceType,status\n" +
		"core-sw-01,10.0.0.1,switch,active\n" +
		"edge-rt-01,10.0.0.2,router,inactive\n")

	result, err := p.ProcessFile(context.Background(), data, FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result not successful: %+v", result.Errors)
	}
	if result.TotalRecords != 2 || result.ValidRecords != 2 {
		t.Errorf("counts = %d/%d, want 2/2", result.TotalRecords, result.ValidRecords)
	}
	if len(result.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(result.Results))
	}
	for i, res := range result.Results {
		if res.Index != i+1 {
			t.Errorf("Results[%d].Index = %d, want %d", i, res.Index, i+1)
		}
	}
	if result.Results[0].Device.Hostname != "core-sw-01" {
		t.Errorf("first device = %+v", result.Results[0].Device)
	}
	if result.Results[1].Device.Status != "inactive" {
		t.Errorf("second device status = %q", result.Results[1].Device.Status)
	}
}

func TestCSVProcessFile_SniffsSemicolon(t *testing.T) {
	p := NewCSVProcessor()
	data := []byte("hostname;ipAddress\nsw-01;10.0.0.1\n")

	result, err := p.ProcessFile(context.Background(), data, FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if result.ValidRecords != 1 {
		t.Fatalf("ValidRecords = %d, want 1: %+v", result.ValidRecords, result.Results)
	}
	if result.Results[0].Device.IPAddress != "10.0.0.1" {
		t.Errorf("IPAddress = %q, semicolon delimiter not sniffed", result.Results[0].Device.IPAddress)
	}
}

func TestCSVProcessFile_RaggedRows(t *testing.T) {
	p := NewCSVProcessor()
	data := []byte("hostname,ipAddress,deviceType\n" +
		"sw-01,10.0.0.1,switch,surprise\n" + // extra cell
		"sw-02,10.0.0.2\n") // short row

	result, err := p.ProcessFile(context.Background(), data, FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if result.TotalRecords != 2 {
		t.Fatalf("TotalRecords = %d, want 2", result.TotalRecords)
	}

	first := result.Results[0]
	if !first.Success {
		t.Fatalf("row with extra cell should validate: %v", first.Errors)
	}
	if first.Device.CustomFields["column_4"] != "surprise" {
		t.Errorf("extra cell not preserved positionally: %v", first.Device.CustomFields)
	}

	second := result.Results[1]
	if !second.Success {
		t.Errorf("short row with required fields should validate: %v", second.Errors)
	}
}

func TestCSVProcessFile_EmptyInput(t *testing.T) {
	p := NewCSVProcessor()
	result, err := p.ProcessFile(context.Background(), nil, FileMetadata{}, Options{})
	if err == nil {
		t.Fatal("empty input must fail the operation")
	}
	if result == nil || result.Success {
		t.Fatal("empty input must produce an unsuccessful result")
	}
	if !hasCode(result.Errors, CodeEmptyFile) {
		t.Errorf("errors = %v, want %s", result.Errors, CodeEmptyFile)
	}
}

func TestCSVProcessFile_HeaderOnlyWarns(t *testing.T) {
	p := NewCSVProcessor()
	result, err := p.ProcessFile(context.Background(), []byte("hostname,ipAddress\n"), FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if !result.Success || result.TotalRecords != 0 {
		t.Errorf("Success = %v, TotalRecords = %d, want true/0", result.Success, result.TotalRecords)
	}
	if !hasCode(result.Warnings, CodeNoDataRecords) {
		t.Errorf("warnings = %v, want %s", result.Warnings, CodeNoDataRecords)
	}
}

func TestCSVProcessFile_SkipsBlankRows(t *testing.T) {
	p := NewCSVProcessor()
	data := []byte("hostname,ipAddress\nsw-01,10.0.0.1\n,\n\nsw-02,10.0.0.2\n")

	result, err := p.ProcessFile(context.Background(), data, FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if result.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want blank rows skipped", result.TotalRecords)
	}
	if result.Results[1].Index != 2 {
		t.Errorf("second record Index = %d, want contiguous numbering", result.Results[1].Index)
	}
}

func TestCSVStream(t *testing.T) {
	p := NewCSVProcessor()
	data := "hostname,ipAddress\nsw-01,10.0.0.1\nsw-02,not-an-ip\nsw-03,10.0.0.3\n"

	var seen []int
	sink := func(res Result) error {
		seen = append(seen, res.Index)
		return nil
	}

	result, err := p.Stream(context.Background(), strings.NewReader(data), FileMetadata{}, Options{}, sink, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if result.TotalRecords != 3 || result.ValidRecords != 2 || result.InvalidRecords != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1",
			result.TotalRecords, result.ValidRecords, result.InvalidRecords)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Errorf("sink order = %v, want [1 2 3]", seen)
	}
	if len(result.Results) != 0 {
		t.Errorf("streaming mode retained %d results", len(result.Results))
	}
}

func TestCSVStream_SniffsDelimiter(t *testing.T) {
	p := NewCSVProcessor()
	data := "hostname;ipAddress\nsw-01;192.168.1.1\nsw-02;192.168.1.2\n"

	streamed, err := p.Stream(context.Background(), strings.NewReader(data), FileMetadata{}, Options{}, nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	buffered, err := p.ProcessFile(context.Background(), []byte(data), FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}

	// Both modes must sniff the same delimiter from the same bytes.
	if streamed.ValidRecords != 2 || buffered.ValidRecords != 2 {
		t.Errorf("ValidRecords streamed/buffered = %d/%d, want 2/2",
			streamed.ValidRecords, buffered.ValidRecords)
	}
}

func TestCSVStream_SinkErrorAborts(t *testing.T) {
	p := NewCSVProcessor()
	data := "hostname,ipAddress\nsw-01,10.0.0.1\nsw-02,10.0.0.2\n"
	sinkErr := errors.New("client went away")

	calls := 0
	sink := func(Result) error {
		calls++
		return sinkErr
	}

	result, err := p.Stream(context.Background(), strings.NewReader(data), FileMetadata{}, Options{}, sink, nil)
	if !errors.Is(err, sinkErr) {
		t.Fatalf("Stream() error = %v, want sink error", err)
	}
	if calls != 1 {
		t.Errorf("sink called %d times after failing, want 1", calls)
	}
	if result == nil || result.Success {
		t.Error("aborted stream must not report success")
	}
}

func TestCSVStream_Cancellation(t *testing.T) {
	p := NewCSVProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := "hostname,ipAddress\nsw-01,10.0.0.1\n"
	_, err := p.Stream(ctx, strings.NewReader(data), FileMetadata{}, Options{}, nil, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Stream() error = %v, want ErrCancelled", err)
	}
}

func TestCSVValidateFile(t *testing.T) {
	p := NewCSVProcessor()

	if findings := p.ValidateFile(nil, FileMetadata{}, Options{}); !hasCode(findings, CodeEmptyFile) {
		t.Errorf("empty file findings = %v", findings)
	}

	ok := []byte("hostname,ipAddress\nsw-01,10.0.0.1\n")
	if findings := p.ValidateFile(ok, FileMetadata{}, Options{}); hasErrors(findings) {
		t.Errorf("valid file produced errors: %v", findings)
	}
}

func TestCSVTemplateRoundTrip(t *testing.T) {
	p := NewCSVProcessor()
	tmpl, err := p.GenerateTemplate(nil, Options{})
	if err != nil {
		t.Fatalf("GenerateTemplate() error = %v", err)
	}

	result, err := p.ProcessFile(context.Background(), tmpl, FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("template does not import: %v", err)
	}
	if result.ValidRecords != 1 {
		t.Fatalf("template example row invalid: %+v", result.Results)
	}
}

func TestCSVExportRoundTrip(t *testing.T) {
	p := NewCSVProcessor()
	devices := []Device{
		{
			Hostname:     "core-sw-01",
			IPAddress:    "10.0.0.1",
			MACAddress:   "00:1a:2b:3c:4d:5e",
			DeviceType:   "switch",
			Status:       "active",
			Tags:         []string{"core", "rack-4"},
			CustomFields: map[string]any{"rack": "B-12"},
		},
		{Hostname: "edge-rt-01", IPAddress: "10.0.0.2", DeviceType: "router", Status: "inactive"},
	}

	out, err := p.ExportDevices(devices, Options{})
	if err != nil {
		t.Fatalf("ExportDevices() error = %v", err)
	}

	result, err := p.ProcessFile(context.Background(), out, FileMetadata{}, Options{})
	if err != nil {
		t.Fatalf("re-import failed: %v", err)
	}
	if result.ValidRecords != 2 {
		t.Fatalf("re-import ValidRecords = %d, want 2: %+v", result.ValidRecords, result.Results)
	}
	got := result.Results[0].Device
	if got.Hostname != "core-sw-01" || got.CustomFields["rack"] != "B-12" {
		t.Errorf("round-trip lost fields: %+v", got)
	}
}
