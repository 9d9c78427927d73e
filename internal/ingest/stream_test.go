package ingest

import (
	"context"
	"errors"
	"testing"
)

func okResult(i int) Result {
	return Result{Index: i, Success: true, Device: &Device{Hostname: "sw"}}
}

func badResult(i int) Result {
	return Result{Index: i, Success: false, Errors: []ValidationError{{
		Code:     CodeRequiredFieldMissing,
		Message:  "hostname is required",
		Severity: SeverityError,
	}}}
}

func TestStreamTracker_CountInvariant(t *testing.T) {
	tracker := newStreamTracker(Options{}, nil, nil, true)

	for i := 0; i < 5; i++ {
		if err := tracker.emit(okResult(i)); err != nil {
			t.Fatalf("emit(%d) error = %v", i, err)
		}
	}
	for i := 5; i < 8; i++ {
		if err := tracker.emit(badResult(i)); err != nil {
			t.Fatalf("emit(%d) error = %v", i, err)
		}
	}

	result, err := tracker.finish(nil)
	if err != nil {
		t.Fatalf("finish() error = %v", err)
	}
	if result.TotalRecords != 8 || result.ValidRecords != 5 || result.InvalidRecords != 3 {
		t.Errorf("counts = %d/%d/%d, want 8/5/3",
			result.TotalRecords, result.ValidRecords, result.InvalidRecords)
	}
	if result.ValidRecords+result.InvalidRecords != result.TotalRecords {
		t.Error("valid + invalid must equal total")
	}
	if !result.Success {
		t.Error("operation with only record-level errors should still succeed")
	}
	if len(result.Results) != 8 {
		t.Errorf("buffered mode retained %d results, want 8", len(result.Results))
	}
	if len(result.Errors) != 3 {
		t.Errorf("accumulated %d errors, want 3", len(result.Errors))
	}
}

func TestStreamTracker_ErrorThresholdAbortsAtExactCount(t *testing.T) {
	tracker := newStreamTracker(Options{ErrorThreshold: 3}, nil, nil, false)

	if err := tracker.emit(badResult(0)); err != nil {
		t.Fatalf("first invalid record aborted early: %v", err)
	}
	if err := tracker.emit(badResult(1)); err != nil {
		t.Fatalf("second invalid record aborted early: %v", err)
	}
	err := tracker.emit(badResult(2))
	if !errors.Is(err, ErrErrorThreshold) {
		t.Fatalf("third invalid record: error = %v, want ErrErrorThreshold", err)
	}

	result, ferr := tracker.finish(err)
	if !errors.Is(ferr, ErrErrorThreshold) {
		t.Errorf("finish() error = %v, want ErrErrorThreshold", ferr)
	}
	if result.Success {
		t.Error("aborted operation must not report success")
	}
	if result.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want partial count 3", result.TotalRecords)
	}
	if !hasCode(result.Errors, CodeErrorThreshold) {
		t.Errorf("missing %s finding in %v", CodeErrorThreshold, result.Errors)
	}
}

func TestStreamTracker_TruncationIsWarningNotFailure(t *testing.T) {
	tracker := newStreamTracker(Options{MaxRecords: 2}, nil, nil, true)

	if err := tracker.emit(okResult(0)); err != nil {
		t.Fatalf("emit(0) error = %v", err)
	}
	err := tracker.emit(okResult(1))
	if !errors.Is(err, errTruncated) {
		t.Fatalf("emit at limit: error = %v, want errTruncated", err)
	}

	result, ferr := tracker.finish(err)
	if ferr != nil {
		t.Fatalf("truncation must not propagate as failure, got %v", ferr)
	}
	if !result.Success || !result.Truncated {
		t.Errorf("Success = %v, Truncated = %v, want true/true", result.Success, result.Truncated)
	}
	if !hasCode(result.Warnings, CodeMaxRecordsTruncated) {
		t.Errorf("missing %s warning in %v", CodeMaxRecordsTruncated, result.Warnings)
	}
	if result.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", result.TotalRecords)
	}
}

func TestStreamTracker_ProgressCadence(t *testing.T) {
	var snapshots []StreamStats
	progress := func(s StreamStats) { snapshots = append(snapshots, s) }

	tracker := newStreamTracker(Options{ProgressInterval: 2}, nil, progress, false)
	for i := 0; i < 5; i++ {
		if err := tracker.emit(okResult(i)); err != nil {
			t.Fatalf("emit(%d) error = %v", i, err)
		}
	}
	if _, err := tracker.finish(nil); err != nil {
		t.Fatalf("finish() error = %v", err)
	}

	// Interval snapshots at records 2 and 4, then the final one.
	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3: %+v", len(snapshots), snapshots)
	}
	if snapshots[0].RecordsProcessed != 2 || snapshots[1].RecordsProcessed != 4 {
		t.Errorf("interval snapshots at %d and %d, want 2 and 4",
			snapshots[0].RecordsProcessed, snapshots[1].RecordsProcessed)
	}
	if snapshots[2].RecordsProcessed != 5 {
		t.Errorf("final snapshot at %d, want 5", snapshots[2].RecordsProcessed)
	}
}

func TestStreamTracker_FinalSnapshotExactlyOnce(t *testing.T) {
	calls := 0
	tracker := newStreamTracker(Options{}, nil, func(StreamStats) { calls++ }, false)

	if err := tracker.emit(okResult(0)); err != nil {
		t.Fatalf("emit error = %v", err)
	}
	if _, err := tracker.finish(nil); err != nil {
		t.Fatalf("finish() error = %v", err)
	}
	tracker.emitFinal()

	if calls != 1 {
		t.Errorf("final snapshot emitted %d times, want exactly 1", calls)
	}
}

func TestStreamTracker_SinkErrorStopsStream(t *testing.T) {
	sinkErr := errors.New("downstream closed")
	sink := func(Result) error { return sinkErr }

	tracker := newStreamTracker(Options{}, sink, nil, false)
	if err := tracker.emit(okResult(0)); !errors.Is(err, sinkErr) {
		t.Errorf("emit() error = %v, want sink error", err)
	}
}

func TestStreamTracker_StreamingModeDropsResults(t *testing.T) {
	var delivered int
	sink := func(Result) error { delivered++; return nil }

	tracker := newStreamTracker(Options{}, sink, nil, false)
	for i := 0; i < 4; i++ {
		if err := tracker.emit(okResult(i)); err != nil {
			t.Fatalf("emit(%d) error = %v", i, err)
		}
	}
	result, err := tracker.finish(nil)
	if err != nil {
		t.Fatalf("finish() error = %v", err)
	}
	if delivered != 4 {
		t.Errorf("sink received %d results, want 4", delivered)
	}
	if len(result.Results) != 0 {
		t.Errorf("streaming mode retained %d results, want 0", len(result.Results))
	}
	if result.TotalRecords != 4 {
		t.Errorf("TotalRecords = %d, want 4", result.TotalRecords)
	}
}

func TestStreamTracker_CheckContext(t *testing.T) {
	tracker := newStreamTracker(Options{}, nil, nil, false)

	if err := tracker.checkContext(context.Background()); err != nil {
		t.Errorf("live context: error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tracker.checkContext(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("cancelled context: error = %v, want ErrCancelled", err)
	}

	result, ferr := tracker.finish(err)
	if ferr == nil {
		t.Fatal("cancellation must propagate from finish")
	}
	if !hasCode(result.Errors, CodeOperationCancelled) {
		t.Errorf("missing %s finding in %v", CodeOperationCancelled, result.Errors)
	}
}

func TestFailOpCarriesCode(t *testing.T) {
	err := failOp(CodeMalformedContainer, "workbook is corrupt: %s", "bad header")
	finding := abortFinding(err)
	if finding.Code != CodeMalformedContainer {
		t.Errorf("Code = %q, want %q", finding.Code, CodeMalformedContainer)
	}
	if finding.Message != "workbook is corrupt: bad header" {
		t.Errorf("Message = %q", finding.Message)
	}
	if finding.Severity != SeverityError {
		t.Errorf("Severity = %q", finding.Severity)
	}
}

func TestAbortFinding_SentinelMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"threshold", ErrErrorThreshold, CodeErrorThreshold},
		{"memory", ErrMemoryLimit, CodeMemoryLimit},
		{"cancelled", ErrCancelled, CodeOperationCancelled},
		{"context cancelled", context.Canceled, CodeOperationCancelled},
		{"deadline", context.DeadlineExceeded, CodeOperationCancelled},
		{"other", errors.New("boom"), CodeRowProcessingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := abortFinding(tt.err); got.Code != tt.want {
				t.Errorf("abortFinding(%v).Code = %q, want %q", tt.err, got.Code, tt.want)
			}
		})
	}
}
