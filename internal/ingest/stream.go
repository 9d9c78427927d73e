package ingest

// stream.go implements the record-stream supervisor state shared by the
// adapters and the factory: ordered emission, progress snapshot cadence,
// truncation, the error-count threshold and the memory ceiling. Each
// streaming operation owns its own tracker; there is no shared mutable state
// between concurrent operations.
//
// The tracker is an explicit state struct passed through each processing
// step — counters, accumulators and limits live here, not in closures.

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for operation-level failures. Partial results produced
// before the failure remain valid and are returned alongside the error.
var (
	// ErrErrorThreshold reports that the cumulative invalid-record count
	// reached the configured threshold.
	ErrErrorThreshold = errors.New("error threshold exceeded")

	// ErrMemoryLimit reports that process memory crossed the configured
	// ceiling. Advisory: usage may spike above the ceiling between checks.
	ErrMemoryLimit = errors.New("memory limit exceeded")

	// ErrCancelled reports caller-requested cancellation. The record in
	// flight always completes before cancellation is observed.
	ErrCancelled = errors.New("operation cancelled")

	// errTruncated stops the producing loop when MaxRecords is reached.
	// Truncation is a warning, not a failure; it never escapes to callers.
	errTruncated = errors.New("record limit reached")
)

// streamTracker supervises one streaming or buffered processing operation.
type streamTracker struct {
	opts     Options
	sink     SinkFunc
	progress ProgressFunc

	start        time.Time
	stats        StreamStats
	peakMemoryMB float64

	keepResults bool
	results     []Result
	errs        []ValidationError
	warnings    []ValidationError

	truncated    bool
	finalEmitted bool
}

// newStreamTracker creates a tracker. sink may be nil (buffered mode);
// keepResults controls whether emitted results are retained for the final
// BatchResult (buffered mode keeps them, pure streaming mode may not).
func newStreamTracker(opts Options, sink SinkFunc, progress ProgressFunc, keepResults bool) *streamTracker {
	return &streamTracker{
		opts:        opts.withDefaults(),
		sink:        sink,
		progress:    progress,
		start:       time.Now(),
		keepResults: keepResults,
	}
}

// checkContext observes cancellation between records. Called by producing
// loops before parsing the next record, never mid-record.
func (t *streamTracker) checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

// emit delivers one record result downstream and applies the supervisory
// checks. The returned error, if any, stops the producing loop:
// errTruncated for the record cutoff, ErrErrorThreshold / ErrMemoryLimit for
// safety aborts, or whatever the sink returned (backpressure/abort).
func (t *streamTracker) emit(res Result) error {
	t.stats.RecordsProcessed++
	if res.Success {
		t.stats.RecordsValid++
	} else {
		t.stats.RecordsInvalid++
	}
	t.errs = append(t.errs, res.Errors...)
	t.warnings = append(t.warnings, res.Warnings...)

	if t.keepResults {
		t.results = append(t.results, res)
	}
	if t.sink != nil {
		if err := t.sink(res); err != nil {
			return err
		}
	}

	t.observeMemory()

	if t.opts.ErrorThreshold > 0 && t.stats.RecordsInvalid >= t.opts.ErrorThreshold {
		return fmt.Errorf("%w: %d invalid records (threshold %d)",
			ErrErrorThreshold, t.stats.RecordsInvalid, t.opts.ErrorThreshold)
	}
	if t.opts.MemoryLimitMB > 0 && t.stats.MemoryMB > float64(t.opts.MemoryLimitMB) {
		return fmt.Errorf("%w: %.0f MB in use (limit %d MB)",
			ErrMemoryLimit, t.stats.MemoryMB, t.opts.MemoryLimitMB)
	}

	if t.opts.ProgressInterval > 0 && t.stats.RecordsProcessed%t.opts.ProgressInterval == 0 {
		t.emitProgress()
	}

	if t.opts.MaxRecords > 0 && t.stats.RecordsProcessed >= t.opts.MaxRecords {
		t.truncated = true
		return errTruncated
	}
	return nil
}

// observeMemory refreshes the memory reading on the snapshot. Reads are
// cheap (cached in the sampler) so this runs per record.
func (t *streamTracker) observeMemory() {
	mb := currentMemoryMB()
	t.stats.MemoryMB = mb
	if mb > t.peakMemoryMB {
		t.peakMemoryMB = mb
	}
}

// snapshot returns a copy of the live stats with the derived rate filled in.
// Consumers never see the live struct.
func (t *streamTracker) snapshot() StreamStats {
	s := t.stats
	if elapsed := time.Since(t.start).Seconds(); elapsed > 0 {
		s.RecordsPerSecond = float64(s.RecordsProcessed) / elapsed
	}
	return s
}

func (t *streamTracker) emitProgress() {
	if t.progress != nil {
		t.progress(t.snapshot())
	}
}

// emitFinal sends the terminal snapshot. Exactly once, even on abort.
func (t *streamTracker) emitFinal() {
	if t.finalEmitted {
		return
	}
	t.finalEmitted = true
	t.observeMemory()
	t.emitProgress()
}

// finish assembles the BatchResult for the operation and returns the
// operation-level error, if any. errTruncated is converted into a warning;
// everything else propagates. Monotonic invariant: RecordsValid +
// RecordsInvalid always equals RecordsProcessed here.
func (t *streamTracker) finish(err error) (*BatchResult, error) {
	t.emitFinal()

	if errors.Is(err, errTruncated) {
		t.truncated = true
		err = nil
	}
	if t.truncated {
		t.warnings = append(t.warnings, ValidationError{
			Code:     CodeMaxRecordsTruncated,
			Message:  fmt.Sprintf("processing stopped after %d records (maxRecords limit)", t.stats.RecordsProcessed),
			Severity: SeverityWarning,
		})
	}

	if err != nil {
		t.errs = append(t.errs, abortFinding(err))
	}

	duration := time.Since(t.start)
	result := &BatchResult{
		Success:        err == nil,
		TotalRecords:   t.stats.RecordsProcessed,
		ValidRecords:   t.stats.RecordsValid,
		InvalidRecords: t.stats.RecordsInvalid,
		Truncated:      t.truncated,
		Results:        t.results,
		Errors:         t.errs,
		Warnings:       t.warnings,
		Duration:       duration,
		DurationMS:     duration.Milliseconds(),
		PeakMemoryMB:   t.peakMemoryMB,
	}
	return result, err
}

// codedErr ties an operation-level error to a machine-readable finding so
// structural failures surface with their proper code instead of a generic
// one.
type codedErr struct {
	finding ValidationError
}

func (e *codedErr) Error() string { return e.finding.Message }

// failOp builds an operation-level failure carrying the given error code.
func failOp(code, format string, args ...any) error {
	return &codedErr{finding: ValidationError{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityError,
	}}
}

// abortFinding converts an operation-level error into its coded finding.
func abortFinding(err error) ValidationError {
	var coded *codedErr
	if errors.As(err, &coded) {
		return coded.finding
	}

	code := CodeRowProcessingError
	switch {
	case errors.Is(err, ErrErrorThreshold):
		code = CodeErrorThreshold
	case errors.Is(err, ErrMemoryLimit):
		code = CodeMemoryLimit
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = CodeOperationCancelled
	}
	return ValidationError{
		Code:     code,
		Message:  err.Error(),
		Severity: SeverityError,
	}
}
