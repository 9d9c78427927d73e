package ingest

// base.go defines the Processor contract shared by all format adapters and
// the behavior common to them: file-level validation, cumulative per-adapter
// statistics, and process memory sampling.
//
// Memory is sampled from the process RSS via gopsutil. Reads are cached
// briefly because /proc round-trips per record would dominate processing
// time; the limits built on these numbers are advisory safety valves, not
// exact accounting.

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Processor is the contract every format adapter satisfies.
type Processor interface {
	// Format identifies the adapter.
	Format() Format

	// ValidateFile runs format-specific pre-flight checks: size, emptiness,
	// encoding detection, container sanity. Findings may be warnings;
	// processing proceeds unless an error-severity finding is present.
	ValidateFile(data []byte, meta FileMetadata, opts Options) []ValidationError

	// ProcessFile parses the entire buffer and validates every record.
	ProcessFile(ctx context.Context, data []byte, meta FileMetadata, opts Options) (*BatchResult, error)

	// Stream processes records incrementally from r, emitting one Result per
	// record to sink in input order and progress snapshots at the configured
	// interval. The spreadsheet adapter is the documented exception: its
	// container format forces a full decode before records are re-emitted
	// one at a time.
	Stream(ctx context.Context, r io.Reader, meta FileMetadata, opts Options, sink SinkFunc, progress ProgressFunc) (*BatchResult, error)

	// GenerateTemplate produces a minimal well-formed file of the adapter's
	// format: a header row plus one example-value row.
	GenerateTemplate(fields []FieldDefinition, opts Options) ([]byte, error)

	// Stats returns the adapter's cumulative process-lifetime statistics.
	Stats() ProcessorStats
	// ResetStats zeroes the cumulative statistics.
	ResetStats()
}

// ProcessorStats are cumulative, process-lifetime running totals for one
// adapter instance. Reset only on explicit request.
type ProcessorStats struct {
	FilesProcessed   int64            `json:"filesProcessed"`
	RecordsProcessed int64            `json:"recordsProcessed"`
	TotalDuration    time.Duration    `json:"-"`
	TotalDurationMS  int64            `json:"totalDurationMs"`
	CurrentMemoryMB  float64          `json:"currentMemoryMB"`
	PeakMemoryMB     float64          `json:"peakMemoryMB"`
	AverageMemoryMB  float64          `json:"averageMemoryMB"`
	ErrorCodes       map[string]int64 `json:"errorCodes,omitempty"`
}

// baseProcessor carries the shared state embedded by every adapter.
// Stat updates are serialized: multiple streams of the same format may
// complete concurrently.
type baseProcessor struct {
	format Format

	mu         sync.Mutex
	stats      ProcessorStats
	memSamples int64
	memTotal   float64
}

func newBaseProcessor(format Format) baseProcessor {
	return baseProcessor{
		format: format,
		stats:  ProcessorStats{ErrorCodes: make(map[string]int64)},
	}
}

func (b *baseProcessor) Format() Format { return b.format }

// validateCommon performs the size and emptiness checks shared by every
// adapter, then encoding detection for text formats. Encoding uncertainty is
// never fatal, only a warning.
func (b *baseProcessor) validateCommon(data []byte, opts Options, text bool) []ValidationError {
	opts = opts.withDefaults()
	var findings []ValidationError

	if len(data) == 0 {
		findings = append(findings, ValidationError{
			Code:     CodeEmptyFile,
			Message:  "file is empty",
			Severity: SeverityError,
		})
		return findings
	}
	if int64(len(data)) > opts.MaxFileSize {
		findings = append(findings, ValidationError{
			Code:     CodeFileTooLarge,
			Message:  fmt.Sprintf("file size %d exceeds limit of %d bytes", len(data), opts.MaxFileSize),
			Severity: SeverityError,
		})
	}

	if text && opts.Encoding == "" {
		if _, confident := DetectEncoding(data); !confident {
			findings = append(findings, encodingUncertainWarning())
		}
	}

	return findings
}

func encodingUncertainWarning() ValidationError {
	return ValidationError{
		Code:     CodeEncodingUncertain,
		Message:  "could not determine character encoding with confidence, assuming UTF-8",
		Severity: SeverityWarning,
	}
}

// effectiveEncoding resolves the encoding to decode with: explicit option,
// metadata hint, then detection.
func effectiveEncoding(data []byte, meta FileMetadata, opts Options) string {
	if opts.Encoding != "" {
		return opts.Encoding
	}
	if meta.EncodingHint != "" {
		return meta.EncodingHint
	}
	name, _ := DetectEncoding(data)
	return name
}

// recordBatch folds one completed file into the cumulative stats.
func (b *baseProcessor) recordBatch(result *BatchResult) {
	if result == nil {
		return
	}
	mem := currentMemoryMB()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.FilesProcessed++
	b.stats.RecordsProcessed += int64(result.TotalRecords)
	b.stats.TotalDuration += result.Duration
	b.stats.TotalDurationMS = b.stats.TotalDuration.Milliseconds()

	b.stats.CurrentMemoryMB = mem
	b.memSamples++
	b.memTotal += mem
	b.stats.AverageMemoryMB = b.memTotal / float64(b.memSamples)
	if mem > b.stats.PeakMemoryMB {
		b.stats.PeakMemoryMB = mem
	}

	for _, r := range result.Results {
		for _, e := range r.Errors {
			b.stats.ErrorCodes[e.Code]++
		}
	}
	for _, e := range result.Errors {
		b.stats.ErrorCodes[e.Code]++
	}
}

func (b *baseProcessor) Stats() ProcessorStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.stats
	out.ErrorCodes = make(map[string]int64, len(b.stats.ErrorCodes))
	for k, v := range b.stats.ErrorCodes {
		out.ErrorCodes[k] = v
	}
	return out
}

func (b *baseProcessor) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats = ProcessorStats{ErrorCodes: make(map[string]int64)}
	b.memSamples = 0
	b.memTotal = 0
}

// done finalizes an operation: assemble the BatchResult, fold it into the
// cumulative stats, propagate the operation error.
func (b *baseProcessor) done(tracker *streamTracker, opErr error) (*BatchResult, error) {
	result, err := tracker.finish(opErr)
	b.recordBatch(result)
	return result, err
}

// hasErrors reports whether any finding is error severity.
func hasErrors(findings []ValidationError) bool {
	for _, f := range findings {
		if f.IsError() {
			return true
		}
	}
	return false
}

// splitSeverity partitions findings into errors and warnings.
func splitSeverity(findings []ValidationError) (errs, warnings []ValidationError) {
	for _, f := range findings {
		if f.IsError() {
			errs = append(errs, f)
		} else {
			warnings = append(warnings, f)
		}
	}
	return errs, warnings
}

// --- process memory sampling ---

const memSampleTTL = 100 * time.Millisecond

var memSampler struct {
	mu      sync.Mutex
	proc    *process.Process
	lastMB  float64
	sampled time.Time
}

// currentMemoryMB returns the process resident set size in MB. Values are
// cached for memSampleTTL; a sampling failure returns the last good reading.
func currentMemoryMB() float64 {
	memSampler.mu.Lock()
	defer memSampler.mu.Unlock()

	now := time.Now()
	if now.Sub(memSampler.sampled) < memSampleTTL {
		return memSampler.lastMB
	}

	if memSampler.proc == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return memSampler.lastMB
		}
		memSampler.proc = p
	}

	info, err := memSampler.proc.MemoryInfo()
	if err != nil {
		return memSampler.lastMB
	}
	memSampler.lastMB = float64(info.RSS) / (1024 * 1024)
	memSampler.sampled = now
	return memSampler.lastMB
}
