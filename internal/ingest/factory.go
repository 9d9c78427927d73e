package ingest

// factory.go wires the format adapters together behind a single entry point:
// detection, the upload gate, and dispatch to the right adapter. Streaming
// operations are registered by ID so callers can poll progress and cancel
// them individually or all at once.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// detectionBufSize is how much of a stream is buffered up front for format
// detection and the upload gate before incremental processing begins.
const detectionBufSize = 1024

// DeviceExporter is satisfied by adapters that can render validated devices
// back into their format.
type DeviceExporter interface {
	ExportDevices(devices []Device, opts Options) ([]byte, error)
}

// Factory owns the format adapters and the registry of active streaming
// operations.
type Factory struct {
	logger *slog.Logger

	mu         sync.Mutex
	processors map[Format]Processor
	ops        map[string]*StreamOperation
}

// NewFactory creates a factory with the three built-in adapters registered.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		logger:     logger,
		processors: make(map[Format]Processor),
		ops:        make(map[string]*StreamOperation),
	}
	f.Register(NewCSVProcessor())
	f.Register(NewXLSXProcessor())
	f.Register(NewJSONProcessor())
	return f
}

// Register adds or replaces the adapter for its format.
func (f *Factory) Register(p Processor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processors[p.Format()] = p
}

// Processor returns the adapter for a format.
func (f *Factory) Processor(format Format) (Processor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.processors[format]
	if !ok {
		return nil, fmt.Errorf("no processor registered for format %q", format)
	}
	return p, nil
}

// Formats lists the registered formats.
func (f *Factory) Formats() []Format {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Format, 0, len(f.processors))
	for format := range f.processors {
		out = append(out, format)
	}
	return out
}

// Detect identifies the file format from content and metadata. An
// undetectable format is a hard error, never a silent fallback.
func (f *Factory) Detect(data []byte, meta FileMetadata) (Format, error) {
	format := DetectFormat(data, meta)
	if format == FormatUnknown {
		return FormatUnknown, failOp(CodeFormatDetectionFailed,
			"cannot determine file format from content or filename %q", meta.FileName)
	}
	return format, nil
}

// Process runs the full buffered pipeline: detection, the upload gate, the
// adapter's own pre-flight checks, then record processing. Gate and
// pre-flight warnings carry through into the final result.
func (f *Factory) Process(ctx context.Context, data []byte, meta FileMetadata, opts Options) (*BatchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	format, err := f.Detect(data, meta)
	if err != nil {
		return gateResult(opts, nil, err)
	}

	findings := ValidateUpload(data, meta, format, opts)
	proc, perr := f.Processor(format)
	if perr != nil {
		return gateResult(opts, findings, failOp(CodeFormatDetectionFailed, "%v", perr))
	}
	findings = append(findings, proc.ValidateFile(data, meta, opts)...)

	preErrs, preWarnings := splitSeverity(findings)
	if len(preErrs) > 0 {
		return gateResult(opts, findings, failOp(preErrs[0].Code, "%s", preErrs[0].Message))
	}

	f.logger.Info("processing file",
		"format", string(format),
		"file", meta.FileName,
		"size", len(data),
	)

	result, err := proc.ProcessFile(ctx, data, meta, opts)
	if result != nil && len(preWarnings) > 0 {
		result.Warnings = append(preWarnings, result.Warnings...)
	}
	return result, err
}

// gateResult builds the result for an operation that failed before any
// record was processed. The shape matches a normal run: zero counts, the
// findings split by severity, the failure recorded as an error finding.
func gateResult(opts Options, findings []ValidationError, err error) (*BatchResult, error) {
	t := newStreamTracker(opts, nil, nil, true)
	errs, warnings := splitSeverity(findings)
	t.warnings = warnings

	// The failure itself is appended by finish; drop the duplicate finding.
	coded := abortFinding(err)
	for _, e := range errs {
		if e.Code == coded.Code && e.Message == coded.Message {
			continue
		}
		t.errs = append(t.errs, e)
	}
	return t.finish(err)
}

// Template generates a downloadable one-example-row file in the given format.
func (f *Factory) Template(format Format, fields []FieldDefinition, opts Options) ([]byte, error) {
	proc, err := f.Processor(format)
	if err != nil {
		return nil, err
	}
	return proc.GenerateTemplate(fields, opts)
}

// Export renders validated devices in the given format.
func (f *Factory) Export(format Format, devices []Device, opts Options) ([]byte, error) {
	proc, err := f.Processor(format)
	if err != nil {
		return nil, err
	}
	exp, ok := proc.(DeviceExporter)
	if !ok {
		return nil, fmt.Errorf("format %q does not support export", format)
	}
	return exp.ExportDevices(devices, opts)
}

// --- streaming operations ---

// OpState is the lifecycle state of a streaming operation.
type OpState string

const (
	StateDetecting  OpState = "detecting"
	StateValidating OpState = "validating"
	StateProcessing OpState = "processing"
	StateCompleted  OpState = "completed"
	StateFailed     OpState = "failed"
	StateAborted    OpState = "aborted"
)

// terminal reports whether the state is final.
func (s OpState) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// StreamOperation is one registered streaming run. All state transitions
// happen on the goroutine driving the stream; readers take the lock for a
// consistent snapshot.
type StreamOperation struct {
	id        string
	meta      FileMetadata
	startedAt time.Time
	cancel    context.CancelFunc
	runCtx    context.Context

	mu     sync.Mutex
	state  OpState
	format Format
	stats  StreamStats
	result *BatchResult
	err    error
}

// OperationSnapshot is a point-in-time view of an operation, safe to hand to
// other goroutines or serialize.
type OperationSnapshot struct {
	ID        string      `json:"id"`
	State     OpState     `json:"state"`
	Format    Format      `json:"format,omitempty"`
	FileName  string      `json:"fileName"`
	StartedAt time.Time   `json:"startedAt"`
	Stats     StreamStats `json:"stats"`
	Error     string      `json:"error,omitempty"`
}

// ID returns the operation's registry key.
func (o *StreamOperation) ID() string { return o.id }

// Cancel requests cancellation. The record in flight completes first; the
// operation then finishes with an OPERATION_CANCELLED finding.
func (o *StreamOperation) Cancel() {
	if o.cancel != nil {
		o.cancel()
	}
}

// Snapshot returns the operation's current state and stats.
func (o *StreamOperation) Snapshot() OperationSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := OperationSnapshot{
		ID:        o.id,
		State:     o.state,
		Format:    o.format,
		FileName:  o.meta.FileName,
		StartedAt: o.startedAt,
		Stats:     o.stats,
	}
	if o.err != nil {
		snap.Error = o.err.Error()
	}
	return snap
}

// Result returns the final result once the operation is terminal. done is
// false while the operation is still running.
func (o *StreamOperation) Result() (result *BatchResult, done bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.state.terminal() {
		return nil, false, nil
	}
	return o.result, true, o.err
}

func (o *StreamOperation) setState(s OpState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *StreamOperation) setFormat(format Format) {
	o.mu.Lock()
	o.format = format
	o.mu.Unlock()
}

func (o *StreamOperation) observe(stats StreamStats) {
	o.mu.Lock()
	o.stats = stats
	o.mu.Unlock()
}

// finishOp records the terminal state from the run's outcome.
func (o *StreamOperation) finishOp(result *BatchResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.result = result
	o.err = err
	switch {
	case err == nil:
		o.state = StateCompleted
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		o.state = StateAborted
	default:
		o.state = StateFailed
	}
}

// Stream runs the full streaming pipeline on r: buffer a detection prefix,
// detect, gate, then hand the reassembled stream to the adapter. The
// operation is registered for the duration and stays queryable afterwards.
func (f *Factory) Stream(ctx context.Context, r io.Reader, meta FileMetadata, opts Options, sink SinkFunc, progress ProgressFunc) (*BatchResult, error) {
	op, err := f.StartStream(ctx, meta, opts)
	if err != nil {
		return nil, err
	}
	return f.Run(op, r, meta, opts, sink, progress)
}

// StartStream validates options and registers a new operation in the
// detecting state. The caller drives it to completion with Run; the
// two-step split lets the web layer expose the operation ID before the first
// byte is read.
func (f *Factory) StartStream(ctx context.Context, meta FileMetadata, opts Options) (*StreamOperation, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	opCtx, cancel := context.WithCancel(ctx)
	op := &StreamOperation{
		id:        uuid.NewString(),
		meta:      meta,
		startedAt: time.Now(),
		cancel:    cancel,
		state:     StateDetecting,
	}
	op.runCtx = opCtx

	f.mu.Lock()
	f.ops[op.id] = op
	f.mu.Unlock()

	return op, nil
}

// Run executes a registered operation to completion.
func (f *Factory) Run(op *StreamOperation, r io.Reader, meta FileMetadata, opts Options, sink SinkFunc, progress ProgressFunc) (*BatchResult, error) {
	defer op.cancel()

	wrappedProgress := func(stats StreamStats) {
		op.observe(stats)
		if progress != nil {
			progress(stats)
		}
	}

	fail := func(findings []ValidationError, err error) (*BatchResult, error) {
		result, ferr := gateResult(opts, findings, err)
		op.finishOp(result, ferr)
		return result, ferr
	}

	head := make([]byte, detectionBufSize)
	n, rerr := io.ReadFull(r, head)
	head = head[:n]
	if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
		return fail(nil, failOp(CodeRowProcessingError, "cannot read input: %v", rerr))
	}
	// EOF inside the head means it holds the entire input.
	complete := rerr != nil

	format, err := f.Detect(head, meta)
	if err != nil {
		return fail(nil, err)
	}
	op.setFormat(format)

	proc, perr := f.Processor(format)
	if perr != nil {
		return fail(nil, failOp(CodeFormatDetectionFailed, "%v", perr))
	}

	op.setState(StateValidating)
	findings := ValidateUpload(head, meta, format, opts)
	switch {
	case complete:
		findings = append(findings, proc.ValidateFile(head, meta, opts)...)
	case format != FormatXLSX && opts.Encoding == "":
		// The adapter pre-flight needs the whole file; on a partial head
		// only the encoding check is still meaningful.
		if _, confident := DetectEncoding(trimIncompleteRune(head)); !confident {
			findings = append(findings, encodingUncertainWarning())
		}
	}
	gateErrs, gateWarnings := splitSeverity(findings)
	if len(gateErrs) > 0 {
		return fail(findings, failOp(gateErrs[0].Code, "%s", gateErrs[0].Message))
	}

	f.logger.Info("streaming file",
		"operation", op.id,
		"format", string(format),
		"file", meta.FileName,
	)

	op.setState(StateProcessing)
	input := io.MultiReader(bytes.NewReader(head), r)
	result, err := proc.Stream(op.runCtx, input, meta, opts, sink, wrappedProgress)
	if result != nil && len(gateWarnings) > 0 {
		result.Warnings = append(gateWarnings, result.Warnings...)
	}
	op.finishOp(result, err)

	if err != nil {
		f.logger.Warn("stream finished with error",
			"operation", op.id,
			"error", err,
			"records", result.TotalRecords,
		)
	} else {
		f.logger.Info("stream completed",
			"operation", op.id,
			"records", result.TotalRecords,
			"invalid", result.InvalidRecords,
			"durationMs", result.DurationMS,
		)
	}
	return result, err
}

// Operation looks up a registered operation by ID.
func (f *Factory) Operation(id string) (*StreamOperation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	op, ok := f.ops[id]
	return op, ok
}

// Operations returns snapshots of every registered operation.
func (f *Factory) Operations() []OperationSnapshot {
	f.mu.Lock()
	ops := make([]*StreamOperation, 0, len(f.ops))
	for _, op := range f.ops {
		ops = append(ops, op)
	}
	f.mu.Unlock()

	out := make([]OperationSnapshot, len(ops))
	for i, op := range ops {
		out[i] = op.Snapshot()
	}
	return out
}

// Cancel requests cancellation of one operation. Returns false when no such
// operation exists.
func (f *Factory) Cancel(id string) bool {
	op, ok := f.Operation(id)
	if !ok {
		return false
	}
	op.Cancel()
	return true
}

// CancelAll requests cancellation of every non-terminal operation and
// returns how many were signalled.
func (f *Factory) CancelAll() int {
	f.mu.Lock()
	ops := make([]*StreamOperation, 0, len(f.ops))
	for _, op := range f.ops {
		ops = append(ops, op)
	}
	f.mu.Unlock()

	n := 0
	for _, op := range ops {
		if !op.Snapshot().State.terminal() {
			op.Cancel()
			n++
		}
	}
	return n
}

// Forget removes a terminal operation from the registry. Active operations
// are never removed.
func (f *Factory) Forget(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	op, ok := f.ops[id]
	if !ok || !op.Snapshot().State.terminal() {
		return false
	}
	delete(f.ops, id)
	return true
}
