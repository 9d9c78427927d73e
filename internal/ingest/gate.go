package ingest

// gate.go is the format-independent validation gate, run before (or
// alongside) adapter-specific validation. It covers the checks that make
// sense for any upload: size limits, filename safety, a small set of
// suspicious content signatures, a nesting-depth scan for adversarially deep
// structured input, and declared-MIME vs. detected-format consistency.

import (
	"bytes"
	"fmt"
	"strings"
)

// nestingScanLimit bounds the depth scan to the head of the file.
const nestingScanLimit = 10 * 1024

// maxNestingDepth is the deepest bracket nesting tolerated in the scanned
// prefix of structured input.
const maxNestingDepth = 20

// maxFilenameLength rejects names that would break most filesystems anyway.
const maxFilenameLength = 255

// suspiciousSignatures are byte patterns that have no business in a device
// import file. Matching any of them is a hard error.
var suspiciousSignatures = [][]byte{
	{0x4D, 0x5A},             // Windows PE executable
	{0x7F, 0x45, 0x4C, 0x46}, // ELF executable
	{0xCA, 0xFE, 0xBA, 0xBE}, // Mach-O universal binary
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("<?php"),
}

// reservedNames are Windows device names that cannot be used as filenames.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// acceptedMIMETypes maps each format to the declared MIME types considered
// consistent with it. An empty declared type is always accepted.
var acceptedMIMETypes = map[Format][]string{
	FormatCSV: {
		"text/csv", "text/plain", "application/csv",
		"application/vnd.ms-excel", // browsers commonly declare this for .csv
	},
	FormatXLSX: {
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
		"application/zip",
		"application/octet-stream",
	},
	FormatJSON: {
		"application/json", "text/json", "text/plain", "application/x-json",
	},
}

// ValidateUpload runs the gate against raw bytes and metadata. detected may
// be FormatUnknown when called before detection; the MIME consistency check
// is skipped in that case.
func ValidateUpload(data []byte, meta FileMetadata, detected Format, opts Options) []ValidationError {
	opts = opts.withDefaults()
	var findings []ValidationError

	if int64(len(data)) > opts.MaxFileSize {
		findings = append(findings, ValidationError{
			Code:     CodeFileTooLarge,
			Message:  fmt.Sprintf("file size %d exceeds limit of %d bytes", len(data), opts.MaxFileSize),
			Severity: SeverityError,
		})
	} else if int64(len(data)) > LargeFileWarningSize {
		findings = append(findings, ValidationError{
			Code:     CodeLargeFileWarning,
			Message:  fmt.Sprintf("large file (%d MB); processing may be slow", len(data)/(1024*1024)),
			Severity: SeverityWarning,
		})
	}

	if err := CheckFilename(meta.FileName); err != nil {
		findings = append(findings, ValidationError{
			Field:    "fileName",
			Value:    meta.FileName,
			Code:     CodeUnsafeFilename,
			Message:  err.Error(),
			Severity: SeverityError,
		})
	}

	if sig := matchSuspiciousSignature(data); sig != "" {
		findings = append(findings, ValidationError{
			Code:     CodeSuspiciousContent,
			Message:  fmt.Sprintf("file content matches suspicious signature %q", sig),
			Severity: SeverityError,
		})
	}

	// Binary container formats legitimately nest; the depth scan only makes
	// sense for text input.
	if detected != FormatXLSX {
		if depth := scanNestingDepth(data); depth > maxNestingDepth {
			findings = append(findings, ValidationError{
				Code:     CodeNestingTooDeep,
				Message:  fmt.Sprintf("structure nesting depth %d exceeds limit of %d", depth, maxNestingDepth),
				Severity: SeverityError,
			})
		}
	}

	if detected != FormatUnknown {
		findings = append(findings, checkMIMEConsistency(meta.MIMEType, detected)...)
	}

	return findings
}

// CheckFilename rejects names with path traversal, control characters,
// reserved device names, or excessive length.
func CheckFilename(name string) error {
	if name == "" {
		return nil // metadata may omit the name; nothing to check
	}
	if len(name) > maxFilenameLength {
		return fmt.Errorf("filename exceeds %d characters", maxFilenameLength)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("filename contains path traversal characters")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7F {
			return fmt.Errorf("filename contains control characters")
		}
	}
	base := strings.ToLower(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if reservedNames[base] {
		return fmt.Errorf("filename uses reserved device name %q", base)
	}
	return nil
}

// matchSuspiciousSignature returns a printable description of the first
// matching signature, or "".
func matchSuspiciousSignature(data []byte) string {
	head := data
	if len(head) > nestingScanLimit {
		head = head[:nestingScanLimit]
	}
	lower := bytes.ToLower(head)
	for _, sig := range suspiciousSignatures {
		if len(sig) <= 4 {
			// Binary signatures only count at the start of the file.
			if bytes.HasPrefix(head, sig) {
				return fmt.Sprintf("%X", sig)
			}
			continue
		}
		if bytes.Contains(lower, bytes.ToLower(sig)) {
			return string(sig)
		}
	}
	return ""
}

// scanNestingDepth returns the maximum brace/bracket nesting depth within
// the first 10 KB, ignoring brackets inside double-quoted strings.
func scanNestingDepth(data []byte) int {
	if len(data) > nestingScanLimit {
		data = data[:nestingScanLimit]
	}
	depth, maxDepth := 0, 0
	inString, escaped := false, false
	for _, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	return maxDepth
}

// checkMIMEConsistency compares the declared MIME type to the detected
// format. JSON gets a warning (its MIME conventions vary widely); the other
// formats get an error.
func checkMIMEConsistency(declared string, detected Format) []ValidationError {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" {
		return nil
	}
	// Strip parameters like "; charset=utf-8".
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	for _, accepted := range acceptedMIMETypes[detected] {
		if declared == accepted {
			return nil
		}
	}

	severity := SeverityError
	if detected == FormatJSON {
		severity = SeverityWarning
	}
	return []ValidationError{{
		Field:    "mimeType",
		Value:    declared,
		Code:     CodeMIMEMismatch,
		Message:  fmt.Sprintf("declared type %q does not match detected format %q", declared, detected),
		Severity: severity,
	}}
}
