package ingest

// detect.go classifies raw input bytes as CSV, XLSX or JSON without trusting
// the client-declared MIME type. Detection is a pure function of
// (bytes, metadata): binary container signatures first, then a bounded JSON
// probe, then a delimiter consistency heuristic, then the file extension as
// the final fallback. FormatUnknown is a hard validation error for callers.

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
)

// jsonProbeLimit bounds how many bytes the JSON probe parses, to avoid
// pathological cost on adversarial input.
const jsonProbeLimit = 1000

// detectSampleLines is how many lines the delimiter heuristic inspects.
const detectSampleLines = 5

// Binary container signatures checked against the first bytes of the input.
var (
	zipSignature = []byte{0x50, 0x4B, 0x03, 0x04} // xlsx is a ZIP archive
	zipEmptySig  = []byte{0x50, 0x4B, 0x05, 0x06}
	oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1} // legacy .xls
)

var candidateDelimiters = []rune{',', ';', '\t'}

var extensionFormats = map[string]Format{
	".csv":  FormatCSV,
	".tsv":  FormatCSV,
	".txt":  FormatCSV,
	".xlsx": FormatXLSX,
	".xlsm": FormatXLSX,
	".xls":  FormatXLSX,
	".json": FormatJSON,
}

// DetectFormat classifies the input. First match wins:
//
//  1. ZIP or OLE compound-document signature → spreadsheet
//  2. content starting with '{' or '['  that parses as JSON (bounded) → JSON
//  3. consistent field counts across sample lines for some delimiter → CSV
//  4. file extension mapping
//  5. FormatUnknown
func DetectFormat(data []byte, meta FileMetadata) Format {
	if len(data) >= 4 {
		if bytes.HasPrefix(data, zipSignature) || bytes.HasPrefix(data, zipEmptySig) {
			return FormatXLSX
		}
	}
	if len(data) >= 8 && bytes.HasPrefix(data, oleSignature) {
		return FormatXLSX
	}

	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		probe := trimmed
		if len(probe) > jsonProbeLimit {
			probe = probe[:jsonProbeLimit]
		}
		var v any
		if sonic.Unmarshal(probe, &v) == nil {
			return FormatJSON
		}
	}

	if looksDelimited(trimmed) {
		return FormatCSV
	}

	ext := strings.ToLower(filepath.Ext(meta.FileName))
	if f, ok := extensionFormats[ext]; ok {
		return f
	}

	return FormatUnknown
}

// looksDelimited applies the field-count consistency heuristic: for some
// candidate delimiter, at least two of the sample lines after the first must
// have a field count within ±1 of the first line's count.
func looksDelimited(data []byte) bool {
	lines := sampleLines(data, detectSampleLines)
	if len(lines) < 3 {
		return false
	}

	for _, delim := range candidateDelimiters {
		first := countFields(lines[0], delim)
		if first < 2 {
			continue
		}
		consistent := 0
		for _, line := range lines[1:] {
			n := countFields(line, delim)
			if n >= first-1 && n <= first+1 {
				consistent++
			}
		}
		if consistent >= 2 {
			return true
		}
	}
	return false
}

// sampleLines returns up to max non-empty leading lines of data.
func sampleLines(data []byte, max int) []string {
	var lines []string
	for len(data) > 0 && len(lines) < max {
		raw := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			raw = data[:i]
			data = data[i+1:]
		} else {
			data = nil
		}
		line := strings.TrimRight(string(raw), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func countFields(line string, delim rune) int {
	return strings.Count(line, string(delim)) + 1
}

// sniffDelimiter picks the delimiter producing the most fields on the first
// line. Used by the CSV adapter when no delimiter option is set.
func sniffDelimiter(data []byte) rune {
	lines := sampleLines(data, 1)
	if len(lines) == 0 {
		return ','
	}
	best, bestCount := ',', 1
	for _, delim := range candidateDelimiters {
		if n := countFields(lines[0], delim); n > bestCount {
			best, bestCount = delim, n
		}
	}
	return best
}
