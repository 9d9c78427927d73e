package ingest

// encoding.go handles character encoding concerns for text-format inputs:
//
//   - DetectEncoding: charset sniffing over a bounded sample with a
//     confidence floor. Detection failure is never fatal — the caller gets
//     UTF-8 plus a low-confidence signal and records a warning.
//   - DecodeToUTF8: transcodes a buffer to UTF-8 via x/text.
//   - bomSkippingReader / utf8SanitizingReader: streaming wrappers that
//     strip a UTF-8 BOM and replace invalid byte sequences on the fly, so
//     the streaming path never needs the whole file resident.
//
// Wrap order matters: BOM first, then sanitization (see wrapTextReader).

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// encodingSampleSize bounds how much input the charset detector sees.
const encodingSampleSize = 64 * 1024

// encodingConfidenceFloor is the chardet confidence (0-100) below which the
// guess is discarded in favor of UTF-8.
const encodingConfidenceFloor = 80

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectEncoding sniffs the charset of data from at most the first 64 KB.
// It returns the canonical encoding name and whether the detector was
// confident. Low confidence or detector failure yields ("utf-8", false);
// it never returns an error.
func DetectEncoding(data []byte) (string, bool) {
	if len(data) == 0 {
		return "utf-8", true
	}
	sample := data
	if len(sample) > encodingSampleSize {
		sample = sample[:encodingSampleSize]
	}
	if bytes.HasPrefix(sample, utf8BOM) || utf8.Valid(sample) {
		return "utf-8", true
	}

	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || result == nil || result.Confidence < encodingConfidenceFloor {
		return "utf-8", false
	}
	return strings.ToLower(result.Charset), true
}

// DecodeToUTF8 transcodes data from the named encoding to UTF-8 and strips
// any leading BOM. Unknown encoding names fall back to a lossy UTF-8
// sanitization pass rather than failing.
func DecodeToUTF8(data []byte, encodingName string) ([]byte, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	name := strings.ToLower(strings.TrimSpace(encodingName))
	if name == "" || name == "utf-8" || name == "utf8" || name == "ascii" {
		return sanitizeUTF8(data), nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return sanitizeUTF8(data), nil
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return bytes.TrimPrefix(decoded, utf8BOM), nil
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with '?'. The input is not
// modified.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, '?')
			i++
			continue
		}
		out = append(out, data[i:i+size]...)
		i += size
	}
	return out
}

// bomSkippingReader wraps an io.Reader and skips a leading UTF-8 BOM, which
// Windows tooling commonly prepends to exported files.
type bomSkippingReader struct {
	reader  io.Reader
	checked bool
	buf     [3]byte
	pending []byte
}

func newBOMSkippingReader(r io.Reader) *bomSkippingReader {
	return &bomSkippingReader{reader: r}
}

func (r *bomSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		n, err := io.ReadFull(r.reader, r.buf[:])
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if n > 0 && !(n == 3 && bytes.Equal(r.buf[:3], utf8BOM)) {
			r.pending = r.buf[:n]
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
	}

	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}
	return r.reader.Read(p)
}

// utf8SanitizingReader wraps an io.Reader and replaces invalid UTF-8
// sequences with '?' on the fly, keeping memory at O(buffer size). Incomplete
// multi-byte sequences at a read boundary are carried over to the next read.
type utf8SanitizingReader struct {
	reader  io.Reader
	pending []byte
}

func newUTF8SanitizingReader(r io.Reader) *utf8SanitizingReader {
	return &utf8SanitizingReader{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

func (s *utf8SanitizingReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	// Fast path: pure ASCII needs no inspection.
	ascii := true
	for _, b := range p[:n] {
		if b >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return n, err
	}

	atEOF := err == io.EOF
	write := 0
	for read := 0; read < n; {
		r, size := utf8.DecodeRune(p[read:n])
		if r == utf8.RuneError && size == 1 {
			if !atEOF && expectedRuneLen(p[read]) > n-read {
				// Possibly an incomplete sequence split across reads.
				s.pending = append(s.pending, p[read:n]...)
				return write, err
			}
			p[write] = '?'
			write++
			read++
			continue
		}
		copy(p[write:], p[read:read+size])
		write += size
		read += size
	}
	return write, err
}

// trimIncompleteRune drops a trailing incomplete UTF-8 sequence, which shows
// up when a buffer boundary splits a multi-byte rune. Complete or already
// invalid tails are left alone.
func trimIncompleteRune(data []byte) []byte {
	end := len(data)
	for i := 1; i <= utf8.UTFMax && end-i >= 0; i++ {
		b := data[end-i]
		if b < 0x80 {
			return data
		}
		if b >= 0xC0 {
			if expectedRuneLen(b) > i {
				return data[:end-i]
			}
			return data
		}
	}
	return data
}

// expectedRuneLen returns the byte length implied by a UTF-8 leading byte,
// or 0 for a continuation byte.
func expectedRuneLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// wrapTextReader prepares a raw byte stream for text parsing: decode to
// UTF-8 when a non-UTF-8 encoding was detected or hinted, strip the BOM,
// sanitize invalid sequences.
func wrapTextReader(r io.Reader, encodingName string) io.Reader {
	name := strings.ToLower(strings.TrimSpace(encodingName))
	if name != "" && name != "utf-8" && name != "utf8" && name != "ascii" {
		if enc, err := htmlindex.Get(name); err == nil {
			r = transform.NewReader(r, enc.NewDecoder())
		}
	} else {
		// BOMOverride keeps a stray UTF-16 BOM from corrupting the stream.
		r = transform.NewReader(r, unicode.BOMOverride(transform.Nop))
	}
	return newUTF8SanitizingReader(newBOMSkippingReader(r))
}
