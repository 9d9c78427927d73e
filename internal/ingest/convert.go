package ingest

// convert.go provides safe type coercion helpers and field format validators.
//
// Coercions never panic and never return an error: malformed input yields
// ok=false, mirroring how empty cells become NULL-like absent values. Format
// validators use fixed grammars (dotted-quad IPv4 with octet range checks,
// colon- or dash-separated hex pairs for MAC) rather than permissive parsing.

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Pre-compiled patterns (avoids recompilation on each call).
var (
	macRegex   = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Date layouts accepted by ToDate, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"20060102",
}

// ToString coerces an arbitrary decoded value to a trimmed string.
// Nil and unsupported types yield ok=false.
func ToString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(t), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		// JSON numbers decode as float64; render integers without a point.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

// ToNumber coerces a value to float64. Accepts numeric strings with
// currency symbols, thousands separators and accounting negatives "(1.5)".
func ToNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		neg := false
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			neg = true
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
		s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		if neg {
			f = -f
		}
		return f, true
	default:
		return 0, false
	}
}

// ToBool coerces a value to bool. String forms follow common spreadsheet
// conventions: yes/no, y/n, true/false, t/f, 1/0.
func ToBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		if t == 1 {
			return true, true
		}
		if t == 0 {
			return false, true
		}
		return false, false
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "t", "yes", "y", "1":
			return true, true
		case "false", "f", "no", "n", "0":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// ToDate coerces a value to a time.Time using a fixed set of layouts.
func ToDate(v any) (time.Time, bool) {
	s, ok := ToString(v)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsValidIPv4 reports whether s is a dotted-quad IPv4 address with each
// octet in range. IPv6 and shorthand forms are rejected.
func IsValidIPv4(s string) bool {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		// Reject non-digit characters that ParseIP would tolerate elsewhere.
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return false
		}
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// IsValidMAC reports whether s is six hex pairs separated consistently by
// colons or dashes.
func IsValidMAC(s string) bool {
	s = strings.TrimSpace(s)
	if !macRegex.MatchString(s) {
		return false
	}
	// Mixed separators ("aa:bb-cc...") pass the regex but not net.ParseMAC.
	_, err := net.ParseMAC(s)
	return err == nil
}

// NormalizeMAC canonicalizes a valid MAC to lower-case colon-separated form.
func NormalizeMAC(s string) string {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return hw.String()
}

// IsValidEmail reports whether s looks like an email address. The grammar is
// intentionally loose; deliverability is not this layer's problem.
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(strings.TrimSpace(s))
}
