package ingest

// device.go holds the canonical record shape and the shared per-record
// validation used by every format adapter. Adapters hand in a raw field map
// (whatever their parser produced) and get back a Result: either a projected
// Device plus warnings, or the error list with the raw input preserved.
//
// Validation happens in a fixed order so error messages are deterministic:
// required fields, address grammars, enum coercion, then projection. Any
// input field outside the canonical schema is preserved verbatim under
// CustomFields so export→import round-trips are lossless.

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Device is the canonical, validated record every format converts into.
type Device struct {
	Hostname     string         `json:"hostname"`
	IPAddress    string         `json:"ipAddress"`
	MACAddress   string         `json:"macAddress,omitempty"`
	DeviceType   string         `json:"deviceType,omitempty"`
	Status       string         `json:"status"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// DeviceTypes returns the fixed device type enum. Unrecognized input values
// coerce to "other" with a warning.
func DeviceTypes() []string {
	return []string{
		"router", "switch", "firewall", "server", "workstation",
		"printer", "access_point", "load_balancer", "other",
	}
}

// DeviceStatuses returns the fixed status enum. Missing or unrecognized
// values coerce to "active" with a warning.
func DeviceStatuses() []string {
	return []string{"active", "inactive", "maintenance", "decommissioned"}
}

// ShapeChecker validates a raw record and projects it into a Device.
// Implementations must be pure: no I/O, no retained references to raw.
type ShapeChecker interface {
	Check(raw map[string]any) (dev *Device, errs, warnings []ValidationError)
}

// defaultShapeChecker is the fixed field-by-field device checker.
var defaultShapeChecker ShapeChecker = deviceShapeChecker{}

// canonicalAliases maps normalized header names to canonical field names.
// Normalization lowercases and strips spaces, underscores and dashes, so
// "IP Address", "ip_address" and "ipAddress" all resolve without aliases.
var canonicalAliases = map[string]string{
	"hostname":   FieldHostname,
	"host":       FieldHostname,
	"devicename": FieldHostname,
	"ipaddress":  FieldIPAddress,
	"ip":         FieldIPAddress,
	"ipv4":       FieldIPAddress,
	"macaddress": FieldMACAddress,
	"mac":        FieldMACAddress,
	"devicetype": FieldDeviceType,
	"type":       FieldDeviceType,
	"status":     FieldStatus,
	"state":      FieldStatus,
	"tags":       FieldTags,
	"labels":     FieldTags,
}

// normalizeFieldName lowercases a header and strips separator characters.
func normalizeFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// canonicalField resolves an input field name to its canonical schema name,
// or "" if the field is not part of the canonical schema.
func canonicalField(name string) string {
	return canonicalAliases[normalizeFieldName(name)]
}

type deviceShapeChecker struct{}

func (deviceShapeChecker) Check(raw map[string]any) (*Device, []ValidationError, []ValidationError) {
	var errs, warnings []ValidationError

	// Split raw fields into canonical values and custom extras up front so
	// nothing is silently dropped.
	canonical := make(map[string]any, 6)
	var custom map[string]any
	for key, val := range raw {
		if cf := canonicalField(key); cf != "" {
			canonical[cf] = val
			continue
		}
		if custom == nil {
			custom = make(map[string]any)
		}
		custom[key] = val
	}

	hostname, _ := ToString(canonical[FieldHostname])
	if hostname == "" {
		errs = append(errs, ValidationError{
			Field:    FieldHostname,
			Code:     CodeRequiredFieldMissing,
			Message:  "hostname is required",
			Severity: SeverityError,
		})
	}

	ip, _ := ToString(canonical[FieldIPAddress])
	if ip == "" {
		errs = append(errs, ValidationError{
			Field:    FieldIPAddress,
			Code:     CodeInvalidIPAddress,
			Message:  "ipAddress is required",
			Severity: SeverityError,
		})
	} else if !IsValidIPv4(ip) {
		errs = append(errs, ValidationError{
			Field:    FieldIPAddress,
			Value:    ip,
			Code:     CodeInvalidIPAddress,
			Message:  "not a valid IPv4 address",
			Severity: SeverityError,
		})
	}

	mac, _ := ToString(canonical[FieldMACAddress])
	if mac != "" && !IsValidMAC(mac) {
		errs = append(errs, ValidationError{
			Field:    FieldMACAddress,
			Value:    mac,
			Code:     CodeInvalidMACAddress,
			Message:  "not a valid MAC address",
			Severity: SeverityError,
		})
	}

	deviceType, _ := ToString(canonical[FieldDeviceType])
	if deviceType != "" {
		normalized, ok := matchEnum(deviceType, DeviceTypes())
		if !ok {
			warnings = append(warnings, ValidationError{
				Field:    FieldDeviceType,
				Value:    deviceType,
				Code:     CodeUnknownEnumValue,
				Message:  fmt.Sprintf("unrecognized device type %q, defaulting to \"other\"", deviceType),
				Severity: SeverityWarning,
			})
			normalized = "other"
		}
		deviceType = normalized
	}

	status, _ := ToString(canonical[FieldStatus])
	if normalized, ok := matchEnum(status, DeviceStatuses()); ok {
		status = normalized
	} else {
		msg := "status missing, defaulting to \"active\""
		if status != "" {
			msg = fmt.Sprintf("unrecognized status %q, defaulting to \"active\"", status)
		}
		warnings = append(warnings, ValidationError{
			Field:    FieldStatus,
			Value:    status,
			Code:     CodeUnknownEnumValue,
			Message:  msg,
			Severity: SeverityWarning,
		})
		status = "active"
	}

	if len(errs) > 0 {
		return nil, errs, warnings
	}

	dev := &Device{
		Hostname:     hostname,
		IPAddress:    ip,
		DeviceType:   deviceType,
		Status:       status,
		Tags:         ParseTags(canonical[FieldTags]),
		CustomFields: custom,
	}
	if mac != "" {
		dev.MACAddress = NormalizeMAC(mac)
	}
	return dev, nil, warnings
}

// matchEnum matches value case-insensitively against allowed values,
// returning the canonical spelling.
func matchEnum(value string, allowed []string) (string, bool) {
	if value == "" {
		return "", false
	}
	normalized := normalizeFieldName(value)
	for _, a := range allowed {
		if normalized == normalizeFieldName(a) {
			return a, true
		}
	}
	return "", false
}

// ParseTags converts a tag-like input value into a deduplicated list of
// non-empty trimmed strings. Accepted shapes: a decoded array, a
// delimiter-separated string ("a,b;c"), or a JSON-array-shaped string
// (`["a","b"]`).
func ParseTags(v any) []string {
	var parts []string

	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range t {
			if s, ok := ToString(item); ok {
				parts = append(parts, s)
			}
		}
	case []string:
		parts = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") {
			var arr []any
			if err := sonic.UnmarshalString(s, &arr); err == nil {
				return ParseTags(arr)
			}
		}
		parts = strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ';' || r == '|'
		})
	default:
		if s, ok := ToString(v); ok {
			return ParseTags(s)
		}
		return nil
	}

	seen := make(map[string]bool, len(parts))
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		tags = append(tags, p)
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// ValidateRecord runs the shared per-record pipeline: shape check, severity
// split, projection. index is the 1-based input position. An unexpected
// panic inside a checker becomes a RECORD_PROCESSING_ERROR on that record
// instead of taking down the whole file.
func ValidateRecord(raw map[string]any, index int, checker ShapeChecker) (result Result) {
	result = Result{Index: index, Raw: raw}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Device = nil
			result.Errors = append(result.Errors, ValidationError{
				Code:     CodeRecordProcessingError,
				Message:  fmt.Sprintf("unexpected error processing record: %v", r),
				Severity: SeverityError,
			})
		}
	}()

	dev, errs, warnings := checker.Check(raw)
	result.Errors = errs
	result.Warnings = warnings
	result.Success = len(errs) == 0
	if result.Success {
		result.Device = dev
	}
	return result
}

// FieldShapeChecker returns a ShapeChecker that layers typed validation of a
// field profile on top of the canonical device checks. Profile fields that
// fail their declared type produce error-severity findings; the device
// projection is otherwise unchanged.
func FieldShapeChecker(fields []FieldDefinition) ShapeChecker {
	return fieldShapeChecker{fields: fields}
}

type fieldShapeChecker struct {
	fields []FieldDefinition
}

func (c fieldShapeChecker) Check(raw map[string]any) (*Device, []ValidationError, []ValidationError) {
	dev, errs, warnings := defaultShapeChecker.Check(raw)

	byNormalized := make(map[string]any, len(raw))
	for key, val := range raw {
		byNormalized[normalizeFieldName(key)] = val
	}

	for _, def := range c.fields {
		// Canonical fields are already covered by the device checker.
		if canonicalField(def.Name) != "" {
			continue
		}
		val := byNormalized[normalizeFieldName(def.Name)]
		s, _ := ToString(val)
		if s == "" {
			if def.Required {
				errs = append(errs, ValidationError{
					Field:    def.Name,
					Code:     CodeRequiredFieldMissing,
					Message:  fmt.Sprintf("%s is required", def.Name),
					Severity: SeverityError,
				})
			}
			continue
		}
		if err := ValidateFieldValue(s, def); err != nil {
			errs = append(errs, ValidationError{
				Field:    def.Name,
				Value:    s,
				Code:     CodeRowProcessingError,
				Message:  err.Error(),
				Severity: SeverityError,
			})
		}
		if len(def.EnumValues) > 0 {
			if _, ok := matchEnum(s, def.EnumValues); !ok {
				warnings = append(warnings, ValidationError{
					Field:    def.Name,
					Value:    s,
					Code:     CodeUnknownEnumValue,
					Message:  fmt.Sprintf("value must be one of: %s", strings.Join(def.EnumValues, ", ")),
					Severity: SeverityWarning,
				})
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs, warnings
	}
	return dev, nil, warnings
}
