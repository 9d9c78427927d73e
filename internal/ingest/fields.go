package ingest

// fields.go defines the canonical device import schema and the loader for
// deployment-specific field profiles. A profile is a YAML document that
// extends or replaces the canonical field list, letting installations add
// typed validation for fields that would otherwise land in customFields.

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Canonical field names recognized by the device schema. Input headers are
// matched case-insensitively with separators removed, so "ip_address",
// "IP Address" and "ipAddress" all map to FieldIPAddress.
const (
	FieldHostname   = "hostname"
	FieldIPAddress  = "ipAddress"
	FieldMACAddress = "macAddress"
	FieldDeviceType = "deviceType"
	FieldStatus     = "status"
	FieldTags       = "tags"
)

// DeviceFields returns the canonical import schema for network devices.
// The returned slice is a fresh copy; callers may modify it.
func DeviceFields() []FieldDefinition {
	return []FieldDefinition{
		{Name: FieldHostname, Type: FieldText, Required: true, Example: "core-sw-01"},
		{Name: FieldIPAddress, Type: FieldIP, Required: true, Example: "192.168.1.10"},
		{Name: FieldMACAddress, Type: FieldMAC, Example: "00:1a:2b:3c:4d:5e"},
		{Name: FieldDeviceType, Type: FieldText, Example: "switch", EnumValues: DeviceTypes()},
		{Name: FieldStatus, Type: FieldText, Example: "active", EnumValues: DeviceStatuses()},
		{Name: FieldTags, Type: FieldText, Example: "core,rack-4"},
	}
}

// fieldProfile is the on-disk shape of a field profile document.
type fieldProfile struct {
	Name   string            `yaml:"name"`
	Fields []FieldDefinition `yaml:"fields"`
}

// LoadFieldProfile parses a YAML field profile and returns the effective
// field list: the canonical device fields followed by the profile's
// additions. A profile field whose name matches a canonical field replaces
// it in place.
func LoadFieldProfile(data []byte) ([]FieldDefinition, error) {
	var profile fieldProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse field profile: %w", err)
	}
	if len(profile.Fields) == 0 {
		return nil, fmt.Errorf("field profile %q defines no fields", profile.Name)
	}

	for i, f := range profile.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field profile %q: field %d has no name", profile.Name, i)
		}
		switch f.Type {
		case FieldText, FieldNumber, FieldBool, FieldDate, FieldEmail, FieldIP, FieldMAC:
		case "":
			profile.Fields[i].Type = FieldText
		default:
			return nil, fmt.Errorf("field profile %q: field %q has unknown type %q", profile.Name, f.Name, f.Type)
		}
	}

	fields := DeviceFields()
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[normalizeFieldName(f.Name)] = i
	}

	for _, f := range profile.Fields {
		if i, ok := byName[normalizeFieldName(f.Name)]; ok {
			fields[i] = f
			continue
		}
		fields = append(fields, f)
	}

	return fields, nil
}

// ValidateFieldValue checks a raw value against a field definition's type.
// Empty values are accepted here; required-ness is the shape checker's job.
func ValidateFieldValue(value string, def FieldDefinition) error {
	if value == "" {
		return nil
	}
	switch def.Type {
	case FieldNumber:
		if _, ok := ToNumber(value); !ok {
			return fmt.Errorf("invalid number format")
		}
	case FieldBool:
		if _, ok := ToBool(value); !ok {
			return fmt.Errorf("must be yes/no, true/false, or 1/0")
		}
	case FieldDate:
		if _, ok := ToDate(value); !ok {
			return fmt.Errorf("invalid date format (use YYYY-MM-DD or similar)")
		}
	case FieldEmail:
		if !IsValidEmail(value) {
			return fmt.Errorf("invalid email address")
		}
	case FieldIP:
		if !IsValidIPv4(value) {
			return fmt.Errorf("invalid IPv4 address")
		}
	case FieldMAC:
		if !IsValidMAC(value) {
			return fmt.Errorf("invalid MAC address")
		}
	}
	return nil
}
