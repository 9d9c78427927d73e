package ingest

// template.go holds the helpers shared by the per-format template and export
// operations: example value synthesis by field type and the flattening of
// devices into tabular rows.

import (
	"sort"
	"strings"
)

// exampleValue returns the example for a field: the definition's own example
// when present, otherwise a representative value synthesized from the type.
func exampleValue(f FieldDefinition) string {
	if f.Example != "" {
		return f.Example
	}
	if len(f.EnumValues) > 0 {
		return f.EnumValues[0]
	}
	switch f.Type {
	case FieldNumber:
		return "42"
	case FieldBool:
		return "true"
	case FieldDate:
		return "2024-01-15"
	case FieldEmail:
		return "admin@example.com"
	case FieldIP:
		return "192.168.1.10"
	case FieldMAC:
		return "00:1a:2b:3c:4d:5e"
	default:
		return "example"
	}
}

// deviceColumnNames returns the canonical column order for tabular export.
func deviceColumnNames() []string {
	return []string{
		FieldHostname, FieldIPAddress, FieldMACAddress,
		FieldDeviceType, FieldStatus, FieldTags,
	}
}

// collectCustomColumns gathers the union of custom field names across
// devices, sorted for deterministic output.
func collectCustomColumns(devices []Device) []string {
	seen := make(map[string]bool)
	for _, d := range devices {
		for k := range d.CustomFields {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// deviceRow flattens a device into cells matching deviceColumnNames followed
// by the given custom columns.
func deviceRow(d Device, customCols []string) []string {
	row := []string{
		d.Hostname,
		d.IPAddress,
		d.MACAddress,
		d.DeviceType,
		d.Status,
		strings.Join(d.Tags, ","),
	}
	for _, col := range customCols {
		cell := ""
		if v, ok := d.CustomFields[col]; ok {
			if s, ok := ToString(v); ok {
				cell = s
			}
		}
		row = append(row, cell)
	}
	return row
}
