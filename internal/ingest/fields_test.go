package ingest

import (
	"strings"
	"testing"
)

func TestLoadFieldProfile(t *testing.T) {
	profile := []byte(`
name: datacenter
fields:
  - name: assetId
    type: number
    required: true
  - name: contact
    type: email
  - name: notes
`)

	fields, err := LoadFieldProfile(profile)
	if err != nil {
		t.Fatalf("LoadFieldProfile() error = %v", err)
	}

	canonical := len(DeviceFields())
	if len(fields) != canonical+3 {
		t.Fatalf("got %d fields, want canonical %d plus 3 additions", len(fields), canonical)
	}

	byName := map[string]FieldDefinition{}
	for _, f := range fields {
		byName[f.Name] = f
	}
	if f := byName["assetId"]; f.Type != FieldNumber || !f.Required {
		t.Errorf("assetId = %+v", f)
	}
	if f := byName["notes"]; f.Type != FieldText {
		t.Errorf("untyped field should default to text, got %q", f.Type)
	}
	// Canonical fields survive alongside additions.
	if _, ok := byName[FieldHostname]; !ok {
		t.Error("canonical hostname field missing")
	}
}

func TestLoadFieldProfile_ReplacesCanonicalField(t *testing.T) {
	profile := []byte(`
name: strict-types
fields:
  - name: deviceType
    type: text
    required: true
`)

	fields, err := LoadFieldProfile(profile)
	if err != nil {
		t.Fatalf("LoadFieldProfile() error = %v", err)
	}
	if len(fields) != len(DeviceFields()) {
		t.Fatalf("replacement must not grow the list: got %d", len(fields))
	}
	for _, f := range fields {
		if f.Name == "deviceType" && !f.Required {
			t.Error("canonical field not replaced by profile definition")
		}
	}
}

func TestLoadFieldProfile_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not yaml", "\t{{{"},
		{"no fields", "name: empty\nfields: []"},
		{"unnamed field", "fields:\n  - type: text"},
		{"unknown type", "fields:\n  - name: x\n    type: quaternion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFieldProfile([]byte(tt.in)); err == nil {
				t.Error("LoadFieldProfile() should fail")
			}
		})
	}
}

func TestValidateFieldValue(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		def     FieldDefinition
		wantErr bool
	}{
		{"empty is fine", "", FieldDefinition{Type: FieldNumber}, false},
		{"good number", "42.5", FieldDefinition{Type: FieldNumber}, false},
		{"bad number", "many", FieldDefinition{Type: FieldNumber}, true},
		{"good bool", "yes", FieldDefinition{Type: FieldBool}, false},
		{"bad bool", "perhaps", FieldDefinition{Type: FieldBool}, true},
		{"good date", "2026-08-01", FieldDefinition{Type: FieldDate}, false},
		{"bad date", "soon", FieldDefinition{Type: FieldDate}, true},
		{"good email", "noc@example.com", FieldDefinition{Type: FieldEmail}, false},
		{"bad email", "noc-example", FieldDefinition{Type: FieldEmail}, true},
		{"good ip", "10.0.0.1", FieldDefinition{Type: FieldIP}, false},
		{"bad ip", "999.0.0.1", FieldDefinition{Type: FieldIP}, true},
		{"good mac", "00:1a:2b:3c:4d:5e", FieldDefinition{Type: FieldMAC}, false},
		{"bad mac", "00:xx", FieldDefinition{Type: FieldMAC}, true},
		{"text takes anything", strings.Repeat("z", 100), FieldDefinition{Type: FieldText}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFieldValue(tt.value, tt.def)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFieldValue(%q, %s) error = %v, wantErr %v", tt.value, tt.def.Type, err, tt.wantErr)
			}
		})
	}
}

func TestDeviceFields_ReturnsCopy(t *testing.T) {
	a := DeviceFields()
	a[0].Name = "mutated"
	if DeviceFields()[0].Name != FieldHostname {
		t.Error("DeviceFields() must return a fresh copy")
	}
}
