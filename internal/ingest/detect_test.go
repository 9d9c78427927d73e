package ingest

import (
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		fileName string
		want     Format
	}{
		{
			name: "json object",
			data: `{"devices": [{"hostname": "sw-01"}]}`,
			want: FormatJSON,
		},
		{
			name: "json array",
			data: `[{"hostname": "sw-01"}]`,
			want: FormatJSON,
		},
		{
			name: "json with leading whitespace",
			data: "\n\t  [1, 2, 3]",
			want: FormatJSON,
		},
		{
			name: "comma delimited",
			data: "hostname,ipAddress,status\nsw-01,10.0.0.1,active\nsw-02,10.0.0.2,active\n",
			want: FormatCSV,
		},
		{
			name: "semicolon delimited",
			data: "hostname;ipAddress\nsw-01;10.0.0.1\nsw-02;10.0.0.2\n",
			want: FormatCSV,
		},
		{
			name: "tab delimited",
			data: "hostname\tipAddress\nsw-01\t10.0.0.1\nsw-02\t10.0.0.2\n",
			want: FormatCSV,
		},
		{
			name: "zip signature",
			data: "PK\x03\x04workbook bytes",
			want: FormatXLSX,
		},
		{
			name: "ole signature",
			data: "\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1legacy",
			want: FormatXLSX,
		},
		{
			name:     "extension fallback",
			data:     "one line only",
			fileName: "devices.csv",
			want:     FormatCSV,
		},
		{
			name:     "extension fallback xlsx",
			data:     "x",
			fileName: "devices.xlsx",
			want:     FormatXLSX,
		},
		{
			name: "two lines is not enough for the heuristic",
			data: "a,b,c\n1,2,3\n",
			want: FormatUnknown,
		},
		{
			name: "inconsistent field counts",
			data: "a,b,c\nno delimiters here\nstill none\nnope\n",
			want: FormatUnknown,
		},
		{
			name: "plain prose",
			data: "This is a letter to the operations team.\nIt has no structure.\nRegards.\n",
			want: FormatUnknown,
		},
		{
			name: "empty input",
			data: "",
			want: FormatUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectFormat([]byte(tt.data), FileMetadata{FileName: tt.fileName})
			if got != tt.want {
				t.Errorf("DetectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectFormat_ContentBeatsExtension(t *testing.T) {
	// A JSON body with a .csv name must be detected as JSON.
	data := []byte(`[{"hostname": "sw-01", "ipAddress": "10.0.0.1"}]`)
	got := DetectFormat(data, FileMetadata{FileName: "devices.csv"})
	if got != FormatJSON {
		t.Errorf("DetectFormat() = %q, want %q (content must win over extension)", got, FormatJSON)
	}
}

func TestDetectFormat_BoundedJSONProbe(t *testing.T) {
	// A document that starts like JSON but is cut off beyond the probe limit
	// must not hang or misclassify cheap prefixes as JSON.
	big := "[" + strings.Repeat(`{"hostname":"sw"},`, 200)
	got := DetectFormat([]byte(big), FileMetadata{})
	if got == FormatCSV {
		t.Errorf("DetectFormat() = %q for truncated JSON prefix", got)
	}
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		name string
		data string
		want rune
	}{
		{"comma", "a,b,c\n1,2,3\n", ','},
		{"semicolon", "a;b;c\n1;2;3\n", ';'},
		{"tab", "a\tb\tc\n", '\t'},
		{"semicolon beats comma", "a;b;c;d\nx,y\n", ';'},
		{"default comma", "no delimiters\n", ','},
		{"empty", "", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sniffDelimiter([]byte(tt.data)); got != tt.want {
				t.Errorf("sniffDelimiter() = %q, want %q", got, tt.want)
			}
		})
	}
}
