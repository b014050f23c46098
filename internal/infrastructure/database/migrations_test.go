package database

import "testing"

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{filename: "001_initial_schema.sql", wantVersion: "001", wantName: "initial_schema", wantOK: true},
		{filename: "012_add_device_names.sql", wantVersion: "012", wantName: "add_device_names", wantOK: true},
		{filename: "002_multi_word_name.sql", wantVersion: "002", wantName: "multi_word_name", wantOK: true},
		{filename: "no_version_prefix.sql", wantVersion: "no", wantName: "version_prefix", wantOK: true},
		{filename: "README.md", wantOK: false},
		{filename: "001.sql", wantOK: false},
		{filename: "_missing_version.sql", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("parseMigrationFilename(%q) ok = %v, want %v", tt.filename, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q), want (%q, %q)",
					tt.filename, version, name, tt.wantVersion, tt.wantName)
			}
		})
	}
}
