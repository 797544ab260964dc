package validation

import (
	"strings"
	"testing"

	"github.com/xtxerr/tracelens/internal/errors"
)

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "disk.trace", false},
		{"with hyphen", "my-disk.trace", false},
		{"with underscore", "my_disk.trace", false},
		{"with space", "disk 1.trace", false},
		{"numbers", "123", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"hidden", ".hidden", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"control char", "a\x00b", true},
		{"too long", strings.Repeat("a", 256), true},
		{"quote", `a"b`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFileName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestValidateShareKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"shortid", "dppUr5Bk-", false},
		{"underscore", "a_b", false},
		{"empty", "", true},
		{"dot", "a.b", true},
		{"slash", "a/b", true},
		{"query", "a?trace=b", true},
		{"unicode", "schlüssel", true},
		{"too long", strings.Repeat("k", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateShareKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateShareKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestValidateTraceFile(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"disk.trace", false},
		{"/var/tmp/disk.trace", false},
		{"disk.TRACE", false},
		{"disk.trace.gz", false},
		{"disk.trace.zst", false},
		{"disk.trace.lz4", false},
		{"-", false},
		{"disk.txt", true},
		{"disk.gz", true},
		{"disk.trace.bz2", true},
		{"trace", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidateTraceFile(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTraceFile(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidExtension) {
				t.Errorf("expected ErrInvalidExtension, got %v", err)
			}
		})
	}
}

func TestEnsureTraceExtension(t *testing.T) {
	tests := map[string]string{
		"disk":          "disk.trace",
		"disk.trace":    "disk.trace",
		"disk.trace.gz": "disk.trace.gz",
		"disk.log":      "disk.log.trace",
	}
	for in, want := range tests {
		if got := EnsureTraceExtension(in); got != want {
			t.Errorf("EnsureTraceExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"disk.trace":           "disk.trace",
		"../../etc/passwd":     "passwd",
		`C:\traces\disk.trace`: "disk.trace",
		"a\x00b.trace":         "ab.trace",
		"  .hidden.trace ":     "hidden.trace",
		"":                     "received_trace.trace",
		"dir/":                 "received_trace.trace",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
