// Package validation provides centralized input validation for tracelens.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
	AllowSpaces  bool
}

// FileNameRules returns the rules for trace file names.
func FileNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowSpaces:  true,
	}
}

// ShareKeyRules returns the rules for share keys.
func ShareKeyRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    64,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required: %w", rules.MinLength, errors.ErrInvalidName)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed: %w", rules.MaxLength, errors.ErrInvalidName)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..': %w", errors.ErrInvalidName)
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.': %w", errors.ErrInvalidName)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d: %w", i, errors.ErrInvalidName)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d: %w", i, errors.ErrInvalidName)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d: %w", r, i, errors.ErrInvalidName)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case ' ':
		return rules.AllowSpaces
	}
	return false
}

// ValidateFileName validates a trace file name (no directories).
func ValidateFileName(name string) error {
	return ValidateName(name, FileNameRules())
}

// ValidateShareKey validates a share key.
func ValidateShareKey(key string) error {
	if key == "" {
		return errors.Wrap(errors.ErrInvalidKey, "empty share key")
	}
	for i, r := range key {
		if r > unicode.MaxASCII {
			return fmt.Errorf("non-ASCII character at position %d: %w", i, errors.ErrInvalidKey)
		}
	}
	if err := ValidateName(key, ShareKeyRules()); err != nil {
		return errors.Join(errors.ErrInvalidKey, err)
	}
	return nil
}

// =============================================================================
// Trace Files
// =============================================================================

// compressionSuffixes may follow the trace extension.
var compressionSuffixes = []string{".gz", ".zst", ".lz4"}

// trimCompression removes one compression suffix.
func trimCompression(name string) string {
	lower := strings.ToLower(name)
	for _, s := range compressionSuffixes {
		if strings.HasSuffix(lower, s) {
			return name[:len(name)-len(s)]
		}
	}
	return name
}

// IsTraceFile reports whether path names a trace file: ".trace", optionally
// followed by a compression suffix.
func IsTraceFile(path string) bool {
	base := trimCompression(filepath.Base(path))
	return strings.HasSuffix(strings.ToLower(base), config.TraceExtension)
}

// ValidateTraceFile checks the extension of a local trace file.
// "-" (stdin) is always accepted.
func ValidateTraceFile(path string) error {
	if path == "-" {
		return nil
	}
	if !IsTraceFile(path) {
		return fmt.Errorf("%s: expected %s: %w", filepath.Base(path), config.TraceExtension, errors.ErrInvalidExtension)
	}
	return nil
}

// EnsureTraceExtension appends ".trace" to name when it is missing.
func EnsureTraceExtension(name string) string {
	if IsTraceFile(name) {
		return name
	}
	return name + config.TraceExtension
}

// SanitizeFileName reduces an untrusted file name to a safe base name.
// Directories and control characters are removed; an empty result becomes
// the default received file name.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")

	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	if name == "" {
		return config.DefaultReceivedFileName
	}
	return name
}
