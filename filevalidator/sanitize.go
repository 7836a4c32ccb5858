package filevalidator

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultFilename replaces names that sanitize to nothing.
	DefaultFilename = "unnamed_file"

	// MaxFilenameLength is the byte ceiling for sanitized names.
	MaxFilenameLength = 200
)

const reservedChars = `<>:"|?*`

// SanitizeFilename returns a name that is safe to display and to forward to
// the backend. It never fails and SanitizeFilename(SanitizeFilename(x)) equals
// SanitizeFilename(x).
func SanitizeFilename(raw string) string {
	name := raw
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) || strings.ContainsRune(reservedChars, r) {
			return -1
		}
		return r
	}, name)

	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.TrimLeft(name, ".")

	if len(name) > MaxFilenameLength {
		name = truncateName(name, MaxFilenameLength)
	}

	if name == "" {
		return DefaultFilename
	}
	return name
}

// truncateName shortens the stem so the whole name fits in limit bytes,
// keeping the extension and never splitting a UTF-8 sequence.
func truncateName(name string, limit int) string {
	ext := filepath.Ext(name)
	if len(ext) >= limit {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	budget := limit - len(ext)
	for len(stem) > budget {
		_, size := utf8.DecodeLastRuneInString(stem)
		stem = stem[:len(stem)-size]
	}
	if ext != "" {
		stem = strings.TrimRight(stem, ".")
	}
	return stem + ext
}
