package filevalidator

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// FormatSizeReadable converts a size in bytes to a human-readable string
func FormatSizeReadable(size int64) string {
	switch {
	case size < KB:
		return fmt.Sprintf("%d B", size)
	case size < MB:
		return formatUnit(size, KB, "KB")
	case size < GB:
		return formatUnit(size, MB, "MB")
	default:
		return formatUnit(size, GB, "GB")
	}
}

func formatUnit(size, unit int64, suffix string) string {
	rounded := math.Round(float64(size)/float64(unit)*10) / 10
	if rounded == math.Trunc(rounded) {
		return fmt.Sprintf("%.0f %s", rounded, suffix)
	}
	return fmt.Sprintf("%.1f %s", rounded, suffix)
}

// Extension returns the lower-cased extension of name including the dot.
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// DefaultExtensions are the filename suffixes expected for accepted
// content. They mirror DefaultAcceptedTypes.
var DefaultExtensions = []string{
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff",
	".doc", ".docx", ".xls", ".xlsx",
}
