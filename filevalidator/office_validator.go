package filevalidator

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// OfficeValidator validates Office Open XML documents (DOCX, XLSX, PPTX).
// They are ZIP containers that must carry the OPC manifest and relationships.
type OfficeValidator struct {
	MaxSize             int64
	MaxFiles            int
	MaxUncompressedSize int64
	MaxCompressionRatio float64

	// AllowMacros admits containers that embed a VBA project.
	AllowMacros bool
}

// DefaultOfficeValidator creates an office validator with sensible defaults
func DefaultOfficeValidator() *OfficeValidator {
	return &OfficeValidator{
		MaxSize:             50 * MB,
		MaxFiles:            10000,
		MaxUncompressedSize: 1 * GB,
		MaxCompressionRatio: 100.0,
		AllowMacros:         false,
	}
}

// ValidateContent validates Office documents by checking ZIP structure and required files
func (v *OfficeValidator) ValidateContent(reader io.ReadSeeker, size int64) error {
	if size > v.MaxSize {
		return NewValidationError(ErrorTypeStructure,
			fmt.Sprintf("file size %d exceeds maximum %d", size, v.MaxSize))
	}

	if readerAt, ok := reader.(io.ReaderAt); ok {
		return v.validateWithReaderAt(readerAt, size)
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return NewValidationError(ErrorTypeRead, "failed to seek to document start")
	}
	data, err := io.ReadAll(io.LimitReader(reader, size))
	if err != nil {
		return NewValidationError(ErrorTypeRead, "failed to read document content")
	}
	return v.validateWithReaderAt(bytes.NewReader(data), int64(len(data)))
}

func (v *OfficeValidator) validateWithReaderAt(reader io.ReaderAt, size int64) error {
	zipReader, err := zip.NewReader(reader, size)
	if err != nil {
		return NewValidationError(ErrorTypeStructure, fmt.Sprintf("invalid ZIP structure: %v", err))
	}

	var (
		totalUncompressed uint64
		hasContentTypes   bool
		hasRels           bool
		hasMacros         bool
	)

	if len(zipReader.File) > v.MaxFiles {
		return NewValidationError(ErrorTypeStructure,
			fmt.Sprintf("too many files in archive: %d (max: %d)", len(zipReader.File), v.MaxFiles))
	}

	for _, file := range zipReader.File {
		if file.CompressedSize64 > 0 {
			ratio := float64(file.UncompressedSize64) / float64(file.CompressedSize64)
			if ratio > v.MaxCompressionRatio {
				return NewValidationError(ErrorTypeStructure,
					fmt.Sprintf("suspicious compression ratio: %.2f:1", ratio))
			}
		}

		totalUncompressed += file.UncompressedSize64
		if v.MaxUncompressedSize > 0 && totalUncompressed > uint64(v.MaxUncompressedSize) { //nolint:gosec // MaxUncompressedSize is positive here
			return NewValidationError(ErrorTypeStructure,
				fmt.Sprintf("uncompressed size exceeds limit: %d", v.MaxUncompressedSize))
		}

		switch file.Name {
		case "[Content_Types].xml":
			hasContentTypes = true
		case "_rels/.rels":
			hasRels = true
		}

		if strings.HasSuffix(file.Name, "vbaProject.bin") || strings.HasSuffix(file.Name, "vbaData.xml") {
			hasMacros = true
		}
	}

	if !hasContentTypes {
		return NewValidationError(ErrorTypeStructure, "missing [Content_Types].xml - not a valid Office document")
	}
	if !hasRels {
		return NewValidationError(ErrorTypeStructure, "missing _rels/.rels - not a valid Office document")
	}
	if hasMacros && !v.AllowMacros {
		return NewValidationError(ErrorTypeStructure, "macro-enabled documents are not allowed")
	}

	return nil
}

// SupportedMIMETypes returns MIME types this validator handles
func (v *OfficeValidator) SupportedMIMETypes() []string {
	return []string{
		MIMEDOCX,
		MIMEXLSX,
		MIMEPPTX,
	}
}
