package filevalidator

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
)

// pdfObjectHeader matches an indirect object header such as "12 0 obj".
var pdfObjectHeader = regexp.MustCompile(`\d+\s+\d+\s+obj\b`)

// PDFValidator validates PDF file structure from a bounded head and tail
// window. The body between the two windows is never read.
type PDFValidator struct {
	MaxSize int64
	// Window is the size of the head and of the tail that are inspected.
	Window int64
}

// DefaultPDFValidator creates a PDF validator with sensible defaults
func DefaultPDFValidator() *PDFValidator {
	return &PDFValidator{
		MaxSize: 50 * MB,
		Window:  16 * KB,
	}
}

// ValidateContent checks for the %PDF- header at offset 0, a %%EOF trailer
// and at least one obj/endobj pair.
func (v *PDFValidator) ValidateContent(reader io.ReadSeeker, size int64) error {
	if size > v.MaxSize {
		return NewValidationError(ErrorTypeStructure,
			fmt.Sprintf("PDF size %d exceeds maximum %d", size, v.MaxSize))
	}

	window, err := v.ReadWindow(reader, size)
	if err != nil {
		return err
	}
	return v.CheckStructure(window)
}

// ReadWindow returns the head of the file followed by its tail. Files no
// larger than two windows are returned whole.
func (v *PDFValidator) ReadWindow(reader io.ReadSeeker, size int64) ([]byte, error) {
	w := v.Window
	if w <= 0 {
		w = 16 * KB
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return nil, NewValidationError(ErrorTypeRead, "failed to seek to PDF header")
	}

	if size <= 2*w {
		data := make([]byte, size)
		n, err := io.ReadFull(reader, data)
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, NewValidationError(ErrorTypeRead, "failed to read PDF content")
		}
		return data[:n], nil
	}

	window := make([]byte, 2*w)
	if _, err := io.ReadFull(reader, window[:w]); err != nil {
		return nil, NewValidationError(ErrorTypeRead, "failed to read PDF header")
	}
	if _, err := reader.Seek(-w, io.SeekEnd); err != nil {
		return nil, NewValidationError(ErrorTypeRead, "failed to seek to PDF trailer")
	}
	if _, err := io.ReadFull(reader, window[w:]); err != nil {
		return nil, NewValidationError(ErrorTypeRead, "failed to read PDF trailer")
	}
	return window, nil
}

// CheckStructure validates an already-read window.
func (v *PDFValidator) CheckStructure(window []byte) error {
	if !bytes.HasPrefix(window, []byte("%PDF-")) {
		return NewValidationError(ErrorTypeStructure, "invalid PDF header")
	}
	if !bytes.Contains(window, []byte("%%EOF")) {
		return NewValidationError(ErrorTypeStructure, "missing PDF trailer")
	}
	loc := pdfObjectHeader.FindIndex(window)
	if loc == nil || !bytes.Contains(window[loc[1]:], []byte("endobj")) {
		return NewValidationError(ErrorTypeStructure, "no PDF objects found")
	}
	return nil
}

// PasswordProtected reports whether the window carries an encryption
// dictionary: an /Encrypt reference together with a security handler
// /Filter or owner and user password entries.
func (v *PDFValidator) PasswordProtected(window []byte) bool {
	if !bytes.Contains(window, []byte("/Encrypt")) {
		return false
	}
	if bytes.Contains(window, []byte("/Filter")) {
		return true
	}
	return bytes.Contains(window, []byte("/O (")) && bytes.Contains(window, []byte("/U ("))
}

// SupportedMIMETypes returns the MIME types this validator can handle
func (v *PDFValidator) SupportedMIMETypes() []string {
	return []string{
		MIMEPDF,
		"application/x-pdf",
	}
}
