package filevalidator

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// SniffLength is the number of leading bytes the sniffer inspects.
const SniffLength = 8

// MagicSignature defines a file type signature
type MagicSignature struct {
	MIME  string
	Magic []byte
}

// magicSignatures maps leading bytes to MIME types. ZIP and compound
// documents are container formats and are refined by name afterwards.
var magicSignatures = []MagicSignature{
	{MIME: MIMEPDF, Magic: []byte{0x25, 0x50, 0x44, 0x46}},
	{MIME: MIMEJPEG, Magic: []byte{0xFF, 0xD8, 0xFF}},
	{MIME: MIMEPNG, Magic: []byte{0x89, 0x50, 0x4E, 0x47}},
	{MIME: MIMEGIF, Magic: []byte{0x47, 0x49, 0x46, 0x38}},
	{MIME: MIMETIFF, Magic: []byte{0x49, 0x49, 0x2A, 0x00}}, // Little endian
	{MIME: MIMETIFF, Magic: []byte{0x4D, 0x4D, 0x00, 0x2A}}, // Big endian
	{MIME: MIMEZip, Magic: []byte{0x50, 0x4B, 0x03, 0x04}},
	{MIME: MIMEZip, Magic: []byte{0x50, 0x4B, 0x05, 0x06}}, // Empty ZIP
	{MIME: MIMEZip, Magic: []byte{0x50, 0x4B, 0x07, 0x08}}, // Spanned ZIP
	{MIME: MIMEMSWord, Magic: []byte{0xD0, 0xCF, 0x11, 0xE0}},
}

// DetectMIME identifies content from its leading bytes. name is only used to
// tell apart formats that share a container signature. Content matching no
// signature yields MIMEUnknown.
func DetectMIME(prefix []byte, name string) string {
	if len(prefix) > SniffLength {
		prefix = prefix[:SniffLength]
	}

	detected := MIMEUnknown
	for _, sig := range magicSignatures {
		if bytes.HasPrefix(prefix, sig.Magic) {
			detected = sig.MIME
			break
		}
	}

	return refineDetection(detected, name)
}

// DetectMIMEReader reads up to SniffLength bytes from r and detects the type.
func DetectMIMEReader(r io.Reader, name string) (string, error) {
	buf := make([]byte, SniffLength)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return MIMEUnknown, err
	}
	return DetectMIME(buf[:n], name), nil
}

// refineDetection disambiguates container formats by file suffix.
func refineDetection(detected, name string) string {
	ext := strings.ToLower(filepath.Ext(name))

	switch detected {
	case MIMEZip:
		switch ext {
		case ".docx":
			return MIMEDOCX
		case ".xlsx":
			return MIMEXLSX
		case ".pptx":
			return MIMEPPTX
		}
	case MIMEMSWord:
		switch ext {
		case ".xls":
			return MIMEMSExcel
		case ".ppt":
			return MIMEMSPowerP
		}
	}

	return detected
}
