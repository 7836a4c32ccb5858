package filevalidator

// Size constants for easier file size configuration
const (
	KB = int64(1024)
	MB = KB * 1024
	GB = MB * 1024
)

// MIME types recognised by the content sniffer.
const (
	MIMEUnknown  = "unknown"
	MIMEPDF      = "application/pdf"
	MIMEJPEG     = "image/jpeg"
	MIMEPNG      = "image/png"
	MIMEGIF      = "image/gif"
	MIMETIFF     = "image/tiff"
	MIMEZip      = "application/zip"
	MIMEDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEPPTX     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MIMEMSWord   = "application/msword"
	MIMEMSExcel  = "application/vnd.ms-excel"
	MIMEMSPowerP = "application/vnd.ms-powerpoint"
)

// Constraints defines the configuration of the security pipeline
type Constraints struct {
	// AcceptedTypes is the allow-list of sniffed MIME types.
	AcceptedTypes []string

	// ScanWindow is how many leading bytes the malicious-pattern scanner reads.
	ScanWindow int64

	// StructureWindow is the size of both the head and the tail read by the
	// PDF structural check.
	StructureWindow int64

	// ContentValidatorRegistry holds structural validators keyed by MIME type.
	ContentValidatorRegistry *ContentValidatorRegistry
}

// DefaultAcceptedTypes is the allow-list used for legal document batches.
var DefaultAcceptedTypes = []string{
	MIMEPDF,
	MIMEJPEG,
	MIMEPNG,
	MIMEGIF,
	MIMETIFF,
	MIMEMSWord,
	MIMEDOCX,
	MIMEMSExcel,
	MIMEXLSX,
}

// DefaultConstraints creates a new set of constraints with sensible defaults
func DefaultConstraints() Constraints {
	return Constraints{
		AcceptedTypes:            append([]string(nil), DefaultAcceptedTypes...),
		ScanWindow:               50 * KB,
		StructureWindow:          16 * KB,
		ContentValidatorRegistry: DefaultRegistry(),
	}
}

// IsAccepted reports whether mimeType is on the allow-list.
func (c Constraints) IsAccepted(mimeType string) bool {
	for _, t := range c.AcceptedTypes {
		if t == mimeType || t == "*/*" {
			return true
		}
	}
	return false
}
