package filevalidator

import (
	"fmt"
	"strings"
	"time"
)

// Score deductions applied by the security pipeline.
const (
	MaxScore = 100

	PenaltyMIME              = 30
	PenaltyStructure         = 25
	PenaltyCorruptImage      = 25
	PenaltyMalicious         = 50
	PenaltyPasswordProtected = 10
	PenaltyHashFailure       = 5
)

// Verdict is the outcome of the security pipeline for one file. A verdict is
// never modified after Build returns it.
type Verdict struct {
	// MimeValid is true when the sniffed type is on the allow-list.
	MimeValid bool

	// DetectedMime is the type derived from content, or MIMEUnknown.
	DetectedMime string

	// StructureValid is false when a structural validator refused the content.
	StructureValid bool

	// PasswordProtected reports an encrypted PDF.
	PasswordProtected bool

	// ContentHash is the hex SHA-256 of the content, empty if hashing failed.
	ContentHash string

	// Fingerprint is the xxhash64 of the content, used for duplicate detection.
	Fingerprint uint64

	MaliciousContentDetected bool
	MaliciousPatterns        []string

	// Errors block admission to the queue. Warnings do not.
	Errors   []string
	Warnings []string

	// Score is in [0, 100].
	Score int

	// SanitizedName is the display-safe filename.
	SanitizedName string

	// Duration is how long validation took
	Duration time.Duration
}

// Passed reports whether the verdict has no errors.
func (v *Verdict) Passed() bool {
	return v != nil && len(v.Errors) == 0
}

// Flags returns errors followed by warnings.
func (v *Verdict) Flags() []string {
	flags := make([]string, 0, len(v.Errors)+len(v.Warnings))
	flags = append(flags, v.Errors...)
	return append(flags, v.Warnings...)
}

// Error returns the errors joined as one error, or nil if the verdict passed.
func (v *Verdict) Error() error {
	if v.Passed() {
		return nil
	}
	return fmt.Errorf("validation failed: %s", strings.Join(v.Errors, "; "))
}

// Summary returns a human-readable summary of the validation
func (v *Verdict) Summary() string {
	if v.Passed() {
		return fmt.Sprintf("✓ %s (%s) score %d", v.SanitizedName, v.DetectedMime, v.Score)
	}
	return fmt.Sprintf("✗ %s failed: %s", v.SanitizedName, v.Errors[0])
}

// VerdictBuilder accumulates findings and their score deductions.
type VerdictBuilder struct {
	verdict   Verdict
	deduction int
	startTime time.Time
}

// NewVerdictBuilder starts a verdict with a full score and every check
// assumed to pass.
func NewVerdictBuilder(sanitizedName string) *VerdictBuilder {
	return &VerdictBuilder{
		verdict: Verdict{
			MimeValid:      true,
			StructureValid: true,
			SanitizedName:  sanitizedName,
			DetectedMime:   MIMEUnknown,
		},
		startTime: time.Now(),
	}
}

// SetDetectedMIME sets the detected MIME type
func (b *VerdictBuilder) SetDetectedMIME(mime string) *VerdictBuilder {
	b.verdict.DetectedMime = mime
	return b
}

// SetChecksums records the content digests.
func (b *VerdictBuilder) SetChecksums(c Checksums) *VerdictBuilder {
	b.verdict.ContentHash = c.SHA256
	b.verdict.Fingerprint = c.Fingerprint
	return b
}

// AddError records a blocking finding and applies its deduction.
func (b *VerdictBuilder) AddError(errType ValidationErrorType, message string, penalty int) *VerdictBuilder {
	switch errType {
	case ErrorTypeMIME:
		b.verdict.MimeValid = false
	case ErrorTypeStructure, ErrorTypeImage:
		b.verdict.StructureValid = false
	case ErrorTypeMalicious:
		b.verdict.MaliciousContentDetected = true
	}
	b.verdict.Errors = append(b.verdict.Errors, message)
	b.deduction += penalty
	return b
}

// AddMalicious records the matched pattern labels as a single error.
func (b *VerdictBuilder) AddMalicious(labels []string) *VerdictBuilder {
	if len(labels) == 0 {
		return b
	}
	b.verdict.MaliciousPatterns = append(b.verdict.MaliciousPatterns, labels...)
	return b.AddError(ErrorTypeMalicious,
		"potentially malicious content detected: "+strings.Join(labels, ", "), PenaltyMalicious)
}

// MarkPasswordProtected records an encrypted document as a warning.
func (b *VerdictBuilder) MarkPasswordProtected() *VerdictBuilder {
	b.verdict.PasswordProtected = true
	return b.AddWarning("document is password-protected", PenaltyPasswordProtected)
}

// AddWarning adds a non-blocking finding with an optional deduction.
func (b *VerdictBuilder) AddWarning(message string, penalty int) *VerdictBuilder {
	b.verdict.Warnings = append(b.verdict.Warnings, message)
	b.deduction += penalty
	return b
}

// Build finalizes the score and returns the verdict.
func (b *VerdictBuilder) Build() *Verdict {
	v := b.verdict
	v.Score = max(MaxScore-b.deduction, 0)
	v.Duration = time.Since(b.startTime)
	v.Errors = append([]string(nil), v.Errors...)
	v.Warnings = append([]string(nil), v.Warnings...)
	v.MaliciousPatterns = append([]string(nil), v.MaliciousPatterns...)
	return &v
}
