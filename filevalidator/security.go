package filevalidator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/gobeaver/uploadkit/audit"
)

// File is the input to the security pipeline. Content is read through
// independent section readers, so the same File may be validated
// concurrently.
type File struct {
	// ID correlates the audit event with the queue item.
	ID string
	// Name is the caller-supplied filename, unsanitized.
	Name string
	// DeclaredType is the MIME type claimed by the caller, if any.
	DeclaredType string
	Size         int64
	Content      io.ReaderAt
}

// SecurityOption configures a SecurityValidator.
type SecurityOption func(*SecurityValidator)

// WithRecorder sets the audit recorder. The default discards events.
func WithRecorder(r audit.Recorder) SecurityOption {
	return func(v *SecurityValidator) {
		if r != nil {
			v.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SecurityOption {
	return func(v *SecurityValidator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithScanner replaces the malicious-pattern scanner.
func WithScanner(s *Scanner) SecurityOption {
	return func(v *SecurityValidator) {
		if s != nil {
			v.scanner = s
		}
	}
}

// WithHasher replaces the content hasher.
func WithHasher(h *Hasher) SecurityOption {
	return func(v *SecurityValidator) {
		if h != nil {
			v.hasher = h
		}
	}
}

// SecurityValidator runs the full security pipeline over a file and reports
// a Verdict. It is safe for concurrent use.
type SecurityValidator struct {
	constraints Constraints
	pdf         *PDFValidator
	scanner     *Scanner
	hasher      *Hasher
	recorder    audit.Recorder
	logger      *slog.Logger
}

// NewSecurityValidator creates a validator enforcing c.
func NewSecurityValidator(c Constraints, opts ...SecurityOption) *SecurityValidator {
	if c.ContentValidatorRegistry == nil {
		c.ContentValidatorRegistry = DefaultRegistry()
	}
	if c.ScanWindow <= 0 {
		c.ScanWindow = 50 * KB
	}

	pdf := DefaultPDFValidator()
	if c.StructureWindow > 0 {
		pdf.Window = c.StructureWindow
	}

	v := &SecurityValidator{
		constraints: c,
		pdf:         pdf,
		scanner:     NewScanner(c.ScanWindow),
		hasher:      NewHasher(),
		recorder:    audit.Nop,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(slog.String("component", "security_validator"))
	return v
}

// Constraints returns the constraints the validator enforces.
func (v *SecurityValidator) Constraints() Constraints {
	return v.constraints
}

// Validate inspects f and returns its verdict. It never returns nil and
// records exactly one security_check audit event.
func (v *SecurityValidator) Validate(ctx context.Context, f File) *Verdict {
	sanitized := SanitizeFilename(f.Name)
	b := NewVerdictBuilder(sanitized)

	if sanitized != f.Name {
		b.AddWarning(fmt.Sprintf("filename sanitized to %q", sanitized), 0)
	}

	if f.Content == nil {
		b.AddError(ErrorTypeRead, "file content is not readable", PenaltyMIME)
		return v.finish(f, b.Build())
	}

	v.run(ctx, f, sanitized, b)
	return v.finish(f, b.Build())
}

func (v *SecurityValidator) run(ctx context.Context, f File, name string, b *VerdictBuilder) {
	section := func() *io.SectionReader { return io.NewSectionReader(f.Content, 0, f.Size) }

	detected, err := DetectMIMEReader(section(), name)
	if err != nil {
		b.AddError(ErrorTypeMIME, fmt.Sprintf("cannot read file header: %v", err), PenaltyMIME)
		return
	}
	b.SetDetectedMIME(detected)

	if !v.constraints.IsAccepted(detected) {
		if detected == MIMEUnknown {
			b.AddError(ErrorTypeMIME, "unrecognized file type", PenaltyMIME)
		} else {
			b.AddError(ErrorTypeMIME, fmt.Sprintf("file type %s is not allowed", detected), PenaltyMIME)
		}
	} else if f.DeclaredType != "" && f.DeclaredType != detected {
		b.AddWarning(fmt.Sprintf("declared type %s does not match detected type %s", f.DeclaredType, detected), 0)
	}

	if ctx.Err() != nil {
		b.AddError(ErrorTypeRead, "validation cancelled", 0)
		return
	}

	v.checkStructure(detected, section(), f.Size, b)

	if ctx.Err() != nil {
		b.AddError(ErrorTypeRead, "validation cancelled", 0)
		return
	}

	patterns, err := v.scanner.Scan(section())
	if err != nil {
		b.AddError(ErrorTypeRead, fmt.Sprintf("cannot scan content: %v", err), PenaltyMalicious)
	} else {
		b.AddMalicious(patterns)
	}

	sums, err := v.hasher.Sum(section())
	if err != nil {
		v.logger.Warn("content hash failed", slog.String("file_id", f.ID), slog.Any("error", err))
		b.AddWarning("content hash could not be computed", PenaltyHashFailure)
		return
	}
	b.SetChecksums(sums)
}

func (v *SecurityValidator) checkStructure(detected string, r io.ReadSeeker, size int64, b *VerdictBuilder) {
	if detected == MIMEPDF {
		window, err := v.pdf.ReadWindow(r, size)
		if err == nil {
			err = v.pdf.CheckStructure(window)
		}
		if err != nil {
			b.AddError(ErrorTypeStructure, GetErrorMessage(err), PenaltyStructure)
			return
		}
		if v.pdf.PasswordProtected(window) {
			b.MarkPasswordProtected()
		}
		return
	}

	err := v.constraints.ContentValidatorRegistry.ValidateContent(detected, r, size)
	if err == nil {
		return
	}
	if IsErrorOfType(err, ErrorTypeImage) {
		b.AddError(ErrorTypeImage, GetErrorMessage(err), PenaltyCorruptImage)
		return
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		b.AddError(ErrorTypeStructure, err.Error(), PenaltyStructure)
		return
	}
	b.AddError(ErrorTypeStructure, vErr.Message, PenaltyStructure)
}

func (v *SecurityValidator) finish(f File, verdict *Verdict) *Verdict {
	details := map[string]string{
		"score":         strconv.Itoa(verdict.Score),
		"detected_mime": verdict.DetectedMime,
		"content_hash":  verdict.ContentHash,
	}
	v.recorder.Record(audit.NewEvent(audit.ActionSecurityCheck, f.ID, verdict.SanitizedName, verdict.Flags(), details))

	level := slog.LevelDebug
	if !verdict.Passed() {
		level = slog.LevelInfo
	}
	v.logger.Log(context.Background(), level, "security check",
		slog.String("file_id", f.ID),
		slog.String("filename", verdict.SanitizedName),
		slog.String("detected_mime", verdict.DetectedMime),
		slog.Int("score", verdict.Score),
		slog.Int("errors", len(verdict.Errors)),
		slog.Int("warnings", len(verdict.Warnings)))
	return verdict
}
