// Package filevalidator is the security gate in front of the upload queue.
// It inspects a file's bytes rather than trusting its name or declared type,
// and condenses the findings into an immutable [Verdict].
//
// # Pipeline
//
// [SecurityValidator.Validate] runs, in order:
//
//   - [SanitizeFilename]: strips path components, control characters and
//     reserved punctuation from the caller-supplied name
//   - [DetectMIME]: magic-byte sniffing of the first bytes of content
//   - structural checks from the [ContentValidatorRegistry] ([PDFValidator],
//     [ImageValidator], [OfficeValidator])
//   - PDF password detection
//   - [Scanner]: a case-insensitive search for script and shell payloads
//   - [Hasher]: SHA-256 content hash plus an xxhash fingerprint
//
// Errors block admission to the queue, warnings do not. Every verdict starts
// at a score of 100 and loses a fixed number of points per finding:
//
//	unrecognised or disallowed type   -30
//	malformed PDF structure           -25
//	corrupted image                   -25
//	malicious pattern                 -50
//	password-protected PDF            -10 (warning)
//	hash failure                       -5 (warning)
//
// # Quick Start
//
//	v := filevalidator.NewSecurityValidator(
//	    filevalidator.DefaultConstraints(),
//	    filevalidator.WithRecorder(audit.NewMemoryRecorder()),
//	)
//	verdict := v.Validate(ctx, filevalidator.File{
//	    ID:      id,
//	    Name:    "brief.pdf",
//	    Size:    size,
//	    Content: f,
//	})
//	if !verdict.Passed() {
//	    // verdict.Errors explains why
//	}
//
// Each call to Validate emits exactly one "security_check" audit event.
package filevalidator
