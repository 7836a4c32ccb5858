package filevalidator

import (
	"io"
)

// ContentValidator checks that content is structurally what its MIME type
// claims to be.
type ContentValidator interface {
	// ValidateContent validates the content of a file
	ValidateContent(reader io.ReadSeeker, size int64) error
	// SupportedMIMETypes returns the MIME types this validator can handle
	SupportedMIMETypes() []string
}

// ContentValidatorRegistry manages content validators for different file types
type ContentValidatorRegistry struct {
	validators map[string]ContentValidator
}

// NewContentValidatorRegistry creates a new content validator registry
func NewContentValidatorRegistry() *ContentValidatorRegistry {
	return &ContentValidatorRegistry{
		validators: make(map[string]ContentValidator),
	}
}

// DefaultRegistry returns a registry wired with the PDF, image and Office
// validators for every type they support.
func DefaultRegistry() *ContentValidatorRegistry {
	r := NewContentValidatorRegistry()
	r.RegisterAll(DefaultPDFValidator())
	r.RegisterAll(DefaultImageValidator())
	r.RegisterAll(DefaultOfficeValidator())
	return r
}

// Register registers a content validator for specific MIME types
func (r *ContentValidatorRegistry) Register(mimeType string, validator ContentValidator) {
	r.validators[mimeType] = validator
}

// RegisterAll registers validator under each of its supported MIME types.
func (r *ContentValidatorRegistry) RegisterAll(validator ContentValidator) {
	for _, mimeType := range validator.SupportedMIMETypes() {
		r.validators[mimeType] = validator
	}
}

// GetValidator returns the validator for a given MIME type
func (r *ContentValidatorRegistry) GetValidator(mimeType string) ContentValidator {
	return r.validators[mimeType]
}

// ValidateContent validates content using the appropriate validator
func (r *ContentValidatorRegistry) ValidateContent(mimeType string, reader io.ReadSeeker, size int64) error {
	validator := r.GetValidator(mimeType)
	if validator == nil {
		// No validator for this MIME type, which is okay
		return nil
	}
	return validator.ValidateContent(reader, size)
}
