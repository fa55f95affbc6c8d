package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while grading.
var (
	// ErrExportFailed indicates that the CAD export step never produced an
	// interchange file.
	ErrExportFailed = errors.New("export failed")

	// ErrPropertyCalculationFailed indicates that an interchange file was
	// produced but its properties could not be computed.
	ErrPropertyCalculationFailed = errors.New("property calculation failed")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrReferenceUnavailable indicates that the reference solution could
	// not be read or measured.
	ErrReferenceUnavailable = errors.New("reference solution unavailable")
)

// ExtractionError is returned when every extraction attempt for a source
// document failed. Status distinguishes a failed export from a failed
// property calculation.
type ExtractionError struct {
	// Status is StatusExtractionFailed or StatusPropertyCalculationFailed.
	Status Status

	// SourcePath is the document that could not be measured.
	SourcePath string

	// Attempts is the number of attempts made before giving up.
	Attempts int

	// Err is the failure observed on the last attempt.
	Err error
}

// Error implements the error interface for ExtractionError.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction error: status=%s, source=%s, attempts=%d, err=%v",
		e.Status, e.SourcePath, e.Attempts, e.Err)
}

// Unwrap exposes both the status sentinel and the last underlying failure
// so that errors.Is works against either.
func (e *ExtractionError) Unwrap() []error {
	sentinel := ErrExportFailed
	if e.Status == StatusPropertyCalculationFailed {
		sentinel = ErrPropertyCalculationFailed
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// NewExtractionError creates a new ExtractionError with the given details.
func NewExtractionError(status Status, sourcePath string, attempts int, err error) *ExtractionError {
	return &ExtractionError{
		Status:     status,
		SourcePath: sourcePath,
		Attempts:   attempts,
		Err:        err,
	}
}

// ConfigurationError is fatal: it aborts a run before any submission is
// processed.
type ConfigurationError struct {
	// Key names the setting or input that is unusable.
	Key string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: key=%s, err=%v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInvalidConfiguration) match any
// ConfigurationError.
func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// NewConfigurationError creates a new ConfigurationError with the given details.
func NewConfigurationError(key string, err error) *ConfigurationError {
	return &ConfigurationError{Key: key, Err: err}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
