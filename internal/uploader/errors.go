package uploader

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity is matched by every *IntegrityError.
	ErrIntegrity = errors.New("integrity error")

	// ErrProcessing is matched by every *ProcessingError.
	ErrProcessing = errors.New("processing error")

	// ErrInvalidParameter is matched by every *InvalidParameterError.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrFormNotMultipart is returned when a bare path is cached while the
	// uploader only accepts multipart form uploads.
	ErrFormNotMultipart = errors.New("file is not a multipart form upload")

	// ErrConfiguration marks uploader definitions that can never work.
	ErrConfiguration = errors.New("uploader configuration error")
)

// IntegrityError reports a validation rule that rejected a candidate file.
// The upload keeps the state it had before the failed call.
type IntegrityError struct {
	Rule    string // e.g. "extension_allowlist", "size_range"
	Message string
}

func (e *IntegrityError) Error() string { return e.Message }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// ProcessingError reports a failed processing step. The upload may already
// hold the staged file when this is returned.
type ProcessingError struct {
	Version string // empty for the root
	Step    string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("processing version %q: step %q: %v", e.Version, e.Step, e.Err)
	}
	return fmt.Sprintf("processing: step %q: %v", e.Step, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessing }

// InvalidParameterError reports a cache name or identifier that failed
// strict format validation.
type InvalidParameterError struct {
	Param  string
	Value  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
