package sources

import (
	"errors"
	"fmt"
)

// ErrorKind drives how Client treats a failed attempt.
type ErrorKind string

const (
	// KindTransient failures are retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindPermanent failures are not retried and become a cached result.
	KindPermanent ErrorKind = "permanent"
	// KindFormat failures reject the input before any network call.
	KindFormat ErrorKind = "format"
)

// ErrorCategory defines the normalized failure taxonomy
type ErrorCategory string

const (
	ErrorTimeout          ErrorCategory = "timeout"
	ErrorConnection       ErrorCategory = "connection"
	ErrorBadData          ErrorCategory = "bad_data"
	ErrorAuthentication   ErrorCategory = "authentication"
	ErrorProviderOutage   ErrorCategory = "provider_outage"
	ErrorNotFound         ErrorCategory = "not_found"
	ErrorRateLimited      ErrorCategory = "rate_limited"
	ErrorInvalidInput     ErrorCategory = "invalid_input"
	ErrorCircuitOpen      ErrorCategory = "circuit_open"
	ErrorInternal         ErrorCategory = "internal"
	ErrorContractMismatch ErrorCategory = "contract_mismatch"
)

// SourceError wraps source failures with normalized categorization.
// Status and Confidence are only meaningful for permanent errors: they are the
// result the source declares for that failure.
type SourceError struct {
	Kind       ErrorKind
	Category   ErrorCategory
	Source     string
	Message    string
	Underlying error
	Status     Status
	Confidence float64
}

func (e *SourceError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("source %s [%s/%s]: %s: %v", e.Source, e.Kind, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("source %s [%s/%s]: %s", e.Source, e.Kind, e.Category, e.Message)
}

func (e *SourceError) Unwrap() error {
	return e.Underlying
}

// NewTransient reports a failure worth retrying.
func NewTransient(category ErrorCategory, source, message string, underlying error) *SourceError {
	return &SourceError{
		Kind:       KindTransient,
		Category:   category,
		Source:     source,
		Message:    message,
		Underlying: underlying,
		Status:     StatusError,
	}
}

// NewPermanent reports a definitive failure. Not-found style categories
// surface as a low-confidence warning, everything else as an error.
func NewPermanent(category ErrorCategory, source, message string, underlying error) *SourceError {
	status, confidence := StatusError, 0.0
	if category == ErrorNotFound {
		status, confidence = StatusWarning, NotFoundConfidence
	}
	return &SourceError{
		Kind:       KindPermanent,
		Category:   category,
		Source:     source,
		Message:    message,
		Underlying: underlying,
		Status:     status,
		Confidence: confidence,
	}
}

// NewFormat reports invalid lookup input.
func NewFormat(source, message string) *SourceError {
	return &SourceError{
		Kind:     KindFormat,
		Category: ErrorInvalidInput,
		Source:   source,
		Message:  message,
		Status:   StatusError,
	}
}

// NotFoundConfidence is the confidence attached to "record does not exist"
// outcomes across sources.
const NotFoundConfidence = 0.3

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return false
}

// IsFormat reports whether err rejects the lookup input.
func IsFormat(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind == KindFormat
	}
	return false
}

// GetCategory extracts the error category from an error
func GetCategory(err error) ErrorCategory {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Category
	}
	return ErrorInternal
}

var (
	ErrSourceNotFound = errors.New("source not registered")
	ErrNoSources      = errors.New("no sources requested")
)
