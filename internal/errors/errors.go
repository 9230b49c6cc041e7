package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the Document Intelligence Worker
 *
 * Engine failures are caught per engine and only surface when every engine
 * has been exhausted. The text stages never return errors.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// OCR orchestration errors
	ErrorEngineFailed      ErrorCode = "ENGINE_FAILED"
	ErrorAllEnginesFailed  ErrorCode = "ALL_ENGINES_FAILED"
	ErrorNoEngineAvailable ErrorCode = "NO_ENGINE_AVAILABLE"
	ErrorPollTimeout       ErrorCode = "POLL_TIMEOUT"
	ErrorProviderResponse  ErrorCode = "PROVIDER_ERROR"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"

	// Network errors
	ErrorNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	ErrorAPICallFailed  ErrorCode = "API_CALL_FAILED"
	ErrorDownloadFailed ErrorCode = "DOWNLOAD_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err (or anything it wraps) is a ProcessingError with the given code
func IsCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// Factory functions for common errors

func NewEngineFailedError(engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineFailed,
		Message:   fmt.Sprintf("OCR engine %s failed", engine),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

// NewAllEnginesFailedError is the terminal orchestration error; it carries the last engine failure
func NewAllEnginesFailedError(jobID string, attempted []string, lastErr error) *ProcessingError {
	msg := "all OCR engines failed or returned low confidence"
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %s", msg, lastErr.Error())
	}
	return &ProcessingError{
		Code:      ErrorAllEnginesFailed,
		Message:   msg,
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engines_attempted": attempted,
		},
		Cause: lastErr,
	}
}

func NewNoEngineAvailableError(jobID string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNoEngineAvailable,
		Message:   "no OCR engine is available",
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

func NewPollTimeoutError(engine string, attempts int, interval time.Duration) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPollTimeout,
		Message:   fmt.Sprintf("%s did not finish after %d poll attempts", engine, attempts),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine":        engine,
			"poll_attempts": attempts,
			"poll_interval": interval.String(),
		},
	}
}

func NewProviderError(engine string, statusCode int, body string) *ProcessingError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &ProcessingError{
		Code:      ErrorProviderResponse,
		Message:   fmt.Sprintf("%s returned status %d: %s", engine, statusCode, body),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine":      engine,
			"status_code": statusCode,
		},
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewInvalidInputError(jobID string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   reason,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDownloadFailedError(source string, attempts int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDownloadFailed,
		Message:   fmt.Sprintf("Failed to download %s after %d attempts", source, attempts),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source":   source,
			"attempts": attempts,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

