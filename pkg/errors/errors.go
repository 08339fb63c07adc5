package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorType groups error codes into the five taxonomy categories.
type ErrorType string

const (
	ErrorTypeAPI           ErrorType = "api"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeCompliance    ErrorType = "compliance"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeSystem        ErrorType = "system"
)

// Stable error codes. These appear in logs, reports and tests; never renumber.
const (
	CodeAPIRequestFailed   = "API_001"
	CodeAPIRateLimited     = "API_002"
	CodeAPIUnauthorized    = "API_003"
	CodeAPINotFound        = "API_004"
	CodeAPIInvalidResponse = "API_005"

	CodeValidationMissingInput = "VALIDATION_001"
	CodeValidationInvalidInput = "VALIDATION_002"

	CodeComplianceControlFailed    = "COMPLIANCE_001"
	CodeComplianceEvidenceMissing  = "COMPLIANCE_002"
	CodeComplianceInvalidFramework = "COMPLIANCE_003"
	CodeComplianceReportFailed     = "COMPLIANCE_004"

	CodeConfigMissing = "CONFIG_001"
	CodeConfigInvalid = "CONFIG_002"
	CodeConfigParse   = "CONFIG_003"

	CodeSystemInternal          = "SYSTEM_001"
	CodeSystemTimeout           = "SYSTEM_002"
	CodeSystemResourceExhausted = "SYSTEM_003"
)

// AppError is the classified form every failure takes once it crosses the
// taxonomy boundary. Downstream code dispatches on Type and Code only.
type AppError struct {
	Type       ErrorType         `json:"type"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Cause      error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]string),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithStatus records the HTTP status the remote returned, when there was one.
func (e *AppError) WithStatus(status int) *AppError {
	e.StatusCode = status
	return e
}

// RateLimitError carries the quota information the platform reported so the
// retry layer can wait out the window instead of guessing.
type RateLimitError struct {
	*AppError
	ResetTime time.Time
	Limit     int
	Remaining int
}

func (e *RateLimitError) Unwrap() error { return e.AppError }

// NewRateLimitError creates a classified rate-limit error.
func NewRateLimitError(message string, resetTime time.Time, limit, remaining int) *RateLimitError {
	return &RateLimitError{
		AppError:  NewAppError(ErrorTypeAPI, CodeAPIRateLimited, message).WithStatus(429),
		ResetTime: resetTime,
		Limit:     limit,
		Remaining: remaining,
	}
}

// PermissionError carries the scopes the token would need for the call to
// succeed, used by the remediation text in reports.
type PermissionError struct {
	*AppError
	RequiredScopes []string
}

func (e *PermissionError) Unwrap() error { return e.AppError }

// NewPermissionError creates a classified authorization error.
func NewPermissionError(message string, requiredScopes ...string) *PermissionError {
	return &PermissionError{
		AppError:       NewAppError(ErrorTypeAPI, CodeAPIUnauthorized, message).WithStatus(403),
		RequiredScopes: requiredScopes,
	}
}

// NotFoundError identifies the missing resource.
type NotFoundError struct {
	*AppError
	Resource string
}

func (e *NotFoundError) Unwrap() error { return e.AppError }

// NewNotFoundError creates a classified not-found error.
func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{
		AppError: NewAppError(ErrorTypeAPI, CodeAPINotFound, fmt.Sprintf("%s not found", resource)).
			WithStatus(404).WithDetail("resource", resource),
		Resource: resource,
	}
}

func NewAPIRequestError(message string) *AppError {
	return NewAppError(ErrorTypeAPI, CodeAPIRequestFailed, message)
}

func NewInvalidResponseError(message string) *AppError {
	return NewAppError(ErrorTypeAPI, CodeAPIInvalidResponse, message)
}

func NewMissingInputError(field string) *AppError {
	return NewAppError(ErrorTypeValidation, CodeValidationMissingInput, fmt.Sprintf("missing required input: %s", field)).
		WithDetail("field", field)
}

func NewInvalidInputError(field, message string) *AppError {
	return NewAppError(ErrorTypeValidation, CodeValidationInvalidInput, message).
		WithDetail("field", field)
}

func NewControlEvaluationError(controlID, message string) *AppError {
	return NewAppError(ErrorTypeCompliance, CodeComplianceControlFailed, message).
		WithDetail("control_id", controlID)
}

func NewEvidenceMissingError(controlID, evidence string) *AppError {
	return NewAppError(ErrorTypeCompliance, CodeComplianceEvidenceMissing, fmt.Sprintf("evidence %q unavailable", evidence)).
		WithDetail("control_id", controlID).
		WithDetail("evidence", evidence)
}

func NewInvalidFrameworkError(framework string) *AppError {
	return NewAppError(ErrorTypeCompliance, CodeComplianceInvalidFramework, fmt.Sprintf("unknown compliance framework: %s", framework)).
		WithDetail("framework", framework)
}

func NewReportGenerationError(format, message string) *AppError {
	return NewAppError(ErrorTypeCompliance, CodeComplianceReportFailed, message).
		WithDetail("format", format)
}

func NewConfigMissingError(key string) *AppError {
	return NewAppError(ErrorTypeConfiguration, CodeConfigMissing, fmt.Sprintf("missing required configuration: %s", key)).
		WithDetail("key", key)
}

func NewConfigInvalidError(key, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, CodeConfigInvalid, message).
		WithDetail("key", key)
}

func NewConfigParseError(key string, cause error) *AppError {
	return NewAppError(ErrorTypeConfiguration, CodeConfigParse, fmt.Sprintf("failed to parse configuration: %s", key)).
		WithDetail("key", key).
		WithCause(cause)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeSystem, CodeSystemInternal, message)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeSystem, CodeSystemTimeout, fmt.Sprintf("%s timed out", operation)).
		WithDetail("operation", operation)
}

func NewResourceExhaustedError(resource string) *AppError {
	return NewAppError(ErrorTypeSystem, CodeSystemResourceExhausted, fmt.Sprintf("%s exhausted", resource)).
		WithDetail("resource", resource)
}

// IsRetryable reports whether re-attempting the failed operation could
// plausibly succeed: rate-limit errors and server-side API failures are
// retryable, everything else (including other 4xx responses) is fatal.
func IsRetryable(err error) bool {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeAPI && appErr.StatusCode >= 500
	}
	return false
}

const (
	minRateLimitDelay = time.Second
	maxSuggestedDelay = 30 * time.Second
)

// SuggestedDelay computes how long the caller should wait before retrying.
// A rate-limit error waits until the quota window resets (1s floor); any
// other error falls back to exponential backoff capped at 30s. The retry
// executor takes the larger of this and its own configured backoff.
func SuggestedDelay(err error, attempt int) time.Duration {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) && !rateLimitErr.ResetTime.IsZero() {
		if d := time.Until(rateLimitErr.ResetTime); d > minRateLimitDelay {
			return d
		}
		return minRateLimitDelay
	}

	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		// 1s << 5 already exceeds the 30s cap
		return maxSuggestedDelay
	}
	delay := time.Second << uint(attempt)
	if delay > maxSuggestedDelay {
		delay = maxSuggestedDelay
	}
	return delay
}

// FormatForUser renders a stable, greppable representation of a classified
// error for reports and PR comments. Never used for control flow.
func FormatForUser(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fmt.Sprintf("[%s] %v", CodeSystemInternal, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", appErr.Code, appErr.Message)

	if len(appErr.Details) > 0 {
		keys := make([]string, 0, len(appErr.Details))
		for k := range appErr.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, appErr.Details[k])
		}
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) && !rateLimitErr.ResetTime.IsZero() {
		fmt.Fprintf(&b, " (limit %d, remaining %d, resets %s)",
			rateLimitErr.Limit, rateLimitErr.Remaining, rateLimitErr.ResetTime.Format(time.RFC3339))
	}
	var permErr *PermissionError
	if errors.As(err, &permErr) && len(permErr.RequiredScopes) > 0 {
		fmt.Fprintf(&b, " (requires scopes: %s)", strings.Join(permErr.RequiredScopes, ", "))
	}

	if appErr.Cause != nil {
		fmt.Fprintf(&b, ": %v", appErr.Cause)
	}
	return b.String()
}

// IsType checks if the error belongs to a specific taxonomy category
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetCode returns the error code if the error has been classified
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeSystemInternal
}
