package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/scout-sync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents payloads rejected before they are queued
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing queue entries or cache records
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents operations refused because of current state
	CategoryConflict ErrorCategory = "conflict"
	// CategoryQueueFull represents submissions rejected by the queue depth cap
	CategoryQueueFull ErrorCategory = "queue_full"
	// CategoryLocalStore represents failures of the embedded durable store
	CategoryLocalStore ErrorCategory = "local_store"
	// CategoryRemote represents failures of the remote store collaborator
	CategoryRemote ErrorCategory = "remote"
	// CategoryRemoteRejected represents rows the remote store answered and refused
	CategoryRemoteRejected ErrorCategory = "remote_rejected"
	// CategoryRetryExhausted represents entries that used up their attempts
	CategoryRetryExhausted ErrorCategory = "retry_exhausted"
	// CategoryUnavailable represents operations that need connectivity
	CategoryUnavailable ErrorCategory = "unavailable"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewValidationError creates an error for a malformed submission field
func NewValidationError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid field '%s': %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewInvalidTransitionError reports a refused sync status change
func NewInvalidTransitionError(localID string, from, to types.SyncStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "INVALID_TRANSITION",
		Message:    fmt.Sprintf("cannot move %s from %s to %s", localID, from, to),
		Details: map[string]interface{}{
			"localId": localID,
			"from":    from,
			"to":      to,
		},
	}
}

// NewQueueFullError creates an error for a queue that reached its depth cap
func NewQueueFullError(limit int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryQueueFull,
		StatusCode: http.StatusTooManyRequests,
		Code:       "QUEUE_FULL",
		Message:    fmt.Sprintf("offline queue is full (limit: %d)", limit),
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewLocalStoreError creates an error for a failed local store operation
func NewLocalStoreError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryLocalStore,
		StatusCode: http.StatusInternalServerError,
		Code:       "LOCAL_STORE_ERROR",
		Message:    fmt.Sprintf("local store error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewRemoteError creates an error for a failed remote store call
func NewRemoteError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRemote,
		StatusCode: http.StatusBadGateway,
		Code:       "REMOTE_ERROR",
		Message:    fmt.Sprintf("remote store error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewRemoteRejectedError creates an error for a record the remote store
// refused, such as a constraint violation. Retrying the same record cannot
// succeed until the record or the remote schema changes.
func NewRemoteRejectedError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRemoteRejected,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "REMOTE_REJECTED",
		Message:    fmt.Sprintf("remote store rejected record during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewRetryExhaustedError reports an entry that needs manual intervention
func NewRetryExhaustedError(localID string, attempts int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRetryExhausted,
		StatusCode: http.StatusConflict,
		Code:       "RETRY_EXHAUSTED",
		Message:    fmt.Sprintf("observation %s failed %d times and must be re-entered", localID, attempts),
		Details: map[string]interface{}{
			"localId":  localID,
			"attempts": attempts,
		},
	}
}

// NewOfflineError creates an error for an operation that needs connectivity
func NewOfflineError(operation string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUnavailable,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "OFFLINE",
		Message:    fmt.Sprintf("%s requires connectivity", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category == category
	}
	return false
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return IsCategory(err, CategoryValidation)
}

// IsLocalStore reports whether err came from the local store
func IsLocalStore(err error) bool {
	return IsCategory(err, CategoryLocalStore)
}

// sqlStater is satisfied by database driver errors carrying a SQLSTATE
type sqlStater interface {
	SQLState() string
}

// transientSQLStateClasses are SQLSTATE classes that describe the server or
// the connection rather than the row: connection exception, transaction
// rollback, insufficient resources, operator intervention and system error.
var transientSQLStateClasses = map[string]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
	"58": true,
}

// IsRemoteRejection reports whether err means the remote store answered and
// refused the record
func IsRemoteRejection(err error) bool {
	if err == nil {
		return false
	}
	if IsCategory(err, CategoryRemoteRejected) {
		return true
	}

	var stater sqlStater
	if errors.As(err, &stater) {
		code := stater.SQLState()
		return len(code) == 5 && !transientSQLStateClasses[code[:2]]
	}
	return false
}

// IsRetryable determines if an error points at an unhealthy dependency, so
// that a later attempt of the same call may succeed. Rejected records are
// not retryable in this sense.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	if IsRemoteRejection(err) {
		return false
	}

	switch catErr.Category {
	case CategoryRemote, CategoryUnavailable, CategoryLocalStore:
		return true
	default:
		return false
	}
}
