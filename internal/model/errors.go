package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrPaymentFailed  = errors.New("payment failed")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
	ErrConflict       = errors.New("conflict")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrUnauthorized,
	}
}

// NewUpstreamError creates a 502 error for backend failures.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewPaymentError creates a 402 error for payment issues.
func NewPaymentError(reason string) *APIError {
	return &APIError{
		Code:       "PAYMENT_ERROR",
		Message:    reason,
		StatusCode: 402,
		Err:        ErrPaymentFailed,
	}
}

// NewConflictError creates a 409 error for requests the session state rejects.
func NewConflictError(reason string) *APIError {
	return &APIError{
		Code:       "CONFLICT",
		Message:    reason,
		StatusCode: 409,
		Err:        ErrConflict,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: 500,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: 429,
		Err:        ErrRateLimited,
	}
}

// === Checkout error taxonomy ===

// ErrorKind classifies checkout failures. The orchestrator only ever sees
// "succeeded with data" or a CheckoutError carrying one of these kinds.
type ErrorKind string

const (
	// KindValidation: missing/malformed input. Recovered locally.
	KindValidation ErrorKind = "validation"
	// KindRemoteNonCritical: remote failure covered by fallback data.
	KindRemoteNonCritical ErrorKind = "remote_noncritical"
	// KindRemoteCritical: remote failure that blocks progress.
	KindRemoteCritical ErrorKind = "remote_critical"
	// KindBusinessRule: restricted item, out of stock, no shipping method.
	KindBusinessRule ErrorKind = "business_rule"
	// KindPostCapture: payment captured but no order recorded.
	KindPostCapture ErrorKind = "post_capture"
)

// FieldError is a field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CheckoutError is a classified checkout failure.
// Business-rule failures list every offending line, never just the first.
type CheckoutError struct {
	Kind          ErrorKind        `json:"kind"`
	Code          string           `json:"code"`
	Message       string           `json:"message"`
	Fields        []FieldError     `json:"fields,omitempty"`
	Stock         []StockError     `json:"stock,omitempty"`
	Restricted    []RestrictedItem `json:"restricted,omitempty"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Err           error            `json:"-"`
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the user can correct and retry from the same step.
func (e *CheckoutError) Retryable() bool {
	return e.Kind != KindPostCapture
}

// NewFieldErrors creates a validation error from field-level messages.
func NewFieldErrors(fields []FieldError) *CheckoutError {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Field
	}
	return &CheckoutError{
		Kind:    KindValidation,
		Code:    "missing_fields",
		Message: "required fields missing: " + strings.Join(names, ", "),
		Fields:  fields,
		Err:     ErrInvalidRequest,
	}
}

// NewInputError creates a single validation failure.
func NewInputError(code, message string) *CheckoutError {
	return &CheckoutError{
		Kind:    KindValidation,
		Code:    code,
		Message: message,
		Err:     ErrInvalidRequest,
	}
}

// NewRemoteFailure classifies an unreachable collaborator.
func NewRemoteFailure(service string, critical bool, err error) *CheckoutError {
	kind := KindRemoteNonCritical
	if critical {
		kind = KindRemoteCritical
	}
	return &CheckoutError{
		Kind:    kind,
		Code:    "remote_unavailable",
		Message: fmt.Sprintf("%s is unavailable, please try again", service),
		Err:     err,
	}
}

// NewRestrictionError lists items that cannot ship to the destination.
func NewRestrictionError(items []RestrictedItem) *CheckoutError {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return &CheckoutError{
		Kind:       KindBusinessRule,
		Code:       "shipping_restricted",
		Message:    "cannot ship to this address: " + strings.Join(names, ", "),
		Restricted: items,
	}
}

// NewStockError lists every cart line that failed stock validation.
func NewStockError(lines []StockError) *CheckoutError {
	msgs := make([]string, len(lines))
	for i, l := range lines {
		msgs[i] = fmt.Sprintf("%d: %s", l.ProductID, l.Message)
	}
	return &CheckoutError{
		Kind:    KindBusinessRule,
		Code:    "out_of_stock",
		Message: "stock validation failed: " + strings.Join(msgs, "; "),
		Stock:   lines,
	}
}

// NewPaymentFailure reports a declined or aborted capture. The user may
// retry from the payment step.
func NewPaymentFailure(message string) *CheckoutError {
	if message == "" {
		message = "payment was not completed"
	}
	return &CheckoutError{
		Kind:    KindRemoteCritical,
		Code:    "payment_failed",
		Message: message,
		Err:     ErrPaymentFailed,
	}
}

// NewBusinessRuleError creates a single business rule rejection.
func NewBusinessRuleError(code, message string) *CheckoutError {
	return &CheckoutError{
		Kind:    KindBusinessRule,
		Code:    code,
		Message: message,
	}
}

// NewPostCaptureError records captured funds without an order record.
// The transaction id must reach the user for manual reconciliation.
func NewPostCaptureError(transactionID string, err error) *CheckoutError {
	return &CheckoutError{
		Kind:          KindPostCapture,
		Code:          "order_not_recorded",
		Message:       fmt.Sprintf("payment %s was captured but the order could not be recorded; contact support with this reference", transactionID),
		TransactionID: transactionID,
		Err:           err,
	}
}

// StatusForKind maps checkout error kinds to HTTP status codes.
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return 400
	case KindBusinessRule:
		return 409
	case KindRemoteCritical, KindRemoteNonCritical:
		return 502
	case KindPostCapture:
		return 500
	default:
		return 500
	}
}
