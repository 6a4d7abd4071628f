package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "without wrapped error",
			err: &APIError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
			},
			want: "TEST_ERROR: something went wrong",
		},
		{
			name: "with wrapped error",
			err: &APIError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
				Err:     errors.New("underlying cause"),
			},
			want: "TEST_ERROR: something went wrong (underlying cause)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &APIError{
		Code:    "TEST",
		Message: "test",
		Err:     underlying,
	}

	unwrapped := err.Unwrap()
	if unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}

	// Test nil case
	errNoWrap := &APIError{Code: "TEST", Message: "test"}
	if errNoWrap.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no wrapped error")
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("checkout")

	if err.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want %q", err.Code, "NOT_FOUND")
	}
	if err.Message != "checkout not found" {
		t.Errorf("Message = %q, want %q", err.Message, "checkout not found")
	}
	if err.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 404)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("error should wrap ErrNotFound sentinel")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("email", "must be valid email address")

	if err.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want %q", err.Code, "VALIDATION_ERROR")
	}
	if err.Message != "invalid email: must be valid email address" {
		t.Errorf("Message = %q, want %q", err.Message, "invalid email: must be valid email address")
	}
	if err.StatusCode != 400 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 400)
	}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Error("error should wrap ErrInvalidRequest sentinel")
	}
}

func TestNewUnauthorizedError(t *testing.T) {
	err := NewUnauthorizedError("invalid API key")

	if err.Code != "UNAUTHORIZED" {
		t.Errorf("Code = %q, want %q", err.Code, "UNAUTHORIZED")
	}
	if err.Message != "invalid API key" {
		t.Errorf("Message = %q, want %q", err.Message, "invalid API key")
	}
	if err.StatusCode != 401 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 401)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Error("error should wrap ErrUnauthorized sentinel")
	}
}

func TestNewUpstreamError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewUpstreamError("WooCommerce", underlying)

	if err.Code != "UPSTREAM_ERROR" {
		t.Errorf("Code = %q, want %q", err.Code, "UPSTREAM_ERROR")
	}
	if err.Message != "WooCommerce request failed" {
		t.Errorf("Message = %q, want %q", err.Message, "WooCommerce request failed")
	}
	if err.StatusCode != 502 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 502)
	}
	if !errors.Is(err, ErrUpstreamError) {
		t.Error("error should wrap ErrUpstreamError sentinel")
	}
	// Verify the underlying error is preserved in the chain
	if err.Err == nil {
		t.Error("wrapped error should not be nil")
	}
}

func TestNewPaymentError(t *testing.T) {
	err := NewPaymentError("card declined")

	if err.Code != "PAYMENT_ERROR" {
		t.Errorf("Code = %q, want %q", err.Code, "PAYMENT_ERROR")
	}
	if err.Message != "card declined" {
		t.Errorf("Message = %q, want %q", err.Message, "card declined")
	}
	if err.StatusCode != 402 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 402)
	}
	if !errors.Is(err, ErrPaymentFailed) {
		t.Error("error should wrap ErrPaymentFailed sentinel")
	}
}

func TestNewInternalError(t *testing.T) {
	underlying := errors.New("null pointer dereference")
	err := NewInternalError(underlying)

	if err.Code != "INTERNAL_ERROR" {
		t.Errorf("Code = %q, want %q", err.Code, "INTERNAL_ERROR")
	}
	if err.Message != "an internal error occurred" {
		t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
	}
	if err.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 500)
	}
	if err.Err != underlying {
		t.Error("wrapped error should be preserved")
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("Stripe")

	if err.Code != "RATE_LIMITED" {
		t.Errorf("Code = %q, want %q", err.Code, "RATE_LIMITED")
	}
	if err.Message != "Stripe rate limit exceeded, please retry later" {
		t.Errorf("Message = %q, want %q", err.Message, "Stripe rate limit exceeded, please retry later")
	}
	if err.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 429)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("error should wrap ErrRateLimited sentinel")
	}
}

// TestErrorsIs verifies that errors.Is() works correctly with all sentinel errors.
// This is critical for handler code that uses errors.Is() to determine response codes.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		sentinel error
	}{
		{"NotFound", NewNotFoundError("x"), ErrNotFound},
		{"Validation", NewValidationError("x", "y"), ErrInvalidRequest},
		{"Unauthorized", NewUnauthorizedError("x"), ErrUnauthorized},
		{"Upstream", NewUpstreamError("x", nil), ErrUpstreamError},
		{"Payment", NewPaymentError("x"), ErrPaymentFailed},
		{"RateLimit", NewRateLimitError("x"), ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%T, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}
}

// TestAPIErrorImplementsError verifies the error interface is properly implemented.
func TestAPIErrorImplementsError(t *testing.T) {
	var err error = &APIError{Code: "TEST", Message: "test"}
	_ = err.Error() // Should compile and not panic

	// Verify it works with fmt.Errorf wrapping
	wrapped := fmt.Errorf("outer: %w", err)
	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Error("errors.As should find *APIError in wrapped error")
	}
}

func TestCheckoutErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        *CheckoutError
		wantKind   ErrorKind
		wantCode   string
		wantStatus int
		retryable  bool
	}{
		{"missing fields", NewFieldErrors([]FieldError{{Field: "shipping.city"}}), KindValidation, "missing_fields", 400, true},
		{"input", NewInputError("invalid_coupon", "no such coupon"), KindValidation, "invalid_coupon", 400, true},
		{"remote critical", NewRemoteFailure("cart", true, errors.New("timeout")), KindRemoteCritical, "remote_unavailable", 502, true},
		{"remote noncritical", NewRemoteFailure("shipping", false, nil), KindRemoteNonCritical, "remote_unavailable", 502, true},
		{"restricted", NewRestrictionError([]RestrictedItem{{ProductID: 1, Name: "Lye"}}), KindBusinessRule, "shipping_restricted", 409, true},
		{"stock", NewStockError([]StockError{{ProductID: 2, Message: "out of stock"}}), KindBusinessRule, "out_of_stock", 409, true},
		{"payment", NewPaymentFailure(""), KindRemoteCritical, "payment_failed", 502, true},
		{"post capture", NewPostCaptureError("pi_1", errors.New("boom")), KindPostCapture, "order_not_recorded", 500, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", tt.err.Kind, tt.wantKind)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.wantCode)
			}
			if got := StatusForKind(tt.err.Kind); got != tt.wantStatus {
				t.Errorf("StatusForKind = %d, want %d", got, tt.wantStatus)
			}
			if tt.err.Retryable() != tt.retryable {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable(), tt.retryable)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestCheckoutErrorListsEveryLine(t *testing.T) {
	err := NewStockError([]StockError{
		{ProductID: 10, Message: "out of stock"},
		{ProductID: 11, Message: "only 2 left"},
	})
	if !strings.Contains(err.Message, "10: out of stock") || !strings.Contains(err.Message, "11: only 2 left") {
		t.Errorf("Message = %q, want both lines", err.Message)
	}

	restricted := NewRestrictionError([]RestrictedItem{{Name: "Lye"}, {Name: "Ethanol"}})
	if !strings.Contains(restricted.Message, "Lye, Ethanol") {
		t.Errorf("Message = %q, want both names", restricted.Message)
	}
}

func TestCheckoutErrorUnwrap(t *testing.T) {
	if !errors.Is(NewInputError("x", "y"), ErrInvalidRequest) {
		t.Error("input error should wrap ErrInvalidRequest")
	}
	if !errors.Is(NewPaymentFailure("declined"), ErrPaymentFailed) {
		t.Error("payment failure should wrap ErrPaymentFailed")
	}

	wrapped := fmt.Errorf("commit: %w", NewPostCaptureError("pi_9", errors.New("backend down")))
	var coErr *CheckoutError
	if !errors.As(wrapped, &coErr) || coErr.TransactionID != "pi_9" {
		t.Errorf("errors.As = %+v", coErr)
	}
	if !strings.Contains(coErr.Error(), "backend down") {
		t.Errorf("Error() = %q, want cause", coErr.Error())
	}
}
