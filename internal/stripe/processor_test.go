package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	stripeapi "github.com/stripe/stripe-go/v76"

	"storefront-checkout/internal/model"
)

func newTestProcessor(t *testing.T, handler http.HandlerFunc) *Processor {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(Config{
		SecretKey:         "sk_test_123",
		BaseURL:           server.URL,
		MaxNetworkRetries: stripeapi.Int64(0),
		HTTPClient:        server.Client(),
		Description:       "Lunds Grossist",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() expected error without secret key")
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	var form url.Values
	var idemKey, auth string
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		form = r.PostForm
		idemKey = r.Header.Get("Idempotency-Key")
		auth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":            "pi_123",
			"object":        "payment_intent",
			"client_secret": "pi_123_secret_abc",
			"status":        "requires_payment_method",
		})
	})

	addr := model.Address{
		FirstName: "Anna", LastName: "Berg", Email: "anna@example.se",
		Address1: "Storgatan 1", City: "Uppsala", Postcode: "75320", Country: "SE",
	}
	intent, err := p.CreatePaymentIntent(context.Background(), model.IntentRequest{
		AmountMinor:    72375,
		Currency:       "sek",
		CustomerEmail:  "anna@example.se",
		CustomerName:   "Anna Berg",
		Billing:        addr,
		Shipping:       addr,
		IdempotencyKey: "sess-1:key-1",
		Metadata:       map[string]string{"checkout_session": "sess-1"},
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent() error = %v", err)
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret_abc" {
		t.Errorf("intent = %+v", intent)
	}

	if auth != "Bearer sk_test_123" {
		t.Errorf("Authorization = %q", auth)
	}
	if idemKey != "sess-1:key-1" {
		t.Errorf("Idempotency-Key = %q", idemKey)
	}
	want := map[string]string{
		"amount":                             "72375",
		"currency":                           "sek",
		"automatic_payment_methods[enabled]": "true",
		"receipt_email":                      "anna@example.se",
		"description":                        "Lunds Grossist",
		"shipping[name]":                     "Anna Berg",
		"shipping[address][postal_code]":     "75320",
		"shipping[address][country]":         "SE",
		"metadata[checkout_session]":         "sess-1",
		"metadata[billing_name]":             "Anna Berg",
		"metadata[billing_email]":            "anna@example.se",
		"metadata[billing_address]":          "Storgatan 1, 75320 Uppsala, SE",
	}
	for k, v := range want {
		if got := form.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestCreatePaymentIntent_NonPositiveAmount(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	_, err := p.CreatePaymentIntent(context.Background(), model.IntentRequest{AmountMinor: 0, Currency: "sek"})
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("error = %v, want invalid request", err)
	}
}

func TestCreatePaymentIntent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		errType  string
		sentinel error
	}{
		{"card declined", http.StatusPaymentRequired, "card_error", model.ErrPaymentFailed},
		{"bad key", http.StatusUnauthorized, "invalid_request_error", model.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, "invalid_request_error", model.ErrRateLimited},
		{"outage", http.StatusInternalServerError, "api_error", model.ErrUpstreamError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]interface{}{
					"error": map[string]string{"type": tt.errType, "message": "request failed"},
				})
			})
			_, err := p.CreatePaymentIntent(context.Background(), model.IntentRequest{AmountMinor: 100, Currency: "sek"})
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error = %v, want %v", err, tt.sentinel)
			}
		})
	}
}

func TestVerifyCaptured(t *testing.T) {
	tests := []struct {
		status  string
		wantErr bool
	}{
		{"succeeded", false},
		{"processing", false},
		{"requires_capture", false},
		{"requires_payment_method", true},
		{"canceled", true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/v1/payment_intents/pi_123" {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"id": "pi_123", "object": "payment_intent", "status": tt.status,
				})
			})
			err := p.VerifyCaptured(context.Background(), "pi_123")
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyCaptured() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyCaptured_UnknownIntent(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": map[string]string{"type": "invalid_request_error", "code": "resource_missing", "message": "No such payment_intent"},
		})
	})
	if err := p.VerifyCaptured(context.Background(), "pi_missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestCancelPaymentIntent(t *testing.T) {
	var form url.Values
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents/pi_123/cancel" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		form = r.PostForm
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "pi_123", "object": "payment_intent", "status": "canceled",
		})
	})
	if err := p.CancelPaymentIntent(context.Background(), "pi_123"); err != nil {
		t.Fatalf("CancelPaymentIntent() error = %v", err)
	}
	if got := form.Get("cancellation_reason"); got != "abandoned" {
		t.Errorf("cancellation_reason = %q, want abandoned", got)
	}
}

func TestCancelPaymentIntent_UnexpectedState(t *testing.T) {
	tests := []struct {
		status   string
		sentinel error
	}{
		{"canceled", nil},
		{"succeeded", model.ErrConflict},
		{"processing", model.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{
					"error": map[string]interface{}{
						"type":    "invalid_request_error",
						"code":    "payment_intent_unexpected_state",
						"message": "This PaymentIntent could not be canceled.",
						"payment_intent": map[string]interface{}{
							"id": "pi_123", "object": "payment_intent", "status": tt.status,
						},
					},
				})
			})
			err := p.CancelPaymentIntent(context.Background(), "pi_123")
			if tt.sentinel == nil {
				if err != nil {
					t.Errorf("error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error = %v, want %v", err, tt.sentinel)
			}
		})
	}
}

func TestCancelPaymentIntent_Outage(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": map[string]string{"type": "api_error", "message": "try again"},
		})
	})
	if err := p.CancelPaymentIntent(context.Background(), "pi_123"); !errors.Is(err, model.ErrUpstreamError) {
		t.Errorf("error = %v, want upstream error", err)
	}
}
