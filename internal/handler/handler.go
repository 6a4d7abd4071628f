// Package handler provides HTTP handlers for the checkout API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/negotiation"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
)

// PaymentVerifier confirms with the card processor that a payment went
// through. Browser success callbacks are checked with it before the order is
// recorded as paid.
type PaymentVerifier interface {
	VerifyCaptured(ctx context.Context, paymentIntentID string) error
}

// Options holds the optional collaborators of a Handler.
type Options struct {
	// Pricing and Payments back the stateless MCP tools. They should be the
	// same instances the checkout manager uses.
	Pricing  *pricing.Reconciler
	Payments *payment.Selector
	// Verifier is nil when card payments are disabled.
	Verifier PaymentVerifier
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// ClientPolicy gates MCP callers, which bypass the header middleware.
	ClientPolicy negotiation.VersionPolicy
	Version      string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	checkouts *checkout.Manager
	pricing   *pricing.Reconciler
	payments  *payment.Selector
	verifier  PaymentVerifier
	metrics   http.Handler
	policy    negotiation.VersionPolicy
	version   string
	logger    *slog.Logger
}

// New creates a new Handler over the session manager.
func New(checkouts *checkout.Manager, opts Options, logger *slog.Logger) *Handler {
	if opts.Pricing == nil {
		opts.Pricing = pricing.NewReconciler(pricing.Config{})
	}
	if opts.Payments == nil {
		opts.Payments = payment.NewSelector(payment.Config{})
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		checkouts: checkouts,
		pricing:   opts.Pricing,
		payments:  opts.Payments,
		verifier:  opts.Verifier,
		metrics:   opts.Metrics,
		policy:    opts.ClientPolicy,
		version:   opts.Version,
		logger:    logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Session lifecycle
	mux.HandleFunc("POST /checkout-sessions", h.handleCreateCheckout)
	mux.HandleFunc("GET /checkout-sessions/{id}", h.handleGetCheckout)
	mux.HandleFunc("GET /checkout-sessions/{id}/recovery", h.handleGetRecovery)

	// Information step
	mux.HandleFunc("PUT /checkout-sessions/{id}/shipping-address", h.handleSetShippingAddress)
	mux.HandleFunc("PUT /checkout-sessions/{id}/billing-address", h.handleSetBillingAddress)
	mux.HandleFunc("POST /checkout-sessions/{id}/shipping/resolve", h.handleResolveShipping)
	mux.HandleFunc("PUT /checkout-sessions/{id}/shipping-method", h.handleSelectShippingMethod)

	// Either step
	mux.HandleFunc("PUT /checkout-sessions/{id}/coupon", h.handleApplyCoupon)
	mux.HandleFunc("DELETE /checkout-sessions/{id}/coupon", h.handleRemoveCoupon)
	mux.HandleFunc("PUT /checkout-sessions/{id}/payment", h.handleSetPayment)
	mux.HandleFunc("PUT /checkout-sessions/{id}/notes", h.handleSetNotes)

	// Transitions
	mux.HandleFunc("POST /checkout-sessions/{id}/advance", h.handleAdvance)
	mux.HandleFunc("POST /checkout-sessions/{id}/edit", h.handleEdit)
	mux.HandleFunc("POST /checkout-sessions/{id}/commit", h.handleCommit)

	// Payment processor callbacks
	mux.HandleFunc("POST /checkout-sessions/{id}/payment/succeeded", h.handlePaymentSucceeded)
	mux.HandleFunc("POST /checkout-sessions/{id}/payment/failed", h.handlePaymentFailed)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// sessionErrors maps session state errors to their response.
var sessionErrors = []struct {
	err    error
	status int
	code   string
}{
	{checkout.ErrWrongStep, http.StatusConflict, "wrong_step"},
	{checkout.ErrCommitInProgress, http.StatusConflict, "commit_in_progress"},
	{checkout.ErrCompleted, http.StatusConflict, "checkout_completed"},
	{checkout.ErrStaleShipping, http.StatusConflict, "stale_shipping"},
	{checkout.ErrNoPendingPayment, http.StatusConflict, "no_pending_payment"},
	{checkout.ErrUnknownShipMethod, http.StatusBadRequest, "unknown_shipping_method"},
}

// writeError sends an error response. Classified checkout failures keep
// their kind and offending lines; APIErrors keep their status and code.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var coErr *model.CheckoutError
	if errors.As(err, &coErr) {
		status := model.StatusForKind(coErr.Kind)
		if status >= http.StatusInternalServerError {
			h.logger.Error("checkout failure",
				slog.String("kind", string(coErr.Kind)),
				slog.String("error", coErr.Error()),
			)
		}
		h.writeJSON(w, status, errorResponse{Error: errorBody{
			Code:          coErr.Code,
			Message:       coErr.Message,
			Kind:          coErr.Kind,
			Retryable:     coErr.Retryable(),
			Fields:        coErr.Fields,
			Stock:         coErr.Stock,
			Restricted:    coErr.Restricted,
			TransactionID: coErr.TransactionID,
		}})
		return
	}

	for _, se := range sessionErrors {
		if errors.Is(err, se.err) {
			h.writeJSON(w, se.status, errorResponse{Error: errorBody{
				Code:    se.code,
				Message: se.err.Error(),
			}})
			return
		}
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		// Found APIError in error chain - use it
	} else {
		// Wrap unexpected errors
		apiErr = &model.APIError{
			Code:       "INTERNAL_ERROR",
			Message:    "an internal error occurred",
			StatusCode: http.StatusInternalServerError,
		}
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code          string                 `json:"code"`
	Message       string                 `json:"message"`
	Kind          model.ErrorKind        `json:"kind,omitempty"`
	Retryable     bool                   `json:"retryable,omitempty"`
	Fields        []model.FieldError     `json:"fields,omitempty"`
	Stock         []model.StockError     `json:"stock,omitempty"`
	Restricted    []model.RestrictedItem `json:"restricted,omitempty"`
	TransactionID string                 `json:"transaction_id,omitempty"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  h.version,
		Sessions: h.checkouts.Len(),
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}
