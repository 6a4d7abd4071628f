package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/negotiation"
)

// === Request bodies ===

type billingAddressRequest struct {
	SameAsShipping bool           `json:"same_as_shipping"`
	Address        *model.Address `json:"address,omitempty"`
}

type shippingMethodRequest struct {
	ID string `json:"id"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type paymentRequest struct {
	Method string            `json:"method"`
	Title  string            `json:"title,omitempty"`
	Term   model.PaymentTerm `json:"term,omitempty"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type paymentSucceededRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

type paymentFailedRequest struct {
	Message string `json:"message"`
}

// commitResponse pairs the commit outcome with the updated session.
type commitResponse struct {
	Result   *checkout.CommitResult `json:"result"`
	Checkout checkout.View          `json:"checkout"`
}

// session looks up the session named by the {id} path segment and writes
// the error response when it does not exist.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*checkout.Session, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, model.NewValidationError("id", "checkout ID required"))
		return nil, false
	}
	s, err := h.checkouts.Get(id)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return s, true
}

// update runs fn against the session and responds with the resulting view.
func (h *Handler) update(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, s *checkout.Session) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), s); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.View())
}

// handleCreateCheckout starts a checkout for an existing cart.
// POST /checkout-sessions
func (h *Handler) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkout.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "creating checkout",
		slog.Bool("has_cart_token", req.CartToken != ""),
		slog.Bool("known_customer", req.CustomerID > 0),
	)

	s, err := h.checkouts.Create(ctx, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, s.View())
}

// handleGetCheckout returns the current session view.
// GET /checkout-sessions/{id}
func (h *Handler) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, s.View())
}

// handleGetRecovery returns the snapshot written before a card capture.
// Answers after the session itself has expired.
// GET /checkout-sessions/{id}/recovery
func (h *Handler) handleGetRecovery(w http.ResponseWriter, r *http.Request) {
	snap, err := h.checkouts.Recovery(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, model.NewUpstreamError("recovery store", err))
		return
	}
	if snap == nil {
		h.writeError(w, model.NewNotFoundError("recovery snapshot"))
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// handleSetShippingAddress replaces the shipping address.
// PUT /checkout-sessions/{id}/shipping-address
func (h *Handler) handleSetShippingAddress(w http.ResponseWriter, r *http.Request) {
	var addr model.Address
	if err := decodeJSON(r, &addr); err != nil {
		h.writeError(w, err)
		return
	}
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		return s.SetShippingAddress(ctx, addr)
	})
}

// handleSetBillingAddress sets a separate billing address or switches back
// to same-as-shipping.
// PUT /checkout-sessions/{id}/billing-address
func (h *Handler) handleSetBillingAddress(w http.ResponseWriter, r *http.Request) {
	var req billingAddressRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if !req.SameAsShipping && req.Address == nil {
		h.writeError(w, model.NewValidationError("address", "required unless same_as_shipping"))
		return
	}
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		if req.SameAsShipping {
			return s.SetBillingSameAsShipping(true)
		}
		return s.SetBillingAddress(*req.Address)
	})
}

// handleResolveShipping fetches methods for the current shipping address.
// POST /checkout-sessions/{id}/shipping/resolve
func (h *Handler) handleResolveShipping(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		res, err := s.ResolveShipping(ctx)
		if err != nil {
			return err
		}
		h.logger.InfoContext(ctx, "shipping resolved",
			slog.String("checkout_id", s.ID()),
			slog.Int("methods", len(res.Methods)),
			slog.Bool("estimated", res.Estimated),
		)
		return nil
	})
}

// handleSelectShippingMethod picks one of the resolved methods.
// PUT /checkout-sessions/{id}/shipping-method
func (h *Handler) handleSelectShippingMethod(w http.ResponseWriter, r *http.Request) {
	var req shippingMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		return s.SelectShippingMethod(req.ID)
	})
}

// handleApplyCoupon applies a coupon code, replacing any applied coupon.
// PUT /checkout-sessions/{id}/coupon
func (h *Handler) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		_, err := s.ApplyCoupon(ctx, req.Code)
		return err
	})
}

// handleRemoveCoupon clears the applied coupon.
// DELETE /checkout-sessions/{id}/coupon
func (h *Handler) handleRemoveCoupon(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		return s.RemoveCoupon()
	})
}

// handleSetPayment records the payment method and, when given, the term.
// PUT /checkout-sessions/{id}/payment
func (h *Handler) handleSetPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		if err := s.SetPaymentMethod(req.Method, req.Title); err != nil {
			return err
		}
		if req.Term != "" {
			return s.SetPaymentTerm(req.Term)
		}
		return nil
	})
}

// handleSetNotes records the order note.
// PUT /checkout-sessions/{id}/notes
func (h *Handler) handleSetNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		return s.SetNotes(req.Notes)
	})
}

// handleAdvance moves the session to the payment step.
// POST /checkout-sessions/{id}/advance
func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		return s.Advance(ctx)
	})
}

// handleEdit returns the session to the information step.
// POST /checkout-sessions/{id}/edit
func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		return s.Edit(ctx)
	})
}

// handleCommit runs the commit sequence. Card payments answer 202 with the
// client secret; the order follows through the payment callbacks.
// POST /checkout-sessions/{id}/commit
func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idemKey, err := negotiation.ParseIdempotencyKey(r.Header.Get(negotiation.IdempotencyKeyHeader))
	if err != nil {
		h.writeError(w, model.NewValidationError(negotiation.IdempotencyKeyHeader, err.Error()))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "committing checkout",
		slog.String("checkout_id", s.ID()),
		slog.Bool("has_idempotency_key", idemKey != ""),
	)

	res, err := s.Commit(ctx, idemKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Pathway == model.PathwayCardCapture && res.Order == nil {
		status = http.StatusAccepted // payment still to be confirmed
	}
	h.writeJSON(w, status, commitResponse{Result: res, Checkout: s.View()})
}

// handlePaymentSucceeded records the order for a captured card payment.
// POST /checkout-sessions/{id}/payment/succeeded
func (h *Handler) handlePaymentSucceeded(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req paymentSucceededRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.PaymentIntentID == "" {
		h.writeError(w, model.NewValidationError("payment_intent_id", "required"))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if h.verifier != nil {
		if err := h.verifier.VerifyCaptured(ctx, req.PaymentIntentID); err != nil {
			h.logger.WarnContext(ctx, "payment not verified",
				slog.String("checkout_id", s.ID()),
				slog.String("payment_intent_id", req.PaymentIntentID),
				slog.String("error", err.Error()),
			)
			h.writeError(w, err)
			return
		}
	}

	if _, err := s.ConfirmPayment(ctx, req.PaymentIntentID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.View())
}

// handlePaymentFailed drops the pending payment so the user can retry.
// POST /checkout-sessions/{id}/payment/failed
func (h *Handler) handlePaymentFailed(w http.ResponseWriter, r *http.Request) {
	var req paymentFailedRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	// The recorded failure is the expected outcome; the view carries it.
	h.update(w, r, func(ctx context.Context, s *checkout.Session) error {
		var coErr *model.CheckoutError
		if err := s.FailPayment(ctx, req.Message); err != nil && !(errors.As(err, &coErr) && coErr.Code == "payment_failed") {
			return err
		}
		return nil
	})
}
