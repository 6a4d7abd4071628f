// Package checkout is the single-session checkout state machine.
//
// A Session moves from the information step to the payment step through a
// guarded Advance, may return with Edit, and finishes with Commit. Card
// payments stop after the payment intent is created; the order is recorded
// when the processor integration reports success through ConfirmPayment.
//
// Remote collaborators are reached through the narrow interfaces below. Each
// failure crossing into the session is classified as a *model.CheckoutError.
package checkout

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/recovery"
	"storefront-checkout/internal/shipping"
	"storefront-checkout/internal/telemetry"
)

// CartStore is the external cart owning the line items.
type CartStore interface {
	// Lines returns the current cart snapshot.
	Lines(ctx context.Context, cartToken string) ([]model.CartLine, error)
	// Clear empties the cart after a committed order.
	Clear(ctx context.Context, cartToken string) error
	// SetShippingHint records the shipping address for cross-page continuity.
	SetShippingHint(ctx context.Context, cartToken string, addr model.Address) error
}

// Backend is the commerce backend holding orders, stock, customers and coupons.
type Backend interface {
	CreateOrder(ctx context.Context, spec *model.OrderSpec) (*model.Order, error)
	ValidateStock(ctx context.Context, lines []model.CartLine) (*model.StockResult, error)
	GetCustomer(ctx context.Context, id int) (*model.Customer, error)
	UpdateCustomer(ctx context.Context, customer *model.Customer) error
	// FindCoupon resolves a code to a priceable coupon.
	// Returns a model.ErrNotFound-wrapping error for unknown codes.
	FindCoupon(ctx context.Context, code string) (*model.Coupon, error)
}

// PaymentProcessor creates card payment intents.
type PaymentProcessor interface {
	CreatePaymentIntent(ctx context.Context, req model.IntentRequest) (*model.PaymentIntent, error)
	// CancelPaymentIntent stops an intent from being captured. Returns a
	// model.ErrConflict-wrapping error when the payment already went through.
	CancelPaymentIntent(ctx context.Context, paymentIntentID string) error
}

// Deps wires a session to its collaborators and policy components.
type Deps struct {
	Cart      CartStore
	Backend   Backend
	Processor PaymentProcessor

	Resolver  *shipping.Resolver
	Validator *shipping.Validator
	Pricing   *pricing.Reconciler
	Payments  *payment.Selector
	Recovery  recovery.Store

	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Currency is the ISO 4217 code sent to the payment processor.
	Currency string
	// Now is the clock used for credit due dates. Defaults to time.Now.
	Now func() time.Time
}

// env is the shared, read-only environment of every session in a Manager.
type env struct {
	Deps
	coupons singleflight.Group
}

func newEnv(d Deps) *env {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Currency == "" {
		d.Currency = "sek"
	}
	if d.Pricing == nil {
		d.Pricing = pricing.NewReconciler(pricing.Config{})
	}
	if d.Payments == nil {
		d.Payments = payment.NewSelector(payment.Config{})
	}
	if d.Recovery == nil {
		d.Recovery = recovery.NewMemoryStore()
	}
	return &env{Deps: d}
}

// couponLookupTimeout bounds a shared coupon lookup.
const couponLookupTimeout = 10 * time.Second

// findCoupon coalesces concurrent lookups of the same code across sessions.
// The shared lookup is detached from any single caller's cancellation; each
// caller stops waiting when its own ctx ends.
func (e *env) findCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	ch := e.coupons.DoChan(code, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), couponLookupTimeout)
		defer cancel()
		return e.Backend.FindCoupon(lookupCtx, code)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Coupon), nil
	}
}
