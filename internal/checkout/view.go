package checkout

import (
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/reconcile"
)

// View is a read-only copy of session state for rendering.
type View struct {
	ID                    string                   `json:"id"`
	Step                  Step                     `json:"step"`
	CustomerID            int                      `json:"customer_id,omitempty"`
	Lines                 []model.CartLine         `json:"lines"`
	CartChanges           *reconcile.LineDiff      `json:"cart_changes,omitempty"`
	ShippingAddress       model.Address            `json:"shipping_address"`
	BillingAddress        *model.Address           `json:"billing_address,omitempty"`
	BillingSameAsShipping bool                     `json:"billing_same_as_shipping"`
	ShippingMethods       []model.ShippingMethod   `json:"shipping_methods"`
	SelectedMethod        *model.ShippingMethod    `json:"selected_shipping_method,omitempty"`
	RatesEstimated        bool                     `json:"rates_estimated"`
	AdvisoryRestrictions  []model.RestrictedItem   `json:"advisory_restrictions,omitempty"`
	Restricted            []model.RestrictedItem   `json:"restricted_products,omitempty"`
	PaymentMethod         string                   `json:"payment_method,omitempty"`
	PaymentTerm           model.PaymentTerm        `json:"payment_term"`
	Payment               payment.EffectivePayment `json:"effective_payment"`
	Coupon                *model.Coupon            `json:"coupon,omitempty"`
	Notes                 string                   `json:"notes,omitempty"`
	Totals                pricing.Totals           `json:"totals"`
	FieldErrors           []model.FieldError       `json:"field_errors,omitempty"`
	StockErrors           []model.StockError       `json:"stock_errors,omitempty"`
	Error                 *model.CheckoutError     `json:"error,omitempty"`
	Processing            bool                     `json:"processing"`
	ClientSecret          string                   `json:"client_secret,omitempty"`
	PaymentIntentID       string                   `json:"payment_intent_id,omitempty"`
	Completed             bool                     `json:"completed"`
	Order                 *model.Order             `json:"order,omitempty"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:                    s.id,
		Step:                  s.step,
		CustomerID:            s.customerID,
		Lines:                 append([]model.CartLine(nil), s.lines...),
		CartChanges:           s.cartChanges,
		ShippingAddress:       s.shipping,
		BillingSameAsShipping: s.billingSame,
		ShippingMethods:       append([]model.ShippingMethod(nil), s.methods...),
		RatesEstimated:        s.estimated,
		AdvisoryRestrictions:  append([]model.RestrictedItem(nil), s.advisory...),
		Restricted:            append([]model.RestrictedItem(nil), s.restricted...),
		PaymentMethod:         s.paymentMethod,
		PaymentTerm:           s.term,
		Payment:               s.env.Payments.Effective(s.paymentMethod, s.paymentTitle, s.term),
		Notes:                 s.notes,
		Totals:                s.totalsLocked(),
		FieldErrors:           append([]model.FieldError(nil), s.fieldErrors...),
		StockErrors:           append([]model.StockError(nil), s.stockErrors...),
		Error:                 s.lastErr,
		Processing:            s.processing,
		ClientSecret:          s.clientSecret,
		Completed:             s.completed,
		Order:                 s.order,
	}
	if s.hasBilling {
		b := s.billing
		v.BillingAddress = &b
	}
	if s.selected != nil {
		m := *s.selected
		v.SelectedMethod = &m
	}
	if s.coupon.Applied() {
		c := s.coupon
		v.Coupon = &c
	}
	if s.pending != nil {
		v.PaymentIntentID = s.pending.PaymentIntentID
	}
	return v
}
