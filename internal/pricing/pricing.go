// Package pricing combines the four monetary inputs of a checkout (subtotal,
// shipping, coupon discount, shipping tax) into a payable total.
//
// Every function here is pure: identical inputs always produce identical
// outputs, so callers recompute on each input change instead of caching.
package pricing

import (
	"github.com/shopspring/decimal"

	"storefront-checkout/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Config holds the merchant settings the reconciler needs.
type Config struct {
	// FreeShippingThreshold is the subtotal at which the cart qualifies for
	// free shipping. Zero disables the nudge.
	FreeShippingThreshold decimal.Decimal
}

// Reconciler computes totals for a checkout session.
type Reconciler struct {
	cfg Config
}

// NewReconciler creates a reconciler with the given configuration.
func NewReconciler(cfg Config) *Reconciler {
	return &Reconciler{cfg: cfg}
}

// Totals is the full price breakdown shown at checkout.
type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Shipping    decimal.Decimal `json:"shipping"`
	ShippingTax decimal.Decimal `json:"shipping_tax"`
	Discount    decimal.Decimal `json:"discount"`
	Payable     decimal.Decimal `json:"payable"`

	// Free shipping nudge: amount still needed and whether already reached.
	FreeShippingRemaining    decimal.Decimal `json:"free_shipping_remaining"`
	QualifiesForFreeShipping bool            `json:"qualifies_for_free_shipping"`
}

// Discount returns the coupon's discount against subtotal.
// Percent discounts are clamped to [0, subtotal]. Fixed-cart discounts are
// returned as-is; see ComputeTotal.
func Discount(subtotal decimal.Decimal, coupon model.Coupon) decimal.Decimal {
	switch coupon.Kind {
	case model.DiscountPercent:
		d := subtotal.Mul(coupon.Amount).Div(hundred)
		if d.IsNegative() {
			return decimal.Zero
		}
		if d.GreaterThan(subtotal) {
			return subtotal
		}
		return d
	case model.DiscountFixedCart:
		return coupon.Amount
	default:
		return decimal.Zero
	}
}

// ComputeTotal returns subtotal + shippingCost - discount.
// A fixed_cart coupon larger than subtotal + shipping yields a negative
// payable; the floor is a merchant policy decision and is not applied here.
func ComputeTotal(subtotal, shippingCost decimal.Decimal, coupon model.Coupon) decimal.Decimal {
	return subtotal.Add(shippingCost).Sub(Discount(subtotal, coupon))
}

// MinorUnits converts a payable amount to the smallest currency unit
// (öre/cents) with half-up rounding on amount × 100.
func MinorUnits(amount decimal.Decimal) int64 {
	scaled := amount.Mul(hundred)
	// decimal.Round rounds half away from zero; half-up differs for negatives.
	return scaled.Add(decimal.New(5, -1)).Floor().IntPart()
}

// Breakdown computes the full totals view. method may be nil when no
// shipping method is selected yet.
func (r *Reconciler) Breakdown(subtotal decimal.Decimal, method *model.ShippingMethod, coupon model.Coupon) Totals {
	shipping := decimal.Zero
	tax := decimal.Zero
	if method != nil {
		shipping = ShippingCost(*method)
		tax = method.Tax
	}

	t := Totals{
		Subtotal:    subtotal,
		Shipping:    shipping,
		ShippingTax: tax,
		Discount:    Discount(subtotal, coupon),
		Payable:     ComputeTotal(subtotal, shipping, coupon),
	}

	t.QualifiesForFreeShipping = r.QualifiesForFreeShipping(subtotal)
	if !t.QualifiesForFreeShipping && r.cfg.FreeShippingThreshold.IsPositive() {
		t.FreeShippingRemaining = r.cfg.FreeShippingThreshold.Sub(subtotal)
	} else {
		t.FreeShippingRemaining = decimal.Zero
	}
	return t
}

// QualifiesForFreeShipping reports whether subtotal reaches the threshold.
// A zero threshold never qualifies.
func (r *Reconciler) QualifiesForFreeShipping(subtotal decimal.Decimal) bool {
	return r.cfg.FreeShippingThreshold.IsPositive() &&
		subtotal.GreaterThanOrEqual(r.cfg.FreeShippingThreshold)
}

// ShippingCost returns the amount charged for a method: total cost when the
// service supplied one, otherwise the base cost.
func ShippingCost(m model.ShippingMethod) decimal.Decimal {
	if m.TotalCost.GreaterThan(m.Cost) {
		return m.TotalCost
	}
	return m.Cost
}
