package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"storefront-checkout/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeTotal(t *testing.T) {
	tests := []struct {
		name     string
		subtotal string
		shipping string
		coupon   model.Coupon
		want     string
	}{
		{"no coupon", "600", "99", model.Coupon{}, "699"},
		{"percent coupon", "1000", "100", model.Coupon{Code: "SAVE10", Kind: model.DiscountPercent, Amount: d("10")}, "1000"},
		{"fixed coupon", "1000", "100", model.Coupon{Code: "FIX50", Kind: model.DiscountFixedCart, Amount: d("50")}, "1050"},
		{"full percent leaves shipping", "850", "79", model.Coupon{Kind: model.DiscountPercent, Amount: d("100")}, "79"},
		{"percent above 100 clamps to subtotal", "850", "79", model.Coupon{Kind: model.DiscountPercent, Amount: d("150")}, "79"},
		{"negative percent clamps to zero", "850", "79", model.Coupon{Kind: model.DiscountPercent, Amount: d("-5")}, "929"},
		{"free shipping", "6000", "0", model.Coupon{}, "6000"},
		{"fixed coupon not floored", "100", "0", model.Coupon{Kind: model.DiscountFixedCart, Amount: d("150")}, "-50"},
		{"fractional percent", "199.90", "49", model.Coupon{Kind: model.DiscountPercent, Amount: d("15")}, "218.915"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotal(d(tt.subtotal), d(tt.shipping), tt.coupon)
			if !got.Equal(d(tt.want)) {
				t.Errorf("ComputeTotal() = %s, want %s", got, tt.want)
			}
		})
	}
}

// Raising a fixed coupon by n lowers payable by exactly n.
func TestComputeTotal_FixedCouponLinear(t *testing.T) {
	subtotal, shipping := d("1000"), d("99")
	prev := ComputeTotal(subtotal, shipping, model.Coupon{Kind: model.DiscountFixedCart, Amount: d("0")})
	for amount := int64(10); amount <= 1500; amount += 10 {
		got := ComputeTotal(subtotal, shipping, model.Coupon{Kind: model.DiscountFixedCart, Amount: decimal.NewFromInt(amount)})
		if step := prev.Sub(got); !step.Equal(d("10")) {
			t.Fatalf("amount %d: payable moved by %s, want 10", amount, step)
		}
		prev = got
	}
}

func TestComputeTotal_Deterministic(t *testing.T) {
	coupon := model.Coupon{Kind: model.DiscountPercent, Amount: d("12.5")}
	a := ComputeTotal(d("333.33"), d("49.50"), coupon)
	b := ComputeTotal(d("333.33"), d("49.50"), coupon)
	if a.String() != b.String() {
		t.Errorf("repeated calls differ: %s vs %s", a, b)
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"699", 69900},
		{"0", 0},
		{"12.345", 1235},
		{"12.344", 1234},
		{"0.005", 1},
		{"218.915", 21892},
		{"-0.005", 0},
		{"1234567.89", 123456789},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := MinorUnits(d(tt.input)); got != tt.want {
				t.Errorf("MinorUnits(%s) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestBreakdown(t *testing.T) {
	r := NewReconciler(Config{FreeShippingThreshold: d("5000")})

	method := &model.ShippingMethod{
		ID: "flat_rate:1", MethodID: model.MethodFlatRate,
		Cost: d("99"), TotalCost: d("123.75"), Tax: d("24.75"),
	}
	got := r.Breakdown(d("600"), method, model.Coupon{})

	if !got.Shipping.Equal(d("123.75")) {
		t.Errorf("Shipping = %s, want 123.75", got.Shipping)
	}
	if !got.ShippingTax.Equal(d("24.75")) {
		t.Errorf("ShippingTax = %s, want 24.75", got.ShippingTax)
	}
	if !got.Payable.Equal(d("723.75")) {
		t.Errorf("Payable = %s, want 723.75", got.Payable)
	}
	if got.QualifiesForFreeShipping {
		t.Error("600 should not qualify for free shipping at 5000")
	}
	if !got.FreeShippingRemaining.Equal(d("4400")) {
		t.Errorf("FreeShippingRemaining = %s, want 4400", got.FreeShippingRemaining)
	}
}

func TestBreakdown_NoMethodAndQualified(t *testing.T) {
	r := NewReconciler(Config{FreeShippingThreshold: d("5000")})
	got := r.Breakdown(d("6000"), nil, model.Coupon{})

	if !got.Payable.Equal(d("6000")) {
		t.Errorf("Payable = %s, want 6000", got.Payable)
	}
	if !got.QualifiesForFreeShipping {
		t.Error("6000 should qualify for free shipping")
	}
	if !got.FreeShippingRemaining.IsZero() {
		t.Errorf("FreeShippingRemaining = %s, want 0", got.FreeShippingRemaining)
	}
}

func TestQualifiesForFreeShipping_ZeroThreshold(t *testing.T) {
	r := NewReconciler(Config{})
	if r.QualifiesForFreeShipping(d("100000")) {
		t.Error("zero threshold must never qualify")
	}
}
