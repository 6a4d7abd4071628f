// Package model defines the checkout domain types shared by every component:
// cart lines, addresses, shipping methods, coupons, payment terms and the
// order specification sent to the commerce backend.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCountry is used when an address arrives without a country code.
const DefaultCountry = "SE"

// === Cart ===

// CartLine is one {item, quantity, unit price} entry of the cart snapshot.
// Read-only to the checkout core; owned by the cart store.
type CartLine struct {
	ProductID   int             `json:"product_id"`
	VariationID int             `json:"variation_id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// LineTotal returns unit price × quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Subtotal sums line totals.
func Subtotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// === Address ===

// Address is the checkout form address. Shipping and billing are two
// independent instances.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

// Normalized trims fields and applies the default country.
func (a Address) Normalized() Address {
	out := Address{
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
		Company:   strings.TrimSpace(a.Company),
		Email:     strings.TrimSpace(a.Email),
		Phone:     strings.TrimSpace(a.Phone),
		Address1:  strings.TrimSpace(a.Address1),
		Address2:  strings.TrimSpace(a.Address2),
		City:      strings.TrimSpace(a.City),
		State:     strings.TrimSpace(a.State),
		Postcode:  strings.TrimSpace(a.Postcode),
		Country:   strings.ToUpper(strings.TrimSpace(a.Country)),
	}
	if out.Country == "" {
		out.Country = DefaultCountry
	}
	return out
}

// FullName joins first and last name.
func (a Address) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Destination returns the fields the shipping service needs.
func (a Address) Destination() Destination {
	return Destination{Postcode: a.Postcode, City: a.City, Country: a.Country}
}

// Destination is the geographic part of an address used for shipping lookups.
type Destination struct {
	Postcode string `json:"postcode"`
	City     string `json:"city"`
	Country  string `json:"country"`
}

// CompactPostcode strips all whitespace, e.g. "123 45" → "12345".
func (d Destination) CompactPostcode() string {
	return strings.Join(strings.Fields(d.Postcode), "")
}

// === Shipping ===

// Shipping method families known to the resolver.
const (
	MethodFlatRate     = "flat_rate"
	MethodFreeShipping = "free_shipping"
	MethodLocalPickup  = "local_pickup"
)

// ShippingMethod is one eligible method for the current destination.
// Invariant: TotalCost >= Cost >= 0.
type ShippingMethod struct {
	ID        string            `json:"id"`        // e.g. "flat_rate:1"
	MethodID  string            `json:"method_id"` // family, e.g. "flat_rate"
	Label     string            `json:"label"`
	Cost      decimal.Decimal   `json:"cost"`
	TotalCost decimal.Decimal   `json:"total_cost"`
	Tax       decimal.Decimal   `json:"tax"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// IsFree reports whether the method belongs to the free_shipping family.
func (m ShippingMethod) IsFree() bool {
	return m.MethodID == MethodFreeShipping
}

// RestrictedItem is a cart product that cannot ship to the destination.
type RestrictedItem struct {
	ProductID int    `json:"product_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
}

// === Coupon ===

// DiscountKind tags the coupon variant.
type DiscountKind string

const (
	DiscountNone      DiscountKind = ""
	DiscountPercent   DiscountKind = "percent"
	DiscountFixedCart DiscountKind = "fixed_cart"
)

// ParseDiscountKind maps a backend discount_type string to a kind.
// Types the reconciler does not price resolve to DiscountNone.
func ParseDiscountKind(s string) DiscountKind {
	switch strings.TrimSpace(s) {
	case string(DiscountPercent):
		return DiscountPercent
	case string(DiscountFixedCart):
		return DiscountFixedCart
	default:
		return DiscountNone
	}
}

// Coupon is {percent, amount} | {fixed_cart, amount} | none.
// The zero value means no coupon applied.
type Coupon struct {
	Code   string          `json:"code,omitempty"`
	Kind   DiscountKind    `json:"type,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// Applied reports whether the coupon carries a priceable discount.
func (c Coupon) Applied() bool {
	return c.Kind != DiscountNone
}

// === Payment ===

// PaymentTerm selects immediate payment or invoice credit.
type PaymentTerm string

const (
	TermImmediate PaymentTerm = "immediate"
	TermCredit    PaymentTerm = "credit"
)

// Normalize maps unknown or empty terms to immediate.
func (t PaymentTerm) Normalize() PaymentTerm {
	if t == TermCredit {
		return TermCredit
	}
	return TermImmediate
}

// Pathway is the route an order's payment takes.
type Pathway string

const (
	PathwayInvoiceCredit Pathway = "invoice_credit"
	PathwayCardCapture   Pathway = "card_capture"
	PathwayManual        Pathway = "manual"
)

// === Order ===

// MetaData is an arbitrary key/value pair attached to an order.
type MetaData struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// OrderLine is a line item in an order spec.
type OrderLine struct {
	ProductID   int `json:"product_id"`
	VariationID int `json:"variation_id,omitempty"`
	Quantity    int `json:"quantity"`
}

// ShippingLine records the chosen method on the order.
type ShippingLine struct {
	MethodID    string `json:"method_id"`
	MethodTitle string `json:"method_title"`
	Total       string `json:"total"`
}

// OrderSpec is everything the commerce backend needs to create an order.
type OrderSpec struct {
	CustomerID         int           `json:"customer_id,omitempty"`
	Billing            Address       `json:"billing"`
	Shipping           Address       `json:"shipping"`
	LineItems          []OrderLine   `json:"line_items"`
	ShippingLine       *ShippingLine `json:"shipping_line,omitempty"`
	PaymentMethod      string        `json:"payment_method"`
	PaymentMethodTitle string        `json:"payment_method_title"`
	CustomerNote       string        `json:"customer_note,omitempty"`
	CouponCodes        []string      `json:"coupon_codes,omitempty"`
	SetPaid            bool          `json:"set_paid"`
	TransactionID      string        `json:"transaction_id,omitempty"`
	Meta               []MetaData    `json:"meta_data,omitempty"`
}

// Order is the committed order record returned by the backend.
type Order struct {
	ID        int       `json:"id"`
	Number    string    `json:"number"`
	Status    string    `json:"status"`
	Total     string    `json:"total"`
	Currency  string    `json:"currency"`
	OrderKey  string    `json:"order_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StockError describes one cart line that failed stock validation.
type StockError struct {
	ProductID   int    `json:"product_id"`
	VariationID int    `json:"variation_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Message     string `json:"message"`
}

// StockResult is the outcome of a stock validation call.
type StockResult struct {
	Valid  bool         `json:"valid"`
	Errors []StockError `json:"errors,omitempty"`
}

// Customer is the subset of the backend customer record the checkout uses.
type Customer struct {
	ID       int     `json:"id"`
	Email    string  `json:"email"`
	Billing  Address `json:"billing"`
	Shipping Address `json:"shipping"`
}

// === Recovery ===

// RecoverySnapshot is the in-flight checkout copied to session storage before
// control passes to the external payment UI.
type RecoverySnapshot struct {
	SessionID          string          `json:"session_id"`
	CustomerID         int             `json:"customer_id,omitempty"`
	Billing            Address         `json:"billing"`
	Shipping           Address         `json:"shipping"`
	ShippingMethod     *ShippingMethod `json:"shipping_method,omitempty"`
	PaymentMethod      string          `json:"payment_method"`
	PaymentMethodTitle string          `json:"payment_method_title"`
	Lines              []CartLine      `json:"lines"`
	Notes              string          `json:"notes,omitempty"`
	Coupon             Coupon          `json:"coupon"`
	PaymentIntentID    string          `json:"payment_intent_id"`
	Amount             int64           `json:"amount_minor"`
	Currency           string          `json:"currency"`
	CreatedAt          time.Time       `json:"created_at"`
}

// === Payment processor ===

// IntentRequest asks the card processor to prepare a capture.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	CustomerEmail  string
	CustomerName   string
	Billing        Address
	Shipping       Address
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentIntent is the processor's handle for a pending capture.
type PaymentIntent struct {
	ID           string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
}
