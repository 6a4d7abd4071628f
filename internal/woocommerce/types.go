// Package woocommerce talks to a WooCommerce store: REST API v3 for orders,
// stock, customers and coupons; the Store API for the shopper's cart; and the
// storefront plugin for shipping rates and restrictions.
package woocommerce

// === REST API v3 types ===

// WooAddress represents a WooCommerce address.
type WooAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// WooOrderRequest is the body of POST /orders.
type WooOrderRequest struct {
	CustomerID         int                `json:"customer_id,omitempty"`
	PaymentMethod      string             `json:"payment_method"`
	PaymentMethodTitle string             `json:"payment_method_title"`
	SetPaid            bool               `json:"set_paid"`
	TransactionID      string             `json:"transaction_id,omitempty"`
	Billing            WooAddress         `json:"billing"`
	Shipping           WooAddress         `json:"shipping"`
	LineItems          []WooOrderLineItem `json:"line_items"`
	ShippingLines      []WooShippingLine  `json:"shipping_lines,omitempty"`
	CouponLines        []WooCouponLine    `json:"coupon_lines,omitempty"`
	CustomerNote       string             `json:"customer_note,omitempty"`
	MetaData           []WooMetaData      `json:"meta_data,omitempty"`
}

// WooOrderLineItem is a product line on an order request.
type WooOrderLineItem struct {
	ProductID   int `json:"product_id"`
	VariationID int `json:"variation_id,omitempty"`
	Quantity    int `json:"quantity"`
}

// WooShippingLine is the chosen shipping method on an order.
type WooShippingLine struct {
	MethodID    string `json:"method_id"`
	MethodTitle string `json:"method_title"`
	Total       string `json:"total"` // "99.00"
}

// WooCouponLine applies a coupon code to an order.
type WooCouponLine struct {
	Code string `json:"code"`
}

// WooMetaData is an order meta key/value pair.
type WooMetaData struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WooOrder is the subset of the REST v3 order resource we read back.
type WooOrder struct {
	ID             int    `json:"id"`
	Number         string `json:"number"`
	Status         string `json:"status"`
	Total          string `json:"total"`
	Currency       string `json:"currency"`
	OrderKey       string `json:"order_key"`
	DateCreatedGMT string `json:"date_created_gmt"` // "2025-01-15T09:30:00"
}

// WooProduct is the stock-relevant subset of a product or variation.
type WooProduct struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Purchasable       bool   `json:"purchasable"`
	StockStatus       string `json:"stock_status"` // instock | outofstock | onbackorder
	ManageStock       bool   `json:"manage_stock"`
	StockQuantity     *int   `json:"stock_quantity"`
	BackordersAllowed bool   `json:"backorders_allowed"`
}

// WooCustomer is the subset of the customer resource we read and write.
type WooCustomer struct {
	ID       int        `json:"id,omitempty"`
	Email    string     `json:"email,omitempty"`
	Billing  WooAddress `json:"billing"`
	Shipping WooAddress `json:"shipping"`
}

// WooCouponResource is a coupon definition from GET /coupons.
type WooCouponResource struct {
	ID             int    `json:"id"`
	Code           string `json:"code"`
	DiscountType   string `json:"discount_type"` // percent | fixed_cart | fixed_product
	Amount         string `json:"amount"`        // "10.00"
	DateExpiresGMT string `json:"date_expires_gmt"`
}

// WooErrorResponse represents a WooCommerce API error.
type WooErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}

// === Store API types ===

// WooCartResponse represents the Store API cart.
type WooCartResponse struct {
	Items  []WooCartItem `json:"items"`
	Totals WooTotals     `json:"totals"`
}

// WooCartItem represents an item in the Store API cart. For variations, ID
// is the variation id.
type WooCartItem struct {
	Key      string            `json:"key"`
	ID       int               `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Quantity int               `json:"quantity"`
	Prices   WooCartItemPrices `json:"prices"`
}

// WooCartItemPrices contains price info for a cart item, in minor units.
type WooCartItemPrices struct {
	Price             string `json:"price"`
	RegularPrice      string `json:"regular_price"`
	SalePrice         string `json:"sale_price"`
	CurrencyCode      string `json:"currency_code"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
}

// WooTotals contains cart totals in minor units.
type WooTotals struct {
	CurrencyCode      string `json:"currency_code"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
	TotalItems        string `json:"total_items"`
	TotalPrice        string `json:"total_price"`
}

// WooCustomerUpdate is the body of POST /cart/update-customer.
type WooCustomerUpdate struct {
	ShippingAddress *WooAddress `json:"shipping_address,omitempty"`
	BillingAddress  *WooAddress `json:"billing_address,omitempty"`
}

// === Storefront plugin types ===

// PluginItem is a cart line as the shipping plugin expects it.
type PluginItem struct {
	ProductID   int `json:"product_id"`
	VariationID int `json:"variation_id,omitempty"`
	Quantity    int `json:"quantity"`
}

// PluginShippingRequest is the body of both plugin endpoints.
type PluginShippingRequest struct {
	Items    []PluginItem `json:"items"`
	Postcode string       `json:"postcode"`
	City     string       `json:"city"`
	Country  string       `json:"country"`
}

// PluginMethod is one available shipping method. Amounts are major units.
type PluginMethod struct {
	ID        string            `json:"id"`
	MethodID  string            `json:"method_id"`
	Label     string            `json:"label"`
	Cost      string            `json:"cost"`
	TotalCost string            `json:"total_cost"`
	Tax       string            `json:"tax"`
	MetaData  map[string]string `json:"meta_data,omitempty"`
}

// PluginRestrictedProduct is a product the plugin refuses for a destination.
type PluginRestrictedProduct struct {
	ProductID   int    `json:"product_id"`
	ProductName string `json:"product_name"`
	Reason      string `json:"reason"`
}

// PluginShippingResponse is returned by calculate-shipping.
type PluginShippingResponse struct {
	Success            bool                      `json:"success"`
	Message            string                    `json:"message,omitempty"`
	AvailableMethods   []PluginMethod            `json:"available_methods"`
	RestrictedProducts []PluginRestrictedProduct `json:"restricted_products"`
}

// PluginRestrictionResponse is returned by validate-shipping-restrictions.
type PluginRestrictionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Valid              bool                      `json:"valid"`
		RestrictedProducts []PluginRestrictedProduct `json:"restrictedProducts"`
	} `json:"data"`
}
