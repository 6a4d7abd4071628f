package woocommerce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront-checkout/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{
		StoreURL:   server.URL + "/",
		APIKey:     "ck_test",
		APISecret:  "cs_test",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	client.now = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }
	return client
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{StoreURL: "https://shop.example.com", APIKey: "k", APISecret: "s"}, false},
		{"missing url", Config{APIKey: "k", APISecret: "s"}, true},
		{"missing key", Config{StoreURL: "https://shop.example.com", APISecret: "s"}, true},
		{"missing secret", Config{StoreURL: "https://shop.example.com", APIKey: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseErrorResponse(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		sentinel error
		code     int
	}{
		{404, `{"code":"woocommerce_rest_invalid_id","message":"Invalid ID."}`, model.ErrNotFound, 404},
		{401, `{}`, model.ErrUnauthorized, 401},
		{403, `{}`, model.ErrUnauthorized, 401},
		{400, `{"code":"rest_invalid_param","message":"Invalid parameter(s): line_items"}`, model.ErrInvalidRequest, 400},
		{429, ``, model.ErrRateLimited, 429},
		{500, `not json`, model.ErrUpstreamError, 502},
	}
	for _, tt := range tests {
		err := parseErrorResponse("order", tt.status, []byte(tt.body))
		if !errors.Is(err, tt.sentinel) {
			t.Errorf("status %d: error %v does not wrap %v", tt.status, err, tt.sentinel)
		}
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.code {
			t.Errorf("status %d: StatusCode = %v, want %d", tt.status, err, tt.code)
		}
	}
}

func TestCreateOrder(t *testing.T) {
	var got WooOrderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/wp-json/wc/v3/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "ck_test" || pass != "cs_test" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("User-Agent = %q", ua)
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, WooOrder{
			ID: 1234, Number: "1234", Status: "processing", Total: "723.75",
			Currency: "SEK", OrderKey: "wc_order_abc", DateCreatedGMT: "2025-01-15T09:30:00",
		})
	})

	spec := &model.OrderSpec{
		CustomerID: 42,
		Billing:    model.Address{FirstName: "Anna", LastName: "Berg", Email: "anna@example.se", Country: "SE"},
		Shipping:   model.Address{FirstName: "Anna", LastName: "Berg", Email: "anna@example.se", Postcode: "11151", Country: "SE"},
		LineItems: []model.OrderLine{
			{ProductID: 10, Quantity: 2},
			{ProductID: 20, VariationID: 21, Quantity: 1},
		},
		ShippingLine:       &model.ShippingLine{MethodID: "flat_rate:1", MethodTitle: "Standard", Total: "123.75"},
		PaymentMethod:      "stripe",
		PaymentMethodTitle: "Card",
		CouponCodes:        []string{"save10"},
		SetPaid:            true,
		TransactionID:      "pi_123",
		Meta:               []model.MetaData{{Key: "_payment_term", Value: "immediate"}},
	}

	order, err := client.CreateOrder(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if order.ID != 1234 || order.Status != "processing" || order.OrderKey != "wc_order_abc" {
		t.Errorf("order = %+v", order)
	}
	if want := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC); !order.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", order.CreatedAt, want)
	}

	if !got.SetPaid || got.TransactionID != "pi_123" || got.CustomerID != 42 {
		t.Errorf("payment fields = %+v", got)
	}
	if got.Shipping.Email != "" || got.Billing.Email != "anna@example.se" {
		t.Errorf("address emails: billing %q shipping %q", got.Billing.Email, got.Shipping.Email)
	}
	if len(got.LineItems) != 2 || got.LineItems[1].VariationID != 21 {
		t.Errorf("line_items = %+v", got.LineItems)
	}
	if len(got.ShippingLines) != 1 || got.ShippingLines[0].Total != "123.75" {
		t.Errorf("shipping_lines = %+v", got.ShippingLines)
	}
	if len(got.CouponLines) != 1 || got.CouponLines[0].Code != "save10" {
		t.Errorf("coupon_lines = %+v", got.CouponLines)
	}
	if len(got.MetaData) != 1 || got.MetaData[0].Key != "_payment_term" {
		t.Errorf("meta_data = %+v", got.MetaData)
	}
}

func TestCreateOrder_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"code": "woocommerce_rest_invalid_product_id", "message": "Product ID 99 is invalid.",
		})
	})
	_, err := client.CreateOrder(context.Background(), &model.OrderSpec{})
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("error = %v, want invalid request", err)
	}
}

func intPtr(n int) *int { return &n }

func TestValidateStock(t *testing.T) {
	products := map[string]WooProduct{
		"/wp-json/wc/v3/products/10":              {ID: 10, Name: "Espresso beans", StockStatus: "instock"},
		"/wp-json/wc/v3/products/11":              {ID: 11, Name: "Filter papers", StockStatus: "outofstock"},
		"/wp-json/wc/v3/products/12":              {ID: 12, Name: "Grinder", StockStatus: "instock", ManageStock: true, StockQuantity: intPtr(2)},
		"/wp-json/wc/v3/products/14/variations/15": {ID: 15, Name: "Mug - Blue", StockStatus: "instock", ManageStock: true, StockQuantity: intPtr(1), BackordersAllowed: true},
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		p, ok := products[r.URL.Path]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "woocommerce_rest_product_invalid_id"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	lines := []model.CartLine{
		{ProductID: 10, Quantity: 3},
		{ProductID: 11, Quantity: 1},
		{ProductID: 12, Quantity: 5},
		{ProductID: 13, Name: "Discontinued kettle", Quantity: 1},
		{ProductID: 14, VariationID: 15, Quantity: 4},
	}
	result, err := client.ValidateStock(context.Background(), lines)
	if err != nil {
		t.Fatalf("ValidateStock() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true, want false")
	}

	want := []model.StockError{
		{ProductID: 11, Name: "Filter papers", Message: "out of stock"},
		{ProductID: 12, Name: "Grinder", Message: "only 2 left in stock"},
		{ProductID: 13, Name: "Discontinued kettle", Message: "product is no longer available"},
	}
	if len(result.Errors) != len(want) {
		t.Fatalf("Errors = %+v, want %d entries", result.Errors, len(want))
	}
	for i, w := range want {
		if result.Errors[i] != w {
			t.Errorf("Errors[%d] = %+v, want %+v", i, result.Errors[i], w)
		}
	}
}

func TestValidateStock_AllAvailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, WooProduct{ID: 10, StockStatus: "instock"})
	})
	result, err := client.ValidateStock(context.Background(), []model.CartLine{{ProductID: 10, Quantity: 1}})
	if err != nil || !result.Valid || len(result.Errors) != 0 {
		t.Errorf("ValidateStock() = %+v, %v", result, err)
	}
}

func TestValidateStock_UpstreamFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := client.ValidateStock(context.Background(), []model.CartLine{{ProductID: 10, Quantity: 1}})
	if !errors.Is(err, model.ErrUpstreamError) {
		t.Errorf("error = %v, want upstream error", err)
	}
}

func TestCustomerRoundTrip(t *testing.T) {
	var updated WooCustomer
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/wc/v3/customers/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, WooCustomer{
				ID:       42,
				Email:    "orders@lundscafe.se",
				Billing:  WooAddress{FirstName: "Erik", Address1: "Box 55", Email: "invoices@lundscafe.se"},
				Shipping: WooAddress{FirstName: "Erik", Address1: "Drottninggatan 12"},
			})
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&updated)
			writeJSON(w, http.StatusOK, updated)
		}
	})

	c, err := client.GetCustomer(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetCustomer() error = %v", err)
	}
	if c.Email != "orders@lundscafe.se" || c.Billing.Email != "invoices@lundscafe.se" || c.Shipping.Address1 != "Drottninggatan 12" {
		t.Errorf("customer = %+v", c)
	}

	c.Shipping.Email = "erik@lundscafe.se"
	c.Shipping.Address1 = "Sveavägen 1"
	if err := client.UpdateCustomer(context.Background(), c); err != nil {
		t.Fatalf("UpdateCustomer() error = %v", err)
	}
	if updated.Shipping.Address1 != "Sveavägen 1" || updated.Shipping.Email != "" {
		t.Errorf("update body = %+v", updated.Shipping)
	}
}

func TestUpdateCustomer_RequiresID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	if err := client.UpdateCustomer(context.Background(), &model.Customer{}); err == nil {
		t.Error("UpdateCustomer() expected error")
	}
}

func TestFindCoupon(t *testing.T) {
	coupons := map[string][]WooCouponResource{
		"SAVE10":  {{ID: 1, Code: "save10", DiscountType: "percent", Amount: "10.00"}},
		"minus50": {{ID: 2, Code: "minus50", DiscountType: "fixed_cart", Amount: "50.00", DateExpiresGMT: "2025-12-31T23:59:59"}},
		"perline": {{ID: 3, Code: "perline", DiscountType: "fixed_product", Amount: "5.00"}},
		"old":     {{ID: 4, Code: "old", DiscountType: "percent", Amount: "20", DateExpiresGMT: "2024-12-31T00:00:00"}},
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/wc/v3/coupons" {
			t.Errorf("path = %s", r.URL.Path)
		}
		found := coupons[r.URL.Query().Get("code")]
		if found == nil {
			found = []WooCouponResource{}
		}
		writeJSON(w, http.StatusOK, found)
	})

	tests := []struct {
		code     string
		wantKind model.DiscountKind
		wantAmt  string
		notFound bool
	}{
		{code: "SAVE10", wantKind: model.DiscountPercent, wantAmt: "10"},
		{code: "minus50", wantKind: model.DiscountFixedCart, wantAmt: "50"},
		{code: "perline", wantKind: model.DiscountNone, wantAmt: "5"},
		{code: "old", notFound: true},
		{code: "nope", notFound: true},
		{code: "  ", notFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c, err := client.FindCoupon(context.Background(), tt.code)
			if tt.notFound {
				if !errors.Is(err, model.ErrNotFound) {
					t.Errorf("error = %v, want not found", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindCoupon() error = %v", err)
			}
			if c.Kind != tt.wantKind || !c.Amount.Equal(decimal.RequireFromString(tt.wantAmt)) {
				t.Errorf("coupon = %+v", c)
			}
		})
	}
}

func TestDoJSON_TransportFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	client.storeURL = "http://127.0.0.1:1"
	_, err := client.GetCustomer(context.Background(), 1)
	if !errors.Is(err, model.ErrUpstreamError) {
		t.Errorf("error = %v, want upstream error", err)
	}
}

func TestDoJSON_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>maintenance</html>")
	})
	_, err := client.GetCustomer(context.Background(), 1)
	if !errors.Is(err, model.ErrUpstreamError) {
		t.Errorf("error = %v, want upstream error", err)
	}
}
