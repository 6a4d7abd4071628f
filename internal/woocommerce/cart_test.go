package woocommerce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"storefront-checkout/internal/model"
)

func TestCart_Lines(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/wp-json/wc/store/v1/cart" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Cart-Token"); got != "cart-abc" {
			t.Errorf("Cart-Token = %q", got)
		}
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("Store API request carried basic auth")
		}
		writeJSON(w, http.StatusOK, WooCartResponse{
			Items: []WooCartItem{
				{Key: "a", ID: 10, Name: "Espresso beans", Quantity: 2, Prices: WooCartItemPrices{Price: "24900", CurrencyCode: "SEK", CurrencyMinorUnit: 2}},
				{Key: "b", ID: 15, Type: "variation", Name: "Mug - Blue", Quantity: 1, Prices: WooCartItemPrices{Price: "9950"}},
			},
			Totals: WooTotals{CurrencyCode: "SEK", CurrencyMinorUnit: 2},
		})
	})

	lines, err := client.Cart().Lines(context.Background(), "cart-abc")
	if err != nil {
		t.Fatalf("Lines() error = %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if !lines[0].UnitPrice.Equal(decimal.RequireFromString("249")) || lines[0].Quantity != 2 {
		t.Errorf("lines[0] = %+v", lines[0])
	}
	if lines[1].ProductID != 15 || !lines[1].UnitPrice.Equal(decimal.RequireFromString("99.5")) {
		t.Errorf("lines[1] = %+v", lines[1])
	}
	if got := model.Subtotal(lines); !got.Equal(decimal.RequireFromString("597.5")) {
		t.Errorf("Subtotal = %s", got)
	}
}

func TestCart_LinesNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "woocommerce_rest_cart_invalid"})
	})
	_, err := client.Cart().Lines(context.Background(), "gone")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

// nonceServer answers the GET /cart preflight with a nonce and records the
// mutation that follows.
type nonceServer struct {
	mu       sync.Mutex
	calls    []string
	nonce    string
	body     []byte
	gotNonce string
}

func (s *nonceServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)

	if r.Method == http.MethodGet {
		if s.nonce != "" {
			w.Header().Set("Nonce", s.nonce)
		}
		writeJSON(w, http.StatusOK, WooCartResponse{})
		return
	}
	s.gotNonce = r.Header.Get("Nonce")
	var raw json.RawMessage
	json.NewDecoder(r.Body).Decode(&raw)
	s.body = raw
	writeJSON(w, http.StatusOK, WooCartResponse{})
}

func TestCart_ClearUsesNoncePreflight(t *testing.T) {
	srv := &nonceServer{nonce: "n-123"}
	client := newTestClient(t, srv.handle)

	if err := client.Cart().Clear(context.Background(), "cart-abc"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	want := []string{"GET /wp-json/wc/store/v1/cart", "DELETE /wp-json/wc/store/v1/cart/items"}
	if len(srv.calls) != len(want) || srv.calls[0] != want[0] || srv.calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", srv.calls, want)
	}
	if srv.gotNonce != "n-123" {
		t.Errorf("Nonce = %q", srv.gotNonce)
	}
}

func TestCart_SetShippingHint(t *testing.T) {
	srv := &nonceServer{nonce: "n-456"}
	client := newTestClient(t, srv.handle)

	addr := model.Address{FirstName: "Anna", LastName: "Berg", Email: "anna@example.se", Address1: "Storgatan 1", City: "Uppsala", Postcode: "75320", Country: "SE"}
	if err := client.Cart().SetShippingHint(context.Background(), "cart-abc", addr); err != nil {
		t.Fatalf("SetShippingHint() error = %v", err)
	}
	if got := srv.calls[len(srv.calls)-1]; got != "POST /wp-json/wc/store/v1/cart/update-customer" {
		t.Errorf("mutation = %s", got)
	}

	var body WooCustomerUpdate
	if err := json.Unmarshal(srv.body, &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.ShippingAddress == nil || body.ShippingAddress.Postcode != "75320" || body.ShippingAddress.Email != "" {
		t.Errorf("shipping_address = %+v", body.ShippingAddress)
	}
	if body.BillingAddress != nil {
		t.Errorf("billing_address sent: %+v", body.BillingAddress)
	}
}

func TestCart_MissingNonce(t *testing.T) {
	srv := &nonceServer{}
	client := newTestClient(t, srv.handle)

	err := client.Cart().Clear(context.Background(), "cart-abc")
	if !errors.Is(err, model.ErrUpstreamError) {
		t.Errorf("error = %v, want upstream error", err)
	}
	if len(srv.calls) != 1 {
		t.Errorf("mutation sent without nonce: %v", srv.calls)
	}
}

func TestCart_PreflightRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	err := client.Cart().Clear(context.Background(), "cart-abc")
	if !errors.Is(err, model.ErrRateLimited) {
		t.Errorf("error = %v, want rate limited", err)
	}
}
