package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"storefront-checkout/internal/model"
)

// Cart reads and mutates the shopper's Store API cart, addressed by its
// Cart-Token. Requires WooCommerce Blocks (bundled since WC 6.9).
type Cart struct {
	c *Client
}

// Cart returns the Store API cart view of the store.
func (c *Client) Cart() *Cart {
	return &Cart{c: c}
}

// Lines returns the cart snapshot. Store API prices are minor units; the
// line's own currency_minor_unit is used, falling back to the cart totals.
func (s *Cart) Lines(ctx context.Context, cartToken string) ([]model.CartLine, error) {
	cart, err := s.getCart(ctx, cartToken)
	if err != nil {
		return nil, err
	}

	lines := make([]model.CartLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		minor := item.Prices.CurrencyMinorUnit
		if minor == 0 && item.Prices.CurrencyCode == "" {
			minor = cart.Totals.CurrencyMinorUnit
		}
		// For variations the Store API reports the variation id as the item
		// id; the order API accepts it as product_id and resolves the parent.
		lines = append(lines, model.CartLine{
			ProductID: item.ID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: model.ParseMinorUnits(item.Prices.Price, minor),
		})
	}
	return lines, nil
}

// Clear removes every item from the cart.
func (s *Cart) Clear(ctx context.Context, cartToken string) error {
	return s.mutate(ctx, http.MethodDelete, "/cart/items", cartToken, nil)
}

// SetShippingHint stores the shipping address on the cart's customer so the
// storefront pages show the same destination.
func (s *Cart) SetShippingHint(ctx context.Context, cartToken string, addr model.Address) error {
	wa := toWooAddress(addr)
	wa.Email = ""
	return s.mutate(ctx, http.MethodPost, "/cart/update-customer", cartToken, &WooCustomerUpdate{ShippingAddress: &wa})
}

// getCart fetches current cart state.
func (s *Cart) getCart(ctx context.Context, cartToken string) (*WooCartResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.c.storeURL+storeAPIPath+"/cart", nil)
	if err != nil {
		return nil, fmt.Errorf("creating cart request: %w", err)
	}
	setStoreAPIHeaders(req, cartToken, "")

	resp, err := s.c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading cart response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse("cart", resp.StatusCode, body)
	}

	var cart WooCartResponse
	if err := json.Unmarshal(body, &cart); err != nil {
		return nil, model.NewUpstreamError("WooCommerce", fmt.Errorf("parsing cart response: %w", err))
	}
	return &cart, nil
}

// mutate performs a nonce-authenticated Store API mutation.
func (s *Cart) mutate(ctx context.Context, method, path, cartToken string, body interface{}) error {
	nonce, err := s.fetchNonce(ctx, cartToken)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling cart request: %w", err)
		}
		reader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.c.storeURL+storeAPIPath+path, reader)
	if err != nil {
		return fmt.Errorf("creating cart request: %w", err)
	}
	setStoreAPIHeaders(req, cartToken, nonce)

	resp, err := s.c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return parseErrorResponse("cart", resp.StatusCode, respBody)
	}
	return nil
}

// fetchNonce performs a preflight GET /cart request to obtain a fresh nonce.
// The Store API returns it in the Nonce response header on every request.
func (s *Cart) fetchNonce(ctx context.Context, cartToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.c.storeURL+storeAPIPath+"/cart", nil)
	if err != nil {
		return "", fmt.Errorf("creating nonce request: %w", err)
	}
	setStoreAPIHeaders(req, cartToken, "")

	resp, err := s.c.httpClient.Do(req)
	if err != nil {
		return "", model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		if resp.StatusCode == 429 {
			return "", model.NewRateLimitError("WooCommerce")
		}
		return "", model.NewUpstreamError("WooCommerce",
			fmt.Errorf("nonce preflight failed with status %d", resp.StatusCode))
	}

	nonce := resp.Header.Get("Nonce")
	if nonce == "" {
		return "", model.NewUpstreamError("WooCommerce",
			fmt.Errorf("no nonce returned from Store API"))
	}
	return nonce, nil
}
