package woocommerce

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/shipping"
)

// ShippingClient calls the storefront plugin's shipping endpoints.
// It implements shipping.Service.
type ShippingClient struct {
	c *Client
}

var _ shipping.Service = (*ShippingClient)(nil)

// Shipping returns the plugin shipping client of the store.
func (c *Client) Shipping() *ShippingClient {
	return &ShippingClient{c: c}
}

// CalculateShipping returns the methods available for the request's
// destination along with any products the plugin flags as restricted.
func (s *ShippingClient) CalculateShipping(ctx context.Context, req shipping.Request) (*shipping.Quote, error) {
	var resp PluginShippingResponse
	if err := s.c.doJSON(ctx, http.MethodPost, pluginAPIPath+"/calculate-shipping", nil, toPluginRequest(req), &resp, "shipping rates"); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, model.NewUpstreamError("shipping", fmt.Errorf("calculate-shipping: %s", failureMessage(resp.Message)))
	}

	quote := &shipping.Quote{
		Methods:    make([]model.ShippingMethod, 0, len(resp.AvailableMethods)),
		Restricted: toRestrictedItems(resp.RestrictedProducts),
	}
	for _, m := range resp.AvailableMethods {
		quote.Methods = append(quote.Methods, toShippingMethod(m))
	}
	return quote, nil
}

// ValidateRestrictions asks the plugin whether every line can ship to the
// destination.
func (s *ShippingClient) ValidateRestrictions(ctx context.Context, req shipping.Request) (*shipping.RestrictionResult, error) {
	var resp PluginRestrictionResponse
	if err := s.c.doJSON(ctx, http.MethodPost, pluginAPIPath+"/validate-shipping-restrictions", nil, toPluginRequest(req), &resp, "shipping restrictions"); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, model.NewUpstreamError("shipping", fmt.Errorf("validate-shipping-restrictions: %s", failureMessage(resp.Message)))
	}
	return &shipping.RestrictionResult{
		Valid:      resp.Data.Valid,
		Restricted: toRestrictedItems(resp.Data.RestrictedProducts),
	}, nil
}

func toPluginRequest(req shipping.Request) *PluginShippingRequest {
	items := make([]PluginItem, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, PluginItem{
			ProductID:   l.ProductID,
			VariationID: l.VariationID,
			Quantity:    l.Quantity,
		})
	}
	return &PluginShippingRequest{
		Items:    items,
		Postcode: req.Destination.CompactPostcode(),
		City:     strings.TrimSpace(req.Destination.City),
		Country:  req.Destination.Country,
	}
}

// toShippingMethod maps a plugin method and enforces total >= cost >= 0.
func toShippingMethod(m PluginMethod) model.ShippingMethod {
	cost := decimal.Max(model.ParseAmount(m.Cost), decimal.Zero)
	tax := decimal.Max(model.ParseAmount(m.Tax), decimal.Zero)
	total := model.ParseAmount(m.TotalCost)
	if total.LessThan(cost) {
		total = cost.Add(tax)
	}

	family := m.MethodID
	if family == "" {
		family, _, _ = strings.Cut(m.ID, ":")
	}
	return model.ShippingMethod{
		ID:        m.ID,
		MethodID:  family,
		Label:     m.Label,
		Cost:      cost,
		TotalCost: total,
		Tax:       tax,
		Meta:      m.MetaData,
	}
}

func toRestrictedItems(in []PluginRestrictedProduct) []model.RestrictedItem {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.RestrictedItem, 0, len(in))
	for _, p := range in {
		out = append(out, model.RestrictedItem{
			ProductID: p.ProductID,
			Name:      p.ProductName,
			Reason:    p.Reason,
		})
	}
	return out
}

func failureMessage(msg string) string {
	if msg == "" {
		return "unsuccessful response"
	}
	return msg
}
