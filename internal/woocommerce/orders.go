package woocommerce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront-checkout/internal/model"
)

// wooTimeLayout is the format of WooCommerce *_gmt timestamps.
const wooTimeLayout = "2006-01-02T15:04:05"

// stockLookupConcurrency caps parallel product lookups per validation.
const stockLookupConcurrency = 4

// CreateOrder records an order through POST /orders.
func (c *Client) CreateOrder(ctx context.Context, spec *model.OrderSpec) (*model.Order, error) {
	if spec == nil {
		return nil, fmt.Errorf("order spec is required")
	}

	var created WooOrder
	if err := c.doJSON(ctx, http.MethodPost, restAPIPath+"/orders", nil, toWooOrderRequest(spec), &created, "order"); err != nil {
		return nil, err
	}
	if created.ID == 0 {
		return nil, model.NewUpstreamError("WooCommerce", fmt.Errorf("order created without id"))
	}

	order := &model.Order{
		ID:       created.ID,
		Number:   created.Number,
		Status:   created.Status,
		Total:    created.Total,
		Currency: created.Currency,
		OrderKey: created.OrderKey,
	}
	if order.Number == "" {
		order.Number = fmt.Sprintf("%d", created.ID)
	}
	if t, err := time.Parse(wooTimeLayout, created.DateCreatedGMT); err == nil {
		order.CreatedAt = t.UTC()
	}
	return order, nil
}

func toWooOrderRequest(spec *model.OrderSpec) *WooOrderRequest {
	req := &WooOrderRequest{
		CustomerID:         spec.CustomerID,
		PaymentMethod:      spec.PaymentMethod,
		PaymentMethodTitle: spec.PaymentMethodTitle,
		SetPaid:            spec.SetPaid,
		TransactionID:      spec.TransactionID,
		Billing:            toWooAddress(spec.Billing),
		Shipping:           toWooAddress(spec.Shipping),
		CustomerNote:       spec.CustomerNote,
	}
	// The shipping address resource has no email field.
	req.Shipping.Email = ""

	req.LineItems = make([]WooOrderLineItem, 0, len(spec.LineItems))
	for _, l := range spec.LineItems {
		req.LineItems = append(req.LineItems, WooOrderLineItem{
			ProductID:   l.ProductID,
			VariationID: l.VariationID,
			Quantity:    l.Quantity,
		})
	}
	if spec.ShippingLine != nil {
		req.ShippingLines = []WooShippingLine{{
			MethodID:    spec.ShippingLine.MethodID,
			MethodTitle: spec.ShippingLine.MethodTitle,
			Total:       spec.ShippingLine.Total,
		}}
	}
	for _, code := range spec.CouponCodes {
		req.CouponLines = append(req.CouponLines, WooCouponLine{Code: code})
	}
	for _, m := range spec.Meta {
		req.MetaData = append(req.MetaData, WooMetaData{Key: m.Key, Value: m.Value})
	}
	return req
}

// ValidateStock checks every line against the product's current stock and
// reports all failing lines, not just the first. Lookups run in parallel.
// A product that no longer exists fails its line; any other lookup error
// fails the whole validation.
func (c *Client) ValidateStock(ctx context.Context, lines []model.CartLine) (*model.StockResult, error) {
	failures := make([]*model.StockError, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stockLookupConcurrency)
	for i, line := range lines {
		g.Go(func() error {
			product, err := c.getProduct(gctx, line.ProductID, line.VariationID)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					failures[i] = stockError(line, "product is no longer available")
					return nil
				}
				return err
			}
			if msg := stockProblem(product, line.Quantity); msg != "" {
				failures[i] = stockError(line, msg)
				if failures[i].Name == "" {
					failures[i].Name = product.Name
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &model.StockResult{Valid: true}
	for _, f := range failures {
		if f != nil {
			result.Valid = false
			result.Errors = append(result.Errors, *f)
		}
	}
	return result, nil
}

func (c *Client) getProduct(ctx context.Context, productID, variationID int) (*WooProduct, error) {
	path := fmt.Sprintf("%s/products/%d", restAPIPath, productID)
	if variationID > 0 {
		path = fmt.Sprintf("%s/products/%d/variations/%d", restAPIPath, productID, variationID)
	}
	var p WooProduct
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &p, "product"); err != nil {
		return nil, err
	}
	return &p, nil
}

// stockProblem returns a shopper-facing reason when p cannot cover qty.
func stockProblem(p *WooProduct, qty int) string {
	if p.StockStatus == "outofstock" {
		return "out of stock"
	}
	if p.ManageStock && p.StockQuantity != nil && *p.StockQuantity < qty && !p.BackordersAllowed {
		if *p.StockQuantity <= 0 {
			return "out of stock"
		}
		return fmt.Sprintf("only %d left in stock", *p.StockQuantity)
	}
	return ""
}

func stockError(line model.CartLine, msg string) *model.StockError {
	return &model.StockError{
		ProductID:   line.ProductID,
		VariationID: line.VariationID,
		Name:        line.Name,
		Message:     msg,
	}
}

// GetCustomer fetches a customer's saved addresses.
func (c *Client) GetCustomer(ctx context.Context, id int) (*model.Customer, error) {
	var wc WooCustomer
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/customers/%d", restAPIPath, id), nil, nil, &wc, "customer"); err != nil {
		return nil, err
	}
	return &model.Customer{
		ID:       wc.ID,
		Email:    wc.Email,
		Billing:  fromWooAddress(wc.Billing),
		Shipping: fromWooAddress(wc.Shipping),
	}, nil
}

// UpdateCustomer writes the checkout addresses back to the customer record.
func (c *Client) UpdateCustomer(ctx context.Context, customer *model.Customer) error {
	if customer == nil || customer.ID <= 0 {
		return fmt.Errorf("customer id is required")
	}
	body := WooCustomer{
		Billing:  toWooAddress(customer.Billing),
		Shipping: toWooAddress(customer.Shipping),
	}
	body.Shipping.Email = ""
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("%s/customers/%d", restAPIPath, customer.ID), nil, body, nil, "customer")
}

// FindCoupon resolves a coupon code. Unknown and expired codes return a
// not-found error; discount types the checkout does not price come back with
// DiscountNone.
func (c *Client) FindCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, model.NewNotFoundError("coupon")
	}

	var coupons []WooCouponResource
	if err := c.doJSON(ctx, http.MethodGet, restAPIPath+"/coupons", url.Values{"code": {code}}, nil, &coupons, "coupon"); err != nil {
		return nil, err
	}

	for _, wc := range coupons {
		if !strings.EqualFold(wc.Code, code) {
			continue
		}
		if wc.DateExpiresGMT != "" {
			if exp, err := time.Parse(wooTimeLayout, wc.DateExpiresGMT); err == nil && !c.now().UTC().Before(exp) {
				return nil, model.NewNotFoundError("coupon")
			}
		}
		return &model.Coupon{
			Code:   strings.ToLower(wc.Code),
			Kind:   model.ParseDiscountKind(wc.DiscountType),
			Amount: model.ParseAmount(wc.Amount),
		}, nil
	}
	return nil, model.NewNotFoundError("coupon")
}
