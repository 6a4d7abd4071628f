// MCP transport handler using the official MCP Go SDK.
// Exposes read-mostly checkout operations as MCP tools for assistants
// working alongside the storefront.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"

	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/negotiation"
	"storefront-checkout/internal/pricing"
)

// === MCP Meta Types ===
// meta carries what REST callers send as headers.
// - Storefront-Client header → meta["storefront-client"]

// MCPMeta represents request metadata in MCP requests.
type MCPMeta struct {
	Client *ClientMeta `json:"storefront-client,omitempty" jsonschema:"calling client build"`
}

// ClientMeta identifies the calling client.
type ClientMeta struct {
	Name    string `json:"name,omitempty" jsonschema:"client application name"`
	Version string `json:"version" jsonschema:"client semantic version"`
}

// === MCP Tool Input Types ===

// GetCheckoutInput is the input schema for get_checkout tool.
type GetCheckoutInput struct {
	Meta MCPMeta `json:"meta,omitempty" jsonschema:"request metadata"`
	ID   string  `json:"id" jsonschema:"checkout session ID"`
}

// ResolveShippingInput is the input schema for resolve_shipping tool.
type ResolveShippingInput struct {
	Meta MCPMeta `json:"meta,omitempty" jsonschema:"request metadata"`
	ID   string  `json:"id" jsonschema:"checkout session ID"`
}

// QuoteTotalsInput is the input schema for quote_totals tool. With an id the
// session's current totals are returned; otherwise the amounts given here
// are priced.
type QuoteTotalsInput struct {
	Meta         MCPMeta `json:"meta,omitempty" jsonschema:"request metadata"`
	ID           string  `json:"id,omitempty" jsonschema:"checkout session ID"`
	Subtotal     string  `json:"subtotal,omitempty" jsonschema:"cart subtotal as a decimal string"`
	ShippingCost string  `json:"shipping_cost,omitempty" jsonschema:"shipping cost as a decimal string"`
	ShippingTax  string  `json:"shipping_tax,omitempty" jsonschema:"shipping tax as a decimal string"`
	CouponType   string  `json:"coupon_type,omitempty" jsonschema:"percent or fixed_cart"`
	CouponAmount string  `json:"coupon_amount,omitempty" jsonschema:"coupon amount as a decimal string"`
}

// SelectPathwayInput is the input schema for select_pathway tool.
type SelectPathwayInput struct {
	Meta   MCPMeta `json:"meta,omitempty" jsonschema:"request metadata"`
	Method string  `json:"method" jsonschema:"payment method id"`
	Title  string  `json:"title,omitempty" jsonschema:"payment method display title"`
	Term   string  `json:"term,omitempty" jsonschema:"immediate or credit"`
}

// === MCP Tool Output Types ===
// Money is rendered as decimal strings.

// TotalsOutput is the price breakdown.
type TotalsOutput struct {
	Subtotal                 string `json:"subtotal"`
	Shipping                 string `json:"shipping"`
	ShippingTax              string `json:"shipping_tax"`
	Discount                 string `json:"discount"`
	Payable                  string `json:"payable"`
	PayableMinor             int64  `json:"payable_minor"`
	FreeShippingRemaining    string `json:"free_shipping_remaining"`
	QualifiesForFreeShipping bool   `json:"qualifies_for_free_shipping"`
}

// ShippingMethodOutput is one eligible shipping method.
type ShippingMethodOutput struct {
	ID        string `json:"id"`
	MethodID  string `json:"method_id"`
	Label     string `json:"label"`
	Cost      string `json:"cost"`
	TotalCost string `json:"total_cost"`
}

// RestrictionOutput is an item that cannot ship to the destination.
type RestrictionOutput struct {
	ProductID int    `json:"product_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
}

// ShippingOutput is the result of resolve_shipping.
type ShippingOutput struct {
	Methods      []ShippingMethodOutput `json:"methods"`
	Selected     string                 `json:"selected,omitempty"`
	Estimated    bool                   `json:"estimated"`
	Restrictions []RestrictionOutput    `json:"restrictions,omitempty"`
}

// PathwayOutput is the effective payment for a method and term.
type PathwayOutput struct {
	MethodID       string `json:"method_id"`
	Title          string `json:"title"`
	Pathway        string `json:"pathway"`
	CreditTermDays int    `json:"credit_term_days,omitempty"`
	DueDate        string `json:"due_date,omitempty"`
}

// LineOutput is one cart line.
type LineOutput struct {
	ProductID   int    `json:"product_id"`
	VariationID int    `json:"variation_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

// CheckoutOutput summarizes a session for get_checkout.
type CheckoutOutput struct {
	ID              string                 `json:"id"`
	Step            string                 `json:"step"`
	Lines           []LineOutput           `json:"lines"`
	ShippingMethods []ShippingMethodOutput `json:"shipping_methods"`
	SelectedMethod  string                 `json:"selected_shipping_method,omitempty"`
	RatesEstimated  bool                   `json:"rates_estimated"`
	Payment         PathwayOutput          `json:"payment"`
	Coupon          string                 `json:"coupon,omitempty"`
	Totals          TotalsOutput           `json:"totals"`
	Error           string                 `json:"error,omitempty"`
	Processing      bool                   `json:"processing"`
	Completed       bool                   `json:"completed"`
	OrderNumber     string                 `json:"order_number,omitempty"`
}

// NewMCPServer creates an MCP server with checkout tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-checkout",
			Version: h.version,
		},
		&mcp.ServerOptions{
			Instructions: "Wholesale storefront checkout. " +
				"Use these tools to inspect checkout sessions, price carts and pick payment pathways.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_checkout",
		Description: "Get the current state of a checkout session.",
	}, h.mcpGetCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_shipping",
		Description: "Fetch eligible shipping methods for the session's shipping address.",
	}, h.mcpResolveShipping)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "quote_totals",
		Description: "Price a checkout: subtotal, shipping, discount and payable total. Pass a session id or explicit amounts.",
	}, h.mcpQuoteTotals)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_pathway",
		Description: "Show which payment pathway a payment method and term lead to.",
	}, h.mcpSelectPathway)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCheckoutInput,
) (*mcp.CallToolResult, *CheckoutOutput, error) {
	if err := h.mcpNegotiate(&input.Meta); err != nil {
		return nil, nil, err
	}
	if input.ID == "" {
		return nil, nil, fmt.Errorf("id is required")
	}

	s, err := h.checkouts.Get(input.ID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.checkoutOutput(s.View()), nil
}

func (h *Handler) mcpResolveShipping(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ResolveShippingInput,
) (*mcp.CallToolResult, *ShippingOutput, error) {
	if err := h.mcpNegotiate(&input.Meta); err != nil {
		return nil, nil, err
	}
	if input.ID == "" {
		return nil, nil, fmt.Errorf("id is required")
	}

	s, err := h.checkouts.Get(input.ID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	res, err := s.ResolveShipping(ctx)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	out := &ShippingOutput{
		Methods:   methodsOutput(res.Methods),
		Estimated: res.Estimated,
	}
	if res.Selected != nil {
		out.Selected = res.Selected.ID
	}
	for _, r := range res.Restrictions {
		out.Restrictions = append(out.Restrictions, RestrictionOutput{ProductID: r.ProductID, Name: r.Name, Reason: r.Reason})
	}
	return nil, out, nil
}

func (h *Handler) mcpQuoteTotals(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input QuoteTotalsInput,
) (*mcp.CallToolResult, *TotalsOutput, error) {
	if err := h.mcpNegotiate(&input.Meta); err != nil {
		return nil, nil, err
	}

	if input.ID != "" {
		s, err := h.checkouts.Get(input.ID)
		if err != nil {
			return nil, nil, h.mcpError(err)
		}
		out := totalsOutput(s.Totals())
		return nil, &out, nil
	}

	subtotal, err := parseMoney("subtotal", input.Subtotal)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	cost, err := parseMoney("shipping_cost", input.ShippingCost)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	tax, err := parseMoney("shipping_tax", input.ShippingTax)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	coupon := model.Coupon{Kind: model.ParseDiscountKind(input.CouponType)}
	if coupon.Applied() {
		if coupon.Amount, err = parseMoney("coupon_amount", input.CouponAmount); err != nil {
			return nil, nil, h.mcpError(err)
		}
	}

	method := &model.ShippingMethod{Cost: cost, TotalCost: cost.Add(tax), Tax: tax}
	out := totalsOutput(h.pricing.Breakdown(subtotal, method, coupon))
	return nil, &out, nil
}

func (h *Handler) mcpSelectPathway(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SelectPathwayInput,
) (*mcp.CallToolResult, *PathwayOutput, error) {
	if err := h.mcpNegotiate(&input.Meta); err != nil {
		return nil, nil, err
	}
	out := h.pathwayOutput(input.Method, input.Title, model.PaymentTerm(input.Term).Normalize(), time.Now())
	return nil, &out, nil
}

// mcpError converts checkout errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var coErr *model.CheckoutError
	if errors.As(err, &coErr) {
		return fmt.Errorf("%s: %s", coErr.Code, coErr.Message)
	}
	for _, se := range sessionErrors {
		if errors.Is(err, se.err) {
			return fmt.Errorf("%s: %s", se.code, se.err.Error())
		}
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}

// mcpNegotiate applies the client version policy to meta.storefront-client.
// MCP requests skip the header middleware, so the check happens here.
func (h *Handler) mcpNegotiate(meta *MCPMeta) error {
	if h.policy.MinVersion == "" {
		return nil
	}
	if meta == nil || meta.Client == nil || meta.Client.Version == "" {
		return fmt.Errorf("%s: meta.storefront-client.version is required", negotiation.ClientRequired)
	}
	if err := h.policy.Check(meta.Client.Version); err != nil {
		var verErr *negotiation.VersionError
		if errors.As(err, &verErr) {
			return fmt.Errorf("%s: %s", verErr.Code, verErr.Message)
		}
		return err
	}
	return nil
}

// === Output mapping ===

func parseMoney(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, model.NewValidationError(field, "must be a decimal amount")
	}
	return d, nil
}

func totalsOutput(t pricing.Totals) TotalsOutput {
	return TotalsOutput{
		Subtotal:                 model.FormatAmount(t.Subtotal),
		Shipping:                 model.FormatAmount(t.Shipping),
		ShippingTax:              model.FormatAmount(t.ShippingTax),
		Discount:                 model.FormatAmount(t.Discount),
		Payable:                  model.FormatAmount(t.Payable),
		PayableMinor:             pricing.MinorUnits(t.Payable),
		FreeShippingRemaining:    model.FormatAmount(t.FreeShippingRemaining),
		QualifiesForFreeShipping: t.QualifiesForFreeShipping,
	}
}

func methodsOutput(methods []model.ShippingMethod) []ShippingMethodOutput {
	out := make([]ShippingMethodOutput, len(methods))
	for i, m := range methods {
		out[i] = ShippingMethodOutput{
			ID:        m.ID,
			MethodID:  m.MethodID,
			Label:     m.Label,
			Cost:      model.FormatAmount(m.Cost),
			TotalCost: model.FormatAmount(m.TotalCost),
		}
	}
	return out
}

func (h *Handler) pathwayOutput(method, title string, term model.PaymentTerm, issued time.Time) PathwayOutput {
	eff := h.payments.Effective(method, title, term)
	out := PathwayOutput{
		MethodID: eff.MethodID,
		Title:    eff.Title,
		Pathway:  string(eff.Pathway),
	}
	if eff.Pathway == model.PathwayInvoiceCredit {
		out.CreditTermDays = h.payments.TermDays()
		out.DueDate = h.payments.DueDate(issued).Format(time.DateOnly)
	}
	return out
}

func (h *Handler) checkoutOutput(v checkout.View) *CheckoutOutput {
	out := &CheckoutOutput{
		ID:              v.ID,
		Step:            string(v.Step),
		Lines:           make([]LineOutput, len(v.Lines)),
		ShippingMethods: methodsOutput(v.ShippingMethods),
		RatesEstimated:  v.RatesEstimated,
		Payment: PathwayOutput{
			MethodID: v.Payment.MethodID,
			Title:    v.Payment.Title,
			Pathway:  string(v.Payment.Pathway),
		},
		Totals:     totalsOutput(v.Totals),
		Processing: v.Processing,
		Completed:  v.Completed,
	}
	for i, l := range v.Lines {
		out.Lines[i] = LineOutput{
			ProductID:   l.ProductID,
			VariationID: l.VariationID,
			Name:        l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   model.FormatAmount(l.UnitPrice),
		}
	}
	if v.SelectedMethod != nil {
		out.SelectedMethod = v.SelectedMethod.ID
	}
	if v.Coupon != nil {
		out.Coupon = v.Coupon.Code
	}
	if v.Error != nil {
		out.Error = v.Error.Message
	}
	if v.Order != nil {
		out.OrderNumber = v.Order.Number
	}
	return out
}
