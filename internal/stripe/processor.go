// Package stripe creates and inspects card payment intents through the
// Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"storefront-checkout/internal/model"
)

// Config holds Stripe connection settings.
type Config struct {
	SecretKey string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// MaxNetworkRetries defaults to 2. Retries reuse the idempotency key.
	MaxNetworkRetries *int64
	HTTPClient        *http.Client
	Logger            *slog.Logger
	// Description is set on every intent, e.g. the store name.
	Description string
}

// Processor creates, verifies and cancels payment intents for the card pathway.
type Processor struct {
	api         *client.API
	description string
}

// New creates a processor for cfg.
func New(cfg Config) (*Processor, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     &leveledLogger{log: logger.With(slog.String("component", "stripe"))},
		MaxNetworkRetries: cfg.MaxNetworkRetries,
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(cfg.BaseURL)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg),
		Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, backendCfg),
		Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, backendCfg),
	})
	return &Processor{api: api, description: cfg.Description}, nil
}

// CreatePaymentIntent prepares a capture for req.AmountMinor. Payment method
// types are left to the dashboard through automatic payment methods.
func (p *Processor) CreatePaymentIntent(ctx context.Context, req model.IntentRequest) (*model.PaymentIntent, error) {
	if req.AmountMinor <= 0 {
		return nil, model.NewValidationError("amount", "must be positive")
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(req.AmountMinor),
		Currency: stripeapi.String(req.Currency),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.Context = ctx
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripeapi.String(req.CustomerEmail)
	}
	if p.description != "" {
		params.Description = stripeapi.String(p.description)
	}
	if req.Shipping.Address1 != "" {
		params.Shipping = &stripeapi.ShippingDetailsParams{
			Name:    stripeapi.String(req.Shipping.FullName()),
			Address: toAddressParams(req.Shipping),
		}
		if req.Shipping.Phone != "" {
			params.Shipping.Phone = stripeapi.String(req.Shipping.Phone)
		}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	for _, k := range sortedKeys(req.Metadata) {
		params.AddMetadata(k, req.Metadata[k])
	}
	if req.CustomerName != "" {
		params.AddMetadata("billing_name", req.CustomerName)
	}
	if req.Billing.Email != "" {
		params.AddMetadata("billing_email", req.Billing.Email)
	}
	if req.Billing.Address1 != "" {
		params.AddMetadata("billing_address", fmt.Sprintf("%s, %s %s, %s",
			req.Billing.Address1, req.Billing.Postcode, req.Billing.City, req.Billing.Country))
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	return &model.PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// Intent statuses that mean the shopper's payment went through.
var capturedStatuses = map[stripeapi.PaymentIntentStatus]bool{
	stripeapi.PaymentIntentStatusSucceeded:       true,
	stripeapi.PaymentIntentStatusProcessing:      true,
	stripeapi.PaymentIntentStatusRequiresCapture: true,
}

// VerifyCaptured returns nil when the intent has been paid. Success
// callbacks from the browser are checked with it before an order is
// recorded as paid.
func (p *Processor) VerifyCaptured(ctx context.Context, paymentIntentID string) error {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return mapError(err)
	}
	if !capturedStatuses[pi.Status] {
		return model.NewPaymentError(fmt.Sprintf("payment %s is %s", paymentIntentID, pi.Status))
	}
	return nil
}

// CancelPaymentIntent cancels an intent that was abandoned before payment so
// its client secret can no longer capture. An intent that is already
// cancelled counts as success; one that has been paid returns a conflict.
func (p *Processor) CancelPaymentIntent(ctx context.Context, paymentIntentID string) error {
	params := &stripeapi.PaymentIntentCancelParams{
		CancellationReason: stripeapi.String(string(stripeapi.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	_, err := p.api.PaymentIntents.Cancel(paymentIntentID, params)
	if err == nil {
		return nil
	}

	var se *stripeapi.Error
	if errors.As(err, &se) && se.Code == stripeapi.ErrorCodePaymentIntentUnexpectedState {
		if se.PaymentIntent != nil && se.PaymentIntent.Status == stripeapi.PaymentIntentStatusCanceled {
			return nil
		}
		return model.NewConflictError(fmt.Sprintf("payment %s can no longer be cancelled", paymentIntentID))
	}
	return mapError(err)
}

func toAddressParams(a model.Address) *stripeapi.AddressParams {
	params := &stripeapi.AddressParams{
		Line1:      stripeapi.String(a.Address1),
		City:       stripeapi.String(a.City),
		PostalCode: stripeapi.String(a.Postcode),
		Country:    stripeapi.String(a.Country),
	}
	if a.Address2 != "" {
		params.Line2 = stripeapi.String(a.Address2)
	}
	if a.State != "" {
		params.State = stripeapi.String(a.State)
	}
	return params
}

// mapError converts Stripe failures to APIErrors. Card declines are payment
// errors; everything else is an upstream failure.
func mapError(err error) error {
	var se *stripeapi.Error
	if !errors.As(err, &se) {
		return model.NewUpstreamError("Stripe", err)
	}
	switch {
	case se.Type == stripeapi.ErrorTypeCard:
		return model.NewPaymentError(se.Msg)
	case se.HTTPStatusCode == http.StatusNotFound:
		return model.NewNotFoundError("payment intent")
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		return model.NewRateLimitError("Stripe")
	case se.HTTPStatusCode == http.StatusUnauthorized:
		return model.NewUnauthorizedError("Stripe authentication failed")
	default:
		return model.NewUpstreamError("Stripe", err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// leveledLogger routes stripe-go's client logging to slog.
type leveledLogger struct {
	log *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}
