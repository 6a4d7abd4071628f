package shipping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/telemetry"
)

// DefaultTimeout bounds each remote shipping call.
const DefaultTimeout = 12 * time.Second

// Policy chooses the default method after a successful lookup.
type Policy string

const (
	// PolicyBest prefers free shipping when the cart qualifies, otherwise the
	// first paid method.
	PolicyBest Policy = "best"
	// PolicyFirst takes the first method returned.
	PolicyFirst Policy = "first"
)

// ParsePolicy maps a config string to a policy. Unknown values mean best.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyFirst {
		return PolicyFirst
	}
	return PolicyBest
}

// Fallback method ids.
const (
	FallbackFlatRateID    = "flat_rate:fallback"
	FallbackLocalPickupID = "local_pickup:fallback"
)

// DefaultFallback returns the standard flat rate at flatCost plus free local pickup.
func DefaultFallback(flatCost decimal.Decimal) []model.ShippingMethod {
	return []model.ShippingMethod{
		{
			ID:        FallbackFlatRateID,
			MethodID:  model.MethodFlatRate,
			Label:     "Standard shipping",
			Cost:      flatCost,
			TotalCost: flatCost,
			Tax:       decimal.Zero,
		},
		{
			ID:        FallbackLocalPickupID,
			MethodID:  model.MethodLocalPickup,
			Label:     "Local pickup",
			Cost:      decimal.Zero,
			TotalCost: decimal.Zero,
			Tax:       decimal.Zero,
		},
	}
}

// ResolverConfig configures the Resolver.
type ResolverConfig struct {
	FreeShippingThreshold decimal.Decimal
	Policy                Policy
	// Fallback replaces DefaultFallback(FallbackFlatCost) when set.
	Fallback         []model.ShippingMethod
	FallbackFlatCost decimal.Decimal
	Timeout          time.Duration
	Logger           *slog.Logger
	Metrics          *telemetry.Metrics
}

// Resolution is the result of one shipping lookup. Every call replaces the
// previous resolution wholesale.
type Resolution struct {
	Methods []model.ShippingMethod `json:"methods"`
	// Restrictions are advisory until the Validator confirms them.
	Restrictions []model.RestrictedItem `json:"restrictions,omitempty"`
	Selected     *model.ShippingMethod  `json:"selected,omitempty"`
	// Estimated is set when Methods is the fallback list.
	Estimated bool `json:"estimated"`
}

// Resolver fetches eligible shipping methods for a destination.
type Resolver struct {
	svc       Service
	threshold decimal.Decimal
	policy    Policy
	fallback  []model.ShippingMethod
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NewResolver creates a resolver over svc.
func NewResolver(svc Service, cfg ResolverConfig) *Resolver {
	r := &Resolver{
		svc:       svc,
		threshold: cfg.FreeShippingThreshold,
		policy:    cfg.Policy,
		fallback:  cfg.Fallback,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if r.policy == "" {
		r.policy = PolicyBest
	}
	if len(r.fallback) == 0 {
		r.fallback = DefaultFallback(cfg.FallbackFlatCost)
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve looks up shipping methods for dest. It returns ErrPostcodeIncomplete
// without calling the service when the postcode is too short. Every other
// failure is absorbed into an estimated fallback resolution.
func (r *Resolver) Resolve(ctx context.Context, lines []model.CartLine, subtotal decimal.Decimal, dest model.Destination) (*Resolution, error) {
	if !PostcodeReady(dest) {
		return nil, ErrPostcodeIncomplete
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	quote, err := r.svc.CalculateShipping(callCtx, Request{Lines: lines, Destination: dest})
	if err != nil {
		r.logger.Warn("shipping lookup failed, using fallback methods",
			slog.String("postcode", dest.CompactPostcode()),
			slog.String("country", dest.Country),
			slog.String("error", err.Error()),
		)
		return r.fallbackResolution(ctx, subtotal, nil), nil
	}

	if len(quote.Methods) == 0 {
		r.logger.Warn("shipping service returned no methods, using fallback methods",
			slog.String("postcode", dest.CompactPostcode()),
			slog.String("country", dest.Country),
		)
		return r.fallbackResolution(ctx, subtotal, quote.Restricted), nil
	}

	methods := cloneMethods(quote.Methods)
	return &Resolution{
		Methods:      methods,
		Restrictions: quote.Restricted,
		Selected:     r.SelectDefault(methods, subtotal),
	}, nil
}

func (r *Resolver) fallbackResolution(ctx context.Context, subtotal decimal.Decimal, restricted []model.RestrictedItem) *Resolution {
	r.metrics.ShippingFallback(ctx)
	methods := cloneMethods(r.fallback)
	return &Resolution{
		Methods:      methods,
		Restrictions: restricted,
		Selected:     r.SelectDefault(methods, subtotal),
		Estimated:    true,
	}
}

// SelectDefault picks the default method per the configured policy.
// Returns nil only when methods is empty.
func (r *Resolver) SelectDefault(methods []model.ShippingMethod, subtotal decimal.Decimal) *model.ShippingMethod {
	if len(methods) == 0 {
		return nil
	}
	if r.policy == PolicyFirst {
		return &methods[0]
	}

	if r.threshold.IsPositive() && subtotal.GreaterThanOrEqual(r.threshold) {
		for i := range methods {
			if methods[i].IsFree() {
				return &methods[i]
			}
		}
	}
	for i := range methods {
		if !methods[i].IsFree() {
			return &methods[i]
		}
	}
	return &methods[0]
}

// Fallback returns a copy of the fallback method list.
func (r *Resolver) Fallback() []model.ShippingMethod {
	return cloneMethods(r.fallback)
}

func cloneMethods(in []model.ShippingMethod) []model.ShippingMethod {
	out := make([]model.ShippingMethod, len(in))
	copy(out, in)
	return out
}

// Validator performs the authoritative restriction check when leaving the
// information step.
type Validator struct {
	svc     Service
	timeout time.Duration
	logger  *slog.Logger
}

// NewValidator creates a validator over svc. timeout <= 0 uses DefaultTimeout.
func NewValidator(svc Service, timeout time.Duration, logger *slog.Logger) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{svc: svc, timeout: timeout, logger: logger}
}

// Validate checks every line against dest. A failed call is returned as a
// critical remote failure; it is never treated as "no restrictions".
func (v *Validator) Validate(ctx context.Context, lines []model.CartLine, dest model.Destination) (*RestrictionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	res, err := v.svc.ValidateRestrictions(callCtx, Request{Lines: lines, Destination: dest})
	if err != nil {
		v.logger.Error("restriction validation failed",
			slog.String("postcode", dest.CompactPostcode()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewRemoteFailure("shipping restriction check", true, err)
	}
	if res == nil {
		return nil, model.NewRemoteFailure("shipping restriction check", true,
			fmt.Errorf("empty restriction response"))
	}
	if !res.Valid && len(res.Restricted) == 0 {
		// Invalid with nothing listed cannot be shown to the user as items.
		return nil, model.NewRemoteFailure("shipping restriction check", true,
			fmt.Errorf("invalid destination without restricted products"))
	}
	return res, nil
}
