// Package shipping resolves eligible shipping methods for a destination and
// re-validates per-item geographic restrictions before the information step
// is left.
//
// The Resolver is advisory and never blocks checkout: any failure yields a
// fixed fallback list marked as estimated. The Validator is authoritative and
// fails closed: an unreachable service blocks the step transition.
package shipping

import (
	"context"
	"errors"

	"storefront-checkout/internal/model"
)

// MinPostcodeLength is the compact postcode length below which no lookup
// is attempted.
const MinPostcodeLength = 5

// ErrPostcodeIncomplete is returned when the postcode is too short to look up.
var ErrPostcodeIncomplete = errors.New("postcode incomplete")

// Request is the input to both remote calls.
type Request struct {
	Lines       []model.CartLine
	Destination model.Destination
}

// Quote is the shipping service's answer for a destination.
type Quote struct {
	Methods    []model.ShippingMethod
	Restricted []model.RestrictedItem
}

// RestrictionResult is the outcome of the final restriction check.
type RestrictionResult struct {
	Valid      bool                   `json:"valid"`
	Restricted []model.RestrictedItem `json:"restricted_products,omitempty"`
}

// Service is the remote shipping/restriction collaborator.
type Service interface {
	CalculateShipping(ctx context.Context, req Request) (*Quote, error)
	ValidateRestrictions(ctx context.Context, req Request) (*RestrictionResult, error)
}

// PostcodeReady reports whether dest has enough postcode to query.
func PostcodeReady(dest model.Destination) bool {
	return len(dest.CompactPostcode()) >= MinPostcodeLength
}
