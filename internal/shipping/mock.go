package shipping

import (
	"context"
	"errors"
)

// MockService implements Service for testing.
// Each method can be configured via function fields.
type MockService struct {
	CalculateShippingFunc    func(ctx context.Context, req Request) (*Quote, error)
	ValidateRestrictionsFunc func(ctx context.Context, req Request) (*RestrictionResult, error)
}

// CalculateShipping calls the configured func or returns an error.
func (m *MockService) CalculateShipping(ctx context.Context, req Request) (*Quote, error) {
	if m.CalculateShippingFunc != nil {
		return m.CalculateShippingFunc(ctx, req)
	}
	return nil, errors.New("shipping service not configured")
}

// ValidateRestrictions calls the configured func or reports the destination valid.
func (m *MockService) ValidateRestrictions(ctx context.Context, req Request) (*RestrictionResult, error) {
	if m.ValidateRestrictionsFunc != nil {
		return m.ValidateRestrictionsFunc(ctx, req)
	}
	return &RestrictionResult{Valid: true}, nil
}

// Verify MockService implements Service at compile time.
var _ Service = (*MockService)(nil)
