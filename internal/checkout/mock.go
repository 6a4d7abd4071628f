package checkout

import (
	"context"
	"fmt"
	"time"

	"storefront-checkout/internal/model"
)

// MockCart implements CartStore for testing.
// Each method can be configured via function fields.
type MockCart struct {
	LinesFunc           func(ctx context.Context, cartToken string) ([]model.CartLine, error)
	ClearFunc           func(ctx context.Context, cartToken string) error
	SetShippingHintFunc func(ctx context.Context, cartToken string, addr model.Address) error
}

// Lines calls the configured LinesFunc or returns an empty cart.
func (m *MockCart) Lines(ctx context.Context, cartToken string) ([]model.CartLine, error) {
	if m.LinesFunc != nil {
		return m.LinesFunc(ctx, cartToken)
	}
	return nil, nil
}

// Clear calls the configured ClearFunc or succeeds.
func (m *MockCart) Clear(ctx context.Context, cartToken string) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, cartToken)
	}
	return nil
}

// SetShippingHint calls the configured SetShippingHintFunc or succeeds.
func (m *MockCart) SetShippingHint(ctx context.Context, cartToken string, addr model.Address) error {
	if m.SetShippingHintFunc != nil {
		return m.SetShippingHintFunc(ctx, cartToken, addr)
	}
	return nil
}

// MockBackend implements Backend for testing.
type MockBackend struct {
	CreateOrderFunc    func(ctx context.Context, spec *model.OrderSpec) (*model.Order, error)
	ValidateStockFunc  func(ctx context.Context, lines []model.CartLine) (*model.StockResult, error)
	GetCustomerFunc    func(ctx context.Context, id int) (*model.Customer, error)
	UpdateCustomerFunc func(ctx context.Context, customer *model.Customer) error
	FindCouponFunc     func(ctx context.Context, code string) (*model.Coupon, error)
}

// CreateOrder calls the configured CreateOrderFunc or returns a pending order.
func (m *MockBackend) CreateOrder(ctx context.Context, spec *model.OrderSpec) (*model.Order, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, spec)
	}
	status := "pending"
	if spec.SetPaid {
		status = "processing"
	}
	return &model.Order{ID: 1001, Number: "1001", Status: status, CreatedAt: time.Now()}, nil
}

// ValidateStock calls the configured ValidateStockFunc or reports all lines in stock.
func (m *MockBackend) ValidateStock(ctx context.Context, lines []model.CartLine) (*model.StockResult, error) {
	if m.ValidateStockFunc != nil {
		return m.ValidateStockFunc(ctx, lines)
	}
	return &model.StockResult{Valid: true}, nil
}

// GetCustomer calls the configured GetCustomerFunc or returns not found.
func (m *MockBackend) GetCustomer(ctx context.Context, id int) (*model.Customer, error) {
	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("customer")
}

// UpdateCustomer calls the configured UpdateCustomerFunc or succeeds.
func (m *MockBackend) UpdateCustomer(ctx context.Context, customer *model.Customer) error {
	if m.UpdateCustomerFunc != nil {
		return m.UpdateCustomerFunc(ctx, customer)
	}
	return nil
}

// FindCoupon calls the configured FindCouponFunc or returns not found.
func (m *MockBackend) FindCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	if m.FindCouponFunc != nil {
		return m.FindCouponFunc(ctx, code)
	}
	return nil, model.NewNotFoundError("coupon")
}

// MockProcessor implements PaymentProcessor for testing.
type MockProcessor struct {
	CreatePaymentIntentFunc func(ctx context.Context, req model.IntentRequest) (*model.PaymentIntent, error)
	CancelPaymentIntentFunc func(ctx context.Context, paymentIntentID string) error
}

// CreatePaymentIntent calls the configured func or returns a fixed intent.
func (m *MockProcessor) CreatePaymentIntent(ctx context.Context, req model.IntentRequest) (*model.PaymentIntent, error) {
	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, req)
	}
	return &model.PaymentIntent{
		ID:           "pi_mock",
		ClientSecret: fmt.Sprintf("pi_mock_secret_%d", req.AmountMinor),
	}, nil
}

// CancelPaymentIntent calls the configured func or succeeds.
func (m *MockProcessor) CancelPaymentIntent(ctx context.Context, paymentIntentID string) error {
	if m.CancelPaymentIntentFunc != nil {
		return m.CancelPaymentIntentFunc(ctx, paymentIntentID)
	}
	return nil
}

// Verify mocks implement their interfaces at compile time.
var (
	_ CartStore        = (*MockCart)(nil)
	_ Backend          = (*MockBackend)(nil)
	_ PaymentProcessor = (*MockProcessor)(nil)
)
