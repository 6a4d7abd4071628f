package checkout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/reconcile"
	"storefront-checkout/internal/shipping"
)

// Step is the user-visible checkout step.
type Step string

const (
	StepInformation Step = "information"
	StepPayment     Step = "payment"
)

// Session state errors. Handlers map these to 409 Conflict.
var (
	ErrWrongStep         = errors.New("operation not allowed in the current step")
	ErrCommitInProgress  = errors.New("commit already in progress")
	ErrCompleted         = errors.New("checkout already completed")
	ErrStaleShipping     = errors.New("shipping response superseded")
	ErrNoPendingPayment  = errors.New("no payment pending")
	ErrUnknownShipMethod = errors.New("unknown shipping method")
)

// Session is one customer's checkout. All methods are safe for concurrent use.
type Session struct {
	mu  sync.Mutex
	env *env

	id         string
	cartToken  string
	customerID int
	createdAt  time.Time
	touchedAt  time.Time

	step  Step
	lines []model.CartLine
	// cartChanges is set when the cart moved between create and advance.
	cartChanges *reconcile.LineDiff

	shipping    model.Address
	billing     model.Address
	hasBilling  bool
	billingSame bool

	methods   []model.ShippingMethod
	selected  *model.ShippingMethod
	estimated bool
	// advisory comes from the resolver; restricted from the validator.
	advisory   []model.RestrictedItem
	restricted []model.RestrictedItem
	shipGen    uint64

	paymentMethod string
	paymentTitle  string
	term          model.PaymentTerm
	coupon        model.Coupon
	notes         string

	fieldErrors []model.FieldError
	stockErrors []model.StockError
	lastErr     *model.CheckoutError

	processing   bool
	pending      *model.RecoverySnapshot
	clientSecret string
	intentSeq    int
	idemKey      string
	result       *CommitResult
	// abandoned holds intents cancelled by Edit, FailPayment or a new commit.
	abandoned map[string]bool

	completed bool
	order     *model.Order
	// postCapture is set once a captured payment failed to produce an order.
	postCapture *model.CheckoutError
}

func newSession(e *env, id, cartToken string, customerID int, lines []model.CartLine) *Session {
	now := e.Now()
	return &Session{
		env:         e,
		id:          id,
		cartToken:   cartToken,
		customerID:  customerID,
		createdAt:   now,
		touchedAt:   now,
		step:        StepInformation,
		lines:       lines,
		billingSame: true,
		term:        model.TermImmediate,
		abandoned:   make(map[string]bool),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) touch() {
	s.touchedAt = s.env.Now()
}

// idleSince returns the last activity time and whether the session is busy.
// A session is busy while its lock is held, a commit runs or a card payment
// is pending. It never waits for the lock.
func (s *Session) idleSince() (time.Time, bool) {
	if !s.mu.TryLock() {
		return time.Time{}, true
	}
	defer s.mu.Unlock()
	return s.touchedAt, s.processing || s.pending != nil
}

// mutable reports whether user input may change state right now.
// Caller must hold s.mu.
func (s *Session) mutable() error {
	switch {
	case s.postCapture != nil:
		return s.postCapture
	case s.completed:
		return ErrCompleted
	case s.processing:
		return ErrCommitInProgress
	}
	return nil
}

// prefill copies a known customer's saved addresses into the information step.
func (s *Session) prefill(c *model.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ship := c.Shipping
	if ship.Address1 == "" {
		ship = c.Billing
	}
	if ship.Email == "" {
		ship.Email = firstNonEmpty(c.Billing.Email, c.Email)
	}
	if ship.Phone == "" {
		ship.Phone = c.Billing.Phone
	}
	s.shipping = ship.Normalized()

	if c.Billing.Address1 != "" && c.Billing.Normalized() != s.shipping {
		s.billing = c.Billing.Normalized()
		if s.billing.Email == "" {
			s.billing.Email = c.Email
		}
		s.hasBilling = true
		s.billingSame = false
	}
}

// === Information step inputs ===

// SetShippingAddress replaces the shipping address. Allowed only in the
// information step; the payment step must Edit first. The cart store receives
// the new address as a hint.
func (s *Session) SetShippingAddress(ctx context.Context, addr model.Address) error {
	s.mu.Lock()
	if err := s.mutable(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.step != StepInformation {
		s.mu.Unlock()
		return ErrWrongStep
	}
	s.shipping = addr.Normalized()
	s.fieldErrors = nil
	s.touch()
	hint := s.shipping
	token := s.cartToken
	s.mu.Unlock()

	if token != "" {
		if err := s.env.Cart.SetShippingHint(ctx, token, hint); err != nil {
			s.env.Logger.Warn("cart shipping hint failed",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// SetBillingAddress records a separate billing address and turns off
// same-as-shipping.
func (s *Session) SetBillingAddress(addr model.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if s.step != StepInformation {
		return ErrWrongStep
	}
	s.billing = addr.Normalized()
	s.hasBilling = true
	s.billingSame = false
	s.fieldErrors = nil
	s.touch()
	return nil
}

// SetBillingSameAsShipping toggles deriving billing from shipping at Advance.
func (s *Session) SetBillingSameAsShipping(same bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if s.step != StepInformation {
		return ErrWrongStep
	}
	s.billingSame = same
	s.touch()
	return nil
}

// ResolveShipping fetches methods for the current shipping address.
//
// The remote call runs without holding the session lock. A response is
// applied only if no newer resolution was started and the session is still
// in the information step; otherwise it is dropped with ErrStaleShipping.
func (s *Session) ResolveShipping(ctx context.Context) (*shipping.Resolution, error) {
	s.mu.Lock()
	if err := s.mutable(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.step != StepInformation {
		s.mu.Unlock()
		return nil, ErrWrongStep
	}
	s.shipGen++
	gen := s.shipGen
	lines := append([]model.CartLine(nil), s.lines...)
	dest := s.shipping.Destination()
	s.mu.Unlock()

	res, err := s.env.Resolver.Resolve(ctx, lines, model.Subtotal(lines), dest)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.shipGen || s.step != StepInformation {
		s.env.Logger.Debug("discarding superseded shipping response",
			slog.String("session_id", s.id),
		)
		return nil, ErrStaleShipping
	}
	if err != nil {
		return nil, err
	}

	s.methods = res.Methods
	s.estimated = res.Estimated
	s.advisory = res.Restrictions
	s.selected = nil
	if res.Selected != nil {
		m := *res.Selected
		s.selected = &m
	}
	s.touch()
	return res, nil
}

// SelectShippingMethod picks one of the resolved methods by id.
func (s *Session) SelectShippingMethod(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if s.step != StepInformation {
		return ErrWrongStep
	}
	for i := range s.methods {
		if s.methods[i].ID == id {
			m := s.methods[i]
			s.selected = &m
			s.touch()
			return nil
		}
	}
	return ErrUnknownShipMethod
}

// === Inputs allowed in either step ===

// ApplyCoupon resolves code through the backend and replaces any applied
// coupon. Coupons do not stack.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, model.NewInputError("invalid_coupon", "coupon code is required")
	}

	s.mu.Lock()
	err := s.mutable()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c, err := s.env.findCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewInputError("invalid_coupon", "coupon "+code+" does not exist")
		}
		return nil, model.NewRemoteFailure("coupon lookup", false, err)
	}
	if !c.Applied() {
		return nil, model.NewInputError("unsupported_coupon", "coupon "+code+" cannot be applied at checkout")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return nil, err
	}
	s.coupon = *c
	s.touch()
	return c, nil
}

// RemoveCoupon clears the applied coupon.
func (s *Session) RemoveCoupon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	s.coupon = model.Coupon{}
	s.touch()
	return nil
}

// SetPaymentMethod records the chosen payment method id and display title.
func (s *Session) SetPaymentMethod(method, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	s.paymentMethod = strings.TrimSpace(method)
	s.paymentTitle = strings.TrimSpace(title)
	s.touch()
	return nil
}

// SetPaymentTerm switches between immediate payment and invoice credit.
func (s *Session) SetPaymentTerm(term model.PaymentTerm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	s.term = term.Normalize()
	s.touch()
	return nil
}

// SetNotes records the order note.
func (s *Session) SetNotes(notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	s.notes = notes
	s.touch()
	return nil
}

// === Transitions ===

// Advance moves information → payment. Guards run in order: contact
// details, address, shipping method, then the authoritative restriction
// check. The lock is held through the restriction call so no input can
// change between the check and the transition.
func (s *Session) Advance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if s.step != StepInformation {
		return ErrWrongStep
	}

	s.restricted = nil
	s.fieldErrors = nil
	s.lastErr = nil
	s.touch()

	if fields := s.missingFields(); len(fields) > 0 {
		s.fieldErrors = fields
		return s.fail(model.NewFieldErrors(fields))
	}
	if s.selected == nil {
		return s.fail(model.NewBusinessRuleError("shipping_method_required", "select a shipping method"))
	}

	if s.cartToken != "" {
		lines, err := s.env.Cart.Lines(ctx, s.cartToken)
		if err != nil {
			return s.fail(model.NewRemoteFailure("cart", true, err))
		}
		s.cartChanges = nil
		if diff := reconcile.DiffLines(s.lines, lines); !diff.IsEmpty() {
			s.cartChanges = diff
			s.env.Logger.Info("cart changed during checkout",
				slog.String("session_id", s.id),
				slog.Int("added", len(diff.Added)),
				slog.Int("removed", len(diff.Removed)),
				slog.Int("changed", len(diff.Changed)),
				slog.String("subtotal_delta", diff.SubtotalDelta().String()),
			)
		}
		s.lines = lines
	}
	if len(s.lines) == 0 {
		return s.fail(model.NewBusinessRuleError("empty_cart", "the cart is empty"))
	}

	res, err := s.env.Validator.Validate(ctx, s.lines, s.shipping.Destination())
	if err != nil {
		return s.fail(classify(err, "shipping restriction check"))
	}
	if !res.Valid {
		s.restricted = res.Restricted
		return s.fail(model.NewRestrictionError(res.Restricted))
	}

	if s.billingSame {
		s.billing = s.shipping
		s.hasBilling = true
	}
	s.advisory = nil
	s.step = StepPayment
	return nil
}

// missingFields checks guards (a) and (b). Caller must hold s.mu.
func (s *Session) missingFields() []model.FieldError {
	var out []model.FieldError
	req := func(field, value, msg string) {
		if strings.TrimSpace(value) == "" {
			out = append(out, model.FieldError{Field: field, Message: msg})
		}
	}

	a := s.shipping
	req("shipping.first_name", a.FirstName, "first name is required")
	req("shipping.last_name", a.LastName, "last name is required")
	req("shipping.email", a.Email, "email is required")
	req("shipping.address_1", a.Address1, "street address is required")
	req("shipping.city", a.City, "city is required")
	req("shipping.postcode", a.Postcode, "postcode is required")

	if !s.billingSame {
		b := s.billing
		req("billing.first_name", b.FirstName, "first name is required")
		req("billing.last_name", b.LastName, "last name is required")
		req("billing.address_1", b.Address1, "street address is required")
		req("billing.city", b.City, "city is required")
		req("billing.postcode", b.Postcode, "postcode is required")
	}
	return out
}

// Edit returns payment → information. Notes, coupon and payment selections
// survive. A pending card payment is cancelled first; if it cannot be
// cancelled the session stays in the payment step.
func (s *Session) Edit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if s.step != StepPayment {
		return ErrWrongStep
	}

	if pending := s.pending; pending != nil {
		s.processing = true
		s.mu.Unlock()
		err := s.abandonIntent(ctx, pending)
		s.mu.Lock()
		s.processing = false
		if err != nil {
			return s.fail(err)
		}
	}

	s.step = StepInformation
	s.stockErrors = nil
	s.lastErr = nil
	s.touch()
	return nil
}

// abandonIntent cancels a pending card payment at the processor so its
// client secret can no longer capture, then forgets it. On error the intent
// stays pending. Caller must not hold s.mu.
func (s *Session) abandonIntent(ctx context.Context, pending *model.RecoverySnapshot) *model.CheckoutError {
	id := pending.PaymentIntentID
	log := s.env.Logger.With(
		slog.String("session_id", s.id),
		slog.String("payment_intent_id", id),
	)

	if s.env.Processor != nil {
		if err := s.env.Processor.CancelPaymentIntent(ctx, id); err != nil {
			log.Error("cancelling payment intent failed", slog.String("error", err.Error()))
			if errors.Is(err, model.ErrConflict) {
				return model.NewBusinessRuleError("payment_not_cancellable",
					"payment "+id+" can no longer be cancelled; report its outcome first")
			}
			return model.NewRemoteFailure("payment processor", true, err)
		}
	}

	s.mu.Lock()
	s.abandoned[id] = true
	if s.pending == pending {
		s.pending = nil
		s.clientSecret = ""
		s.result = nil
		s.idemKey = ""
	}
	s.mu.Unlock()

	if err := s.env.Recovery.Clear(ctx, s.id); err != nil {
		log.Warn("clearing abandoned recovery snapshot failed", slog.String("error", err.Error()))
	}
	log.Info("payment intent cancelled")
	return nil
}

// fail records err as the session's last error and returns it.
// Caller must hold s.mu.
func (s *Session) fail(err *model.CheckoutError) error {
	s.lastErr = err
	return err
}

// classify converts err into a CheckoutError, keeping existing classification.
func classify(err error, service string) *model.CheckoutError {
	var ce *model.CheckoutError
	if errors.As(err, &ce) {
		return ce
	}
	return model.NewRemoteFailure(service, true, err)
}

// === Derived values ===

// Totals recomputes the price breakdown from current inputs.
func (s *Session) Totals() pricing.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalsLocked()
}

func (s *Session) totalsLocked() pricing.Totals {
	return s.env.Pricing.Breakdown(model.Subtotal(s.lines), s.selected, s.coupon)
}

// Pathway re-derives the effective payment from the current selectors.
func (s *Session) Pathway() payment.EffectivePayment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.Payments.Effective(s.paymentMethod, s.paymentTitle, s.term)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
