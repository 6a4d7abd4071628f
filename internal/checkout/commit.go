package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
)

// Commit outcomes recorded on the checkout.commits counter.
const (
	outcomeOrderCreated  = "order_created"
	outcomeIntentCreated = "intent_created"
	outcomeOutOfStock    = "out_of_stock"
	outcomeFailed        = "failed"
)

// CommitResult is what the caller needs after a successful commit.
// Card payments carry the intent; other pathways carry the order.
type CommitResult struct {
	Pathway         model.Pathway `json:"pathway"`
	Order           *model.Order  `json:"order,omitempty"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	ClientSecret    string        `json:"client_secret,omitempty"`
	AmountMinor     int64         `json:"amount_minor,omitempty"`
	Currency        string        `json:"currency,omitempty"`
}

// commitInput is the state captured when a commit starts. Mutations are
// rejected while processing, so it stays consistent with the session.
type commitInput struct {
	effective     payment.EffectivePayment
	customerID    int
	lines         []model.CartLine
	billing       model.Address
	shipping      model.Address
	method        *model.ShippingMethod
	coupon        model.Coupon
	notes         string
	totals        pricing.Totals
	cartToken     string
	idemKey       string
	intentAttempt int
	// supersedes is the card payment left pending by an earlier commit.
	supersedes *model.RecoverySnapshot
}

// Commit runs the commit sequence: re-derive the pathway, validate stock,
// then either create a payment intent (card) or create the order directly.
//
// Only one commit runs per session. A concurrent call returns
// ErrCommitInProgress without contacting any collaborator. Repeating a
// finished commit with the same idempotencyKey returns the recorded result.
// A card payment still pending from an earlier commit is cancelled before
// anything else happens.
func (s *Session) Commit(ctx context.Context, idempotencyKey string) (*CommitResult, error) {
	in, replay, err := s.beginCommit(idempotencyKey)
	if err != nil || replay != nil {
		return replay, err
	}
	defer s.endCommit()

	log := s.env.Logger.With(
		slog.String("session_id", s.id),
		slog.String("pathway", string(in.effective.Pathway)),
	)

	if in.supersedes != nil {
		if cerr := s.abandonIntent(ctx, in.supersedes); cerr != nil {
			s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeFailed)
			return nil, s.recordFailure(cerr)
		}
	}

	stock, err := s.env.Backend.ValidateStock(ctx, in.lines)
	if err != nil {
		log.Error("stock validation unavailable", slog.String("error", err.Error()))
		s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeFailed)
		return nil, s.recordFailure(classify(err, "stock validation"))
	}
	if !stock.Valid {
		s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeOutOfStock)
		s.mu.Lock()
		s.stockErrors = stock.Errors
		s.mu.Unlock()
		return nil, s.recordFailure(model.NewStockError(stock.Errors))
	}

	if in.effective.Pathway == model.PathwayCardCapture {
		return s.commitCard(ctx, log, in)
	}
	return s.commitDirect(ctx, log, in)
}

// beginCommit validates preconditions, sets the processing flag and captures
// inputs. It returns a non-nil replay result for idempotent repeats.
func (s *Session) beginCommit(idempotencyKey string) (*commitInput, *CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result != nil && idempotencyKey != "" && idempotencyKey == s.idemKey {
		return nil, s.result, nil
	}
	if err := s.mutable(); err != nil {
		return nil, nil, err
	}
	if s.step != StepPayment {
		return nil, nil, ErrWrongStep
	}

	s.stockErrors = nil
	s.lastErr = nil
	s.touch()

	eff := s.env.Payments.Effective(s.paymentMethod, s.paymentTitle, s.term)
	if eff.MethodID == "" {
		return nil, nil, s.fail(model.NewInputError("payment_method_required", "select a payment method"))
	}

	s.processing = true
	s.intentSeq++

	in := &commitInput{
		effective:     eff,
		customerID:    s.customerID,
		lines:         append([]model.CartLine(nil), s.lines...),
		billing:       s.billing,
		shipping:      s.shipping,
		coupon:        s.coupon,
		notes:         s.notes,
		totals:        s.totalsLocked(),
		cartToken:     s.cartToken,
		idemKey:       idempotencyKey,
		intentAttempt: s.intentSeq,
		supersedes:    s.pending,
	}
	if s.selected != nil {
		m := *s.selected
		in.method = &m
	}
	return in, nil, nil
}

func (s *Session) endCommit() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

func (s *Session) recordFailure(err *model.CheckoutError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail(err)
}

// commitCard creates the payment intent and persists the recovery snapshot.
// Order creation waits for ConfirmPayment.
func (s *Session) commitCard(ctx context.Context, log *slog.Logger, in *commitInput) (*CommitResult, error) {
	amount := pricing.MinorUnits(in.totals.Payable)
	if amount <= 0 {
		s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeFailed)
		return nil, s.recordFailure(model.NewInputError("invalid_amount",
			fmt.Sprintf("payable total %s cannot be charged by card", model.FormatAmount(in.totals.Payable))))
	}
	if s.env.Processor == nil {
		return nil, s.recordFailure(model.NewRemoteFailure("payment processor", true,
			errors.New("no payment processor configured")))
	}

	// Each attempt gets its own processor key so a reused client key never
	// resolves to an intent that was cancelled in between.
	key := s.id + ":" + strconv.Itoa(in.intentAttempt)
	if in.idemKey != "" {
		key += ":" + in.idemKey
	}

	intent, err := s.env.Processor.CreatePaymentIntent(ctx, model.IntentRequest{
		AmountMinor:    amount,
		Currency:       s.env.Currency,
		CustomerEmail:  firstNonEmpty(in.billing.Email, in.shipping.Email),
		CustomerName:   in.billing.FullName(),
		Billing:        in.billing,
		Shipping:       in.shipping,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"checkout_session": s.id,
			"payable":          model.FormatAmount(in.totals.Payable),
		},
	})
	if err != nil {
		log.Error("payment intent creation failed", slog.String("error", err.Error()))
		s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeFailed)
		return nil, s.recordFailure(classify(err, "payment processor"))
	}

	snap := &model.RecoverySnapshot{
		SessionID:          s.id,
		CustomerID:         in.customerID,
		Billing:            in.billing,
		Shipping:           in.shipping,
		ShippingMethod:     in.method,
		PaymentMethod:      in.effective.MethodID,
		PaymentMethodTitle: in.effective.Title,
		Lines:              in.lines,
		Notes:              in.notes,
		Coupon:             in.coupon,
		PaymentIntentID:    intent.ID,
		Amount:             amount,
		Currency:           s.env.Currency,
		CreatedAt:          s.env.Now(),
	}
	if err := s.env.Recovery.Save(ctx, s.id, snap); err != nil {
		log.Error("saving recovery snapshot failed",
			slog.String("payment_intent_id", intent.ID),
			slog.String("error", err.Error()),
		)
		s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeFailed)
		return nil, s.recordFailure(model.NewRemoteFailure("checkout recovery store", true, err))
	}

	res := &CommitResult{
		Pathway:         model.PathwayCardCapture,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		AmountMinor:     amount,
		Currency:        s.env.Currency,
	}

	s.mu.Lock()
	delete(s.abandoned, intent.ID)
	s.pending = snap
	s.clientSecret = intent.ClientSecret
	s.result = res
	s.idemKey = in.idemKey
	s.mu.Unlock()

	log.Info("payment intent created",
		slog.String("payment_intent_id", intent.ID),
		slog.Int64("amount_minor", amount),
	)
	s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeIntentCreated)
	return res, nil
}

// commitDirect records invoice-credit and manual orders unpaid.
func (s *Session) commitDirect(ctx context.Context, log *slog.Logger, in *commitInput) (*CommitResult, error) {
	spec := buildOrderSpec(in.customerID, in.billing, in.shipping, in.lines, in.method, in.coupon, in.notes)
	spec.PaymentMethod = in.effective.MethodID
	spec.PaymentMethodTitle = in.effective.Title
	spec.SetPaid = false
	if in.effective.Pathway == model.PathwayInvoiceCredit {
		spec.Meta = append(spec.Meta, s.env.Payments.CreditMetadata(s.env.Now())...)
	}

	order, err := s.env.Backend.CreateOrder(ctx, spec)
	if err != nil {
		log.Error("order creation failed", slog.String("error", err.Error()))
		s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeFailed)
		return nil, s.recordFailure(classify(err, "order service"))
	}

	res := &CommitResult{Pathway: in.effective.Pathway, Order: order}
	s.complete(ctx, log, in.cartToken, order, spec, res, in.idemKey)

	log.Info("order created", slog.Int("order_id", order.ID))
	s.env.Metrics.Commit(ctx, string(in.effective.Pathway), outcomeOrderCreated)
	return res, nil
}

// ConfirmPayment is the processor's success callback. It records the order
// from the recovery snapshot with set_paid and the transaction id.
//
// If the order cannot be recorded after capture, the session becomes
// terminal with a post-capture error carrying the transaction id. The cart
// is kept and nothing is retried automatically. A capture reported for an
// intent this session already abandoned is such a failure too.
func (s *Session) ConfirmPayment(ctx context.Context, paymentIntentID string) (*model.Order, error) {
	s.mu.Lock()
	if s.completed && s.result != nil && s.result.PaymentIntentID == paymentIntentID && s.order != nil {
		order := s.order
		s.mu.Unlock()
		return order, nil
	}
	if s.abandoned[paymentIntentID] {
		pc := model.NewPostCaptureError(paymentIntentID,
			errors.New("payment captured after the checkout abandoned it"))
		if !s.completed && s.postCapture == nil {
			s.postCapture = pc
			s.lastErr = pc
		}
		s.mu.Unlock()
		s.env.Logger.Error("payment captured but order not recorded",
			slog.String("session_id", s.id),
			slog.String("payment_intent_id", paymentIntentID),
			slog.String("reason", "intent abandoned"),
		)
		s.env.Metrics.PostCaptureFailure(ctx)
		return nil, pc
	}
	if err := s.mutable(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.step != StepPayment {
		s.mu.Unlock()
		return nil, ErrWrongStep
	}
	s.processing = true
	pending := s.pending
	cartToken := s.cartToken
	idemKey := s.idemKey
	s.touch()
	s.mu.Unlock()
	defer s.endCommit()

	log := s.env.Logger.With(
		slog.String("session_id", s.id),
		slog.String("payment_intent_id", paymentIntentID),
	)

	snap, err := s.env.Recovery.Load(ctx, s.id)
	if err != nil {
		log.Warn("loading recovery snapshot failed, using session copy", slog.String("error", err.Error()))
		snap = nil
	}
	if snap == nil {
		snap = pending
	}
	if snap == nil {
		return nil, ErrNoPendingPayment
	}
	if snap.PaymentIntentID != paymentIntentID {
		return nil, s.recordFailure(model.NewInputError("unknown_payment_intent",
			"payment "+paymentIntentID+" does not belong to this checkout"))
	}

	spec := buildOrderSpec(snap.CustomerID, snap.Billing, snap.Shipping, snap.Lines, snap.ShippingMethod, snap.Coupon, snap.Notes)
	spec.PaymentMethod = snap.PaymentMethod
	spec.PaymentMethodTitle = snap.PaymentMethodTitle
	spec.SetPaid = true
	spec.TransactionID = paymentIntentID

	order, err := s.env.Backend.CreateOrder(ctx, spec)
	if err != nil {
		pc := model.NewPostCaptureError(paymentIntentID, err)
		log.Error("payment captured but order not recorded", slog.String("error", err.Error()))
		s.env.Metrics.PostCaptureFailure(ctx)
		s.mu.Lock()
		s.postCapture = pc
		s.lastErr = pc
		s.mu.Unlock()
		return nil, pc
	}

	res := &CommitResult{
		Pathway:         model.PathwayCardCapture,
		Order:           order,
		PaymentIntentID: paymentIntentID,
		AmountMinor:     snap.Amount,
		Currency:        snap.Currency,
	}
	s.complete(ctx, log, cartToken, order, spec, res, idemKey)
	log.Info("order created after capture", slog.Int("order_id", order.ID))
	return order, nil
}

// FailPayment is the processor's failure callback. The pending intent is
// cancelled and dropped, and the user may commit again from the payment
// step. The recorded payment failure is returned.
func (s *Session) FailPayment(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if s.step != StepPayment || s.pending == nil {
		return ErrNoPendingPayment
	}
	pending := s.pending
	s.processing = true
	s.touch()
	s.mu.Unlock()
	err := s.abandonIntent(ctx, pending)
	s.mu.Lock()
	s.processing = false
	if err != nil {
		return s.fail(err)
	}
	return s.fail(model.NewPaymentFailure(message))
}

// complete finalizes a recorded order: the cart and recovery snapshot are
// cleared and the customer's addresses written back, all best-effort.
func (s *Session) complete(ctx context.Context, log *slog.Logger, cartToken string, order *model.Order, spec *model.OrderSpec, res *CommitResult, idemKey string) {
	s.mu.Lock()
	s.completed = true
	s.order = order
	s.result = res
	s.idemKey = idemKey
	s.pending = nil
	s.clientSecret = ""
	s.lastErr = nil
	s.mu.Unlock()

	if cartToken != "" {
		if err := s.env.Cart.Clear(ctx, cartToken); err != nil {
			log.Warn("clearing cart failed", slog.String("error", err.Error()))
		}
	}
	if err := s.env.Recovery.Clear(ctx, s.id); err != nil {
		log.Warn("clearing recovery snapshot failed", slog.String("error", err.Error()))
	}
	if spec.CustomerID > 0 {
		err := s.env.Backend.UpdateCustomer(ctx, &model.Customer{
			ID:       spec.CustomerID,
			Billing:  spec.Billing,
			Shipping: spec.Shipping,
		})
		if err != nil {
			log.Warn("updating customer addresses failed", slog.String("error", err.Error()))
		}
	}
}

func buildOrderSpec(customerID int, billing, shipping model.Address, lines []model.CartLine, method *model.ShippingMethod, coupon model.Coupon, notes string) *model.OrderSpec {
	spec := &model.OrderSpec{
		CustomerID:   customerID,
		Billing:      billing,
		Shipping:     shipping,
		LineItems:    make([]model.OrderLine, 0, len(lines)),
		CustomerNote: notes,
	}
	for _, l := range lines {
		spec.LineItems = append(spec.LineItems, model.OrderLine{
			ProductID:   l.ProductID,
			VariationID: l.VariationID,
			Quantity:    l.Quantity,
		})
	}
	if method != nil {
		spec.ShippingLine = &model.ShippingLine{
			MethodID:    method.ID,
			MethodTitle: method.Label,
			Total:       model.FormatAmount(pricing.ShippingCost(*method)),
		}
	}
	if coupon.Applied() && coupon.Code != "" {
		spec.CouponCodes = []string{coupon.Code}
	}
	return spec
}
