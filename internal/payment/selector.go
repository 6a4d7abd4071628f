// Package payment decides which route an order's payment takes: deferred
// invoice credit, card capture through a payment intent, or manual settlement.
package payment

import (
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/model"
)

// Order metadata keys recorded for invoice-credit orders.
const (
	MetaPaymentTerm    = "_payment_term"
	MetaCreditTermDays = "_credit_term_days"
	MetaInvoiceDueDate = "_invoice_due_date"
)

// Config configures the selector. Zero values fall back to the defaults below.
type Config struct {
	// CardMethods are exact method ids handled by the card processor.
	CardMethods []string
	// CardPrefixes match method ids in the processor's namespace.
	CardPrefixes []string
	// InvoiceMethod and InvoiceTitle replace the method on credit orders.
	InvoiceMethod string
	InvoiceTitle  string
	// CreditTermDays is the invoice due window.
	CreditTermDays int
}

// Default configuration values.
const (
	DefaultInvoiceMethod  = "invoice"
	DefaultInvoiceTitle   = "Invoice (credit)"
	DefaultCreditTermDays = 28
)

var (
	defaultCardMethods  = []string{"stripe", "stripe_cc"}
	defaultCardPrefixes = []string{"stripe_"}
)

// Selector maps a payment method and term to a pathway.
type Selector struct {
	cardMethods   map[string]struct{}
	cardPrefixes  []string
	invoiceMethod string
	invoiceTitle  string
	termDays      int
}

// NewSelector creates a selector, applying defaults for unset fields.
func NewSelector(cfg Config) *Selector {
	methods := cfg.CardMethods
	if len(methods) == 0 {
		methods = defaultCardMethods
	}
	prefixes := cfg.CardPrefixes
	if len(prefixes) == 0 {
		prefixes = defaultCardPrefixes
	}

	s := &Selector{
		cardMethods:   make(map[string]struct{}, len(methods)),
		cardPrefixes:  prefixes,
		invoiceMethod: withDefault(cfg.InvoiceMethod, DefaultInvoiceMethod),
		invoiceTitle:  withDefault(cfg.InvoiceTitle, DefaultInvoiceTitle),
		termDays:      cfg.CreditTermDays,
	}
	if s.termDays <= 0 {
		s.termDays = DefaultCreditTermDays
	}
	for _, m := range methods {
		s.cardMethods[m] = struct{}{}
	}
	return s
}

// Select returns the pathway for method and term.
// Credit always wins over the method choice.
func (s *Selector) Select(method string, term model.PaymentTerm) model.Pathway {
	if term.Normalize() == model.TermCredit {
		return model.PathwayInvoiceCredit
	}
	if s.IsCardMethod(method) {
		return model.PathwayCardCapture
	}
	return model.PathwayManual
}

// IsCardMethod reports whether method belongs to the card processor family.
func (s *Selector) IsCardMethod(method string) bool {
	method = strings.TrimSpace(method)
	if method == "" {
		return false
	}
	if _, ok := s.cardMethods[method]; ok {
		return true
	}
	for _, p := range s.cardPrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// EffectivePayment is what gets recorded on the order.
type EffectivePayment struct {
	MethodID string        `json:"method_id"`
	Title    string        `json:"title"`
	Pathway  model.Pathway `json:"pathway"`
}

// Effective applies the credit override: on credit terms the invoice
// method and title replace whatever the user picked.
func (s *Selector) Effective(method, title string, term model.PaymentTerm) EffectivePayment {
	pathway := s.Select(method, term)
	if pathway == model.PathwayInvoiceCredit {
		return EffectivePayment{MethodID: s.invoiceMethod, Title: s.invoiceTitle, Pathway: pathway}
	}
	if title == "" {
		title = method
	}
	return EffectivePayment{MethodID: method, Title: title, Pathway: pathway}
}

// TermDays returns the configured credit window.
func (s *Selector) TermDays() int {
	return s.termDays
}

// DueDate returns issued plus the credit window, as a calendar date.
func (s *Selector) DueDate(issued time.Time) time.Time {
	y, m, d := issued.Date()
	return time.Date(y, m, d+s.termDays, 0, 0, 0, 0, issued.Location())
}

// CreditMetadata returns the bookkeeping entries for an invoice-credit order.
func (s *Selector) CreditMetadata(issued time.Time) []model.MetaData {
	return []model.MetaData{
		{Key: MetaPaymentTerm, Value: string(model.TermCredit)},
		{Key: MetaCreditTermDays, Value: strconv.Itoa(s.termDays)},
		{Key: MetaInvoiceDueDate, Value: s.DueDate(issued).Format(time.DateOnly)},
	}
}

func withDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
