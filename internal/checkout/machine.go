package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/sales"
	"stockmaster/backend/internal/store"
)

type State string

const (
	StateCollectingCustomer State = "collecting_customer"
	StateCollectingPayment  State = "collecting_payment"
	StateCommitted          State = "committed"
	StateCancelled          State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCommitted || s == StateCancelled
}

var (
	ErrInvalidTransition = errors.New("invalid checkout transition")
	ErrSessionBusy       = errors.New("checkout session is already being confirmed")
	ErrMethodRequired    = fmt.Errorf("%w: payment method is required", store.ErrValidation)
)

// Committer turns a cart into a sale.
type Committer interface {
	Commit(ctx context.Context, cart *sales.Cart, customer domain.CustomerInfo, payment domain.PaymentDetails) (sales.CommitResult, error)
}

type CommitterFunc func(ctx context.Context, cart *sales.Cart, customer domain.CustomerInfo, payment domain.PaymentDetails) (sales.CommitResult, error)

func (f CommitterFunc) Commit(ctx context.Context, cart *sales.Cart, customer domain.CustomerInfo, payment domain.PaymentDetails) (sales.CommitResult, error) {
	return f(ctx, cart, customer, payment)
}

// Machine walks one cart through customer capture and payment capture to a
// committed sale. Only Committed and Cancelled are terminal.
type Machine struct {
	ID        string                      `json:"id"`
	State     State                       `json:"state"`
	Cart      *sales.Cart                 `json:"cart"`
	Customer  domain.CustomerInfo         `json:"customer"`
	Payment   domain.PaymentDetails       `json:"payment"`
	SaleID    string                      `json:"sale_id,omitempty"`
	Warning   *sales.PartialCommitWarning `json:"warning,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

func NewMachine(id string, cart *sales.Cart, now time.Time) (*Machine, error) {
	if cart.IsEmpty() {
		return nil, sales.ErrEmptyCart
	}
	return &Machine{
		ID:        id,
		State:     StateCollectingCustomer,
		Cart:      cart.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (m *Machine) Total() decimal.Decimal {
	return m.Cart.Total()
}

// Change is the cash change for the amount tendered so far. It is nil for
// other methods or when nothing has been tendered.
func (m *Machine) Change() *decimal.Decimal {
	if m.Payment.Method != domain.PaymentCash || m.Payment.AmountTendered == nil {
		return nil
	}
	change := m.Payment.AmountTendered.Sub(m.Total())
	return &change
}

func (m *Machine) SubmitCustomer(customer domain.CustomerInfo) error {
	if err := m.expect(StateCollectingCustomer); err != nil {
		return err
	}
	customer.Name = strings.TrimSpace(customer.Name)
	customer.TaxID = strings.TrimSpace(customer.TaxID)
	m.Customer = customer
	m.State = StateCollectingPayment
	return nil
}

// Back returns to customer capture. Customer data is kept.
func (m *Machine) Back() error {
	if err := m.expect(StateCollectingPayment); err != nil {
		return err
	}
	m.State = StateCollectingCustomer
	return nil
}

// SelectMethod chooses the payment method. Switching to a different method
// clears the fields collected for the previous one.
func (m *Machine) SelectMethod(method domain.PaymentMethod) error {
	if err := m.expect(StateCollectingPayment); err != nil {
		return err
	}
	if !method.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, method)
	}
	if m.Payment.Method != method {
		m.Payment = domain.PaymentDetails{Method: method}
	}
	return nil
}

// SetPaymentInput routes input to the setter of the selected method. Fields
// that belong to other methods are ignored.
func (m *Machine) SetPaymentInput(input domain.PaymentInputRequest) error {
	switch {
	case m.Payment.Method == "":
		if err := m.expect(StateCollectingPayment); err != nil {
			return err
		}
		return ErrMethodRequired
	case m.Payment.Method == domain.PaymentCash:
		if input.AmountTendered == nil {
			return m.expect(StateCollectingPayment)
		}
		return m.SetCashTendered(*input.AmountTendered)
	case m.Payment.Method.IsCard():
		return m.SetCardDetails(input.AuthCode, input.LastFourDigits, input.CardBrand)
	default:
		return m.SetReference(input.Reference)
	}
}

func (m *Machine) SetCashTendered(amount decimal.Decimal) error {
	if err := m.expectMethod(func(method domain.PaymentMethod) bool { return method == domain.PaymentCash }); err != nil {
		return err
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: amount tendered must not be negative", store.ErrValidation)
	}
	m.Payment.AmountTendered = &amount
	return nil
}

func (m *Machine) SetCardDetails(authCode, lastFour, brand string) error {
	if err := m.expectMethod(domain.PaymentMethod.IsCard); err != nil {
		return err
	}
	lastFour = strings.TrimSpace(lastFour)
	if lastFour != "" && !sales.IsFourDigits(lastFour) {
		return fmt.Errorf("%w: last four digits must be exactly 4 digits", store.ErrValidation)
	}
	m.Payment.AuthCode = strings.TrimSpace(authCode)
	m.Payment.LastFourDigits = lastFour
	m.Payment.CardBrand = strings.TrimSpace(brand)
	return nil
}

func (m *Machine) SetReference(reference string) error {
	err := m.expectMethod(func(method domain.PaymentMethod) bool {
		return method.Valid() && method != domain.PaymentCash && !method.IsCard()
	})
	if err != nil {
		return err
	}
	m.Payment.Reference = strings.TrimSpace(reference)
	return nil
}

// Ready reports why the checkout cannot be confirmed yet, or nil.
func (m *Machine) Ready() error {
	if err := m.expect(StateCollectingPayment); err != nil {
		return err
	}
	if m.Payment.Method == "" {
		return ErrMethodRequired
	}
	_, err := sales.SettlePayment(m.Payment, m.Total())
	return err
}

// Confirm commits the sale. On failure the machine stays in payment capture.
func (m *Machine) Confirm(ctx context.Context, committer Committer) (sales.CommitResult, error) {
	if err := m.Ready(); err != nil {
		return sales.CommitResult{}, err
	}
	result, err := committer.Commit(ctx, m.Cart, m.Customer, m.Payment)
	if err != nil {
		return sales.CommitResult{}, err
	}
	m.State = StateCommitted
	m.SaleID = result.Sale.ID
	m.Warning = result.Warning
	return result, nil
}

// Cancel abandons the checkout. The cart is left as it was.
func (m *Machine) Cancel() error {
	if m.State.Terminal() {
		return fmt.Errorf("%w: checkout already %s", ErrInvalidTransition, m.State)
	}
	m.State = StateCancelled
	return nil
}

func (m *Machine) expect(state State) error {
	if m.State != state {
		return fmt.Errorf("%w: checkout is %s, expected %s", ErrInvalidTransition, m.State, state)
	}
	return nil
}

func (m *Machine) expectMethod(accepts func(domain.PaymentMethod) bool) error {
	if err := m.expect(StateCollectingPayment); err != nil {
		return err
	}
	if m.Payment.Method == "" {
		return ErrMethodRequired
	}
	if !accepts(m.Payment.Method) {
		return fmt.Errorf("%w: field does not apply to %s payments", store.ErrValidation, m.Payment.Method)
	}
	return nil
}

// View is the client-facing snapshot of a session.
type View struct {
	*Machine
	Total  decimal.Decimal  `json:"total"`
	Change *decimal.Decimal `json:"change,omitempty"`
}

func (m *Machine) View() View {
	return View{Machine: m, Total: m.Total(), Change: m.Change()}
}
