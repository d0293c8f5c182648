package sales

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/store"
)

var ErrInsufficientPayment = errors.New("insufficient payment")

// SettlePayment returns the payment record for a sale of total. Only the
// fields of the chosen method are kept; cash gets its change computed.
func SettlePayment(input domain.PaymentDetails, total decimal.Decimal) (domain.PaymentDetails, error) {
	if !input.Method.Valid() {
		return domain.PaymentDetails{}, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, input.Method)
	}

	out := domain.PaymentDetails{Method: input.Method, Amount: total}
	switch {
	case input.Method == domain.PaymentCash:
		if input.AmountTendered == nil || input.AmountTendered.LessThan(total) {
			tendered := decimal.Zero
			if input.AmountTendered != nil {
				tendered = *input.AmountTendered
			}
			return domain.PaymentDetails{}, fmt.Errorf("%w: tendered %s is below total %s", ErrInsufficientPayment, tendered.StringFixed(2), total.StringFixed(2))
		}
		tendered := *input.AmountTendered
		change := tendered.Sub(total)
		out.AmountTendered = &tendered
		out.Change = &change
	case input.Method.IsCard():
		lastFour := strings.TrimSpace(input.LastFourDigits)
		if lastFour != "" && !IsFourDigits(lastFour) {
			return domain.PaymentDetails{}, fmt.Errorf("%w: last four digits must be exactly 4 digits", store.ErrValidation)
		}
		out.AuthCode = strings.TrimSpace(input.AuthCode)
		out.LastFourDigits = lastFour
		out.CardBrand = strings.TrimSpace(input.CardBrand)
	default:
		out.Reference = strings.TrimSpace(input.Reference)
	}
	return out, nil
}

// IsFourDigits reports whether value is exactly four ASCII digits.
func IsFourDigits(value string) bool {
	if len(value) != 4 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
