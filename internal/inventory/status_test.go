package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockmaster/backend/internal/domain"
)

func TestStatusOfPrecedence(t *testing.T) {
	now := time.Date(2026, time.June, 10, 15, 0, 0, 0, time.UTC)
	yesterday := domain.NewDate(2026, time.June, 9)
	today := domain.NewDate(2026, time.June, 10)

	cases := []struct {
		name    string
		product domain.Product
		want    domain.ProductStatus
	}{
		{"zero stock wins over expiry", domain.Product{Stock: 0, MinStock: 5, ExpiryDate: &yesterday}, domain.StatusOutOfStock},
		{"expired wins over low stock", domain.Product{Stock: 2, MinStock: 5, ExpiryDate: &yesterday}, domain.StatusExpired},
		{"expiring today is not expired", domain.Product{Stock: 10, MinStock: 5, ExpiryDate: &today}, domain.StatusActive},
		{"stock equal to minimum is low", domain.Product{Stock: 5, MinStock: 5}, domain.StatusLowStock},
		{"above minimum is active", domain.Product{Stock: 6, MinStock: 5}, domain.StatusActive},
		{"zero minimum with one unit", domain.Product{Stock: 1, MinStock: 0}, domain.StatusActive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StatusOf(tc.product, now))
		})
	}
}

func TestStatusOfUsesUTCCalendarDate(t *testing.T) {
	expiry := domain.NewDate(2026, time.June, 9)
	p := domain.Product{Stock: 3, ExpiryDate: &expiry}

	lateOnNinth := time.Date(2026, time.June, 9, 23, 59, 0, 0, time.UTC)
	require.Equal(t, domain.StatusActive, StatusOf(p, lateOnNinth))

	buenosAires := time.FixedZone("ART", -3*60*60)
	tenthUTC := time.Date(2026, time.June, 9, 22, 0, 0, 0, buenosAires)
	require.Equal(t, domain.StatusExpired, StatusOf(p, tenthUTC))
}
