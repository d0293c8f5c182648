package inventory

import (
	"time"

	"stockmaster/backend/internal/domain"
)

// StatusOf derives the display status of p on the UTC calendar date of now.
// Rules are checked in order: out of stock, expired, low stock, active.
func StatusOf(p domain.Product, now time.Time) domain.ProductStatus {
	if p.Stock == 0 {
		return domain.StatusOutOfStock
	}
	if p.ExpiryDate != nil && p.ExpiryDate.Before(domain.DateOf(now)) {
		return domain.StatusExpired
	}
	if p.Stock <= p.MinStock {
		return domain.StatusLowStock
	}
	return domain.StatusActive
}

func View(p domain.Product, now time.Time) domain.ProductView {
	return domain.ProductView{Product: p, Status: StatusOf(p, now)}
}
