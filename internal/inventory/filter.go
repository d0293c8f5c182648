package inventory

import (
	"sort"
	"strings"
	"time"

	"stockmaster/backend/internal/domain"
)

const (
	SortByName   = "name"
	SortByStock  = "stock"
	SortByExpiry = "expiry_date"
)

// Filter narrows a product listing. Empty fields and the status "all" match
// everything.
type Filter struct {
	Search   string
	Category string
	Status   string
	SortBy   string
}

func (f Filter) match(view domain.ProductView) bool {
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		if !strings.Contains(strings.ToLower(view.Name), term) &&
			!strings.Contains(strings.ToLower(view.Category), term) &&
			!strings.Contains(strings.ToLower(view.Code), term) {
			return false
		}
	}
	if category := strings.TrimSpace(f.Category); category != "" && !strings.EqualFold(category, view.Category) {
		return false
	}
	if status := strings.TrimSpace(f.Status); status != "" && status != "all" && domain.ProductStatus(status) != view.Status {
		return false
	}
	return true
}

func applyFilter(products []domain.Product, f Filter, now time.Time) []domain.ProductView {
	views := make([]domain.ProductView, 0, len(products))
	for _, p := range products {
		view := View(p, now)
		if f.match(view) {
			views = append(views, view)
		}
	}

	switch f.SortBy {
	case SortByStock:
		sort.SliceStable(views, func(i, j int) bool {
			return views[i].Stock < views[j].Stock
		})
	case SortByExpiry:
		sort.SliceStable(views, func(i, j int) bool {
			a, b := views[i].ExpiryDate, views[j].ExpiryDate
			if a == nil || b == nil {
				return a != nil && b == nil
			}
			return a.Before(*b)
		})
	default:
		sort.SliceStable(views, func(i, j int) bool {
			return strings.ToLower(views[i].Name) < strings.ToLower(views[j].Name)
		})
	}
	return views
}
