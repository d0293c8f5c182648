package sales

import (
	"github.com/shopspring/decimal"

	"stockmaster/backend/internal/domain"
)

// Cart is an ordered list of sale lines held by the caller until commit. Each
// line freezes the product name and sell price seen when it was added.
type Cart struct {
	Items []domain.SaleItem `json:"items"`
}

func NewCart() *Cart {
	return &Cart{Items: []domain.SaleItem{}}
}

// Add puts qty units of p in the cart, merging with an existing line. The
// line never exceeds p.Stock; the excess is dropped. It reports whether the
// cart changed.
func (c *Cart) Add(p domain.Product, qty int) bool {
	if qty < 1 {
		qty = 1
	}
	if p.Stock <= 0 {
		return false
	}

	for i := range c.Items {
		if c.Items[i].ProductID != p.ID {
			continue
		}
		next := min(c.Items[i].Quantity+qty, p.Stock)
		if next <= c.Items[i].Quantity {
			return false
		}
		c.Items[i].Quantity = next
		c.Items[i].Subtotal = lineSubtotal(c.Items[i])
		return true
	}

	item := domain.SaleItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    min(qty, p.Stock),
		UnitPrice:   p.SellPrice,
	}
	item.Subtotal = lineSubtotal(item)
	c.Items = append(c.Items, item)
	return true
}

// SetQuantity clamps qty to [1, available] and applies it to the line for
// productID, if present.
func (c *Cart) SetQuantity(productID string, qty int, available int) bool {
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		qty = max(min(qty, available), 1)
		c.Items[i].Quantity = qty
		c.Items[i].Subtotal = lineSubtotal(c.Items[i])
		return true
	}
	return false
}

func (c *Cart) Remove(productID string) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cart) Line(productID string) (domain.SaleItem, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return domain.SaleItem{}, false
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Total is recomputed from unit price and quantity on every call.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}
	for _, item := range c.Items {
		total = total.Add(lineSubtotal(item))
	}
	return total
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return NewCart()
	}
	return &Cart{Items: append([]domain.SaleItem{}, c.Items...)}
}

func lineSubtotal(item domain.SaleItem) decimal.Decimal {
	return item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
}
