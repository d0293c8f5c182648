package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/inventory"
	"stockmaster/backend/internal/store"
	"stockmaster/backend/internal/xid"
)

const DefaultCustomerName = "Consumidor Final"

var ErrEmptyCart = fmt.Errorf("%w: cart is empty", store.ErrValidation)

// UnappliedDebit is a sale line whose stock was not debited.
type UnappliedDebit struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
}

// PartialCommitWarning accompanies a recorded sale when some of its debits
// could not be applied. The sale itself stands.
type PartialCommitWarning struct {
	SaleID string           `json:"sale_id"`
	Lines  []UnappliedDebit `json:"lines"`
}

func (w *PartialCommitWarning) Error() string {
	ids := make([]string, 0, len(w.Lines))
	for _, line := range w.Lines {
		ids = append(ids, line.ProductID)
	}
	return fmt.Sprintf("sale %s recorded but stock not debited for %s", w.SaleID, strings.Join(ids, ", "))
}

type CommitResult struct {
	Sale    domain.Sale           `json:"sale"`
	Warning *PartialCommitWarning `json:"warning,omitempty"`
}

// Engine owns the append-only sale ledger and turns carts into sales.
type Engine struct {
	ledger *inventory.Ledger
	repo   store.Repository
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(ledger *inventory.Ledger, repo store.Repository, opts ...Option) *Engine {
	e := &Engine{
		ledger: ledger,
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) StartCart() *Cart {
	return NewCart()
}

func (e *Engine) AddLine(ctx context.Context, cart *Cart, productID string, qty int) error {
	p, err := e.ledger.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	cart.Add(p, qty)
	return nil
}

func (e *Engine) SetLineQuantity(ctx context.Context, cart *Cart, productID string, qty int) error {
	if _, ok := cart.Line(productID); !ok {
		return nil
	}
	p, err := e.ledger.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	cart.SetQuantity(productID, qty, p.Stock)
	return nil
}

func (e *Engine) RemoveLine(cart *Cart, productID string) {
	cart.Remove(productID)
}

func (e *Engine) Total(cart *Cart) decimal.Decimal {
	return cart.Total()
}

// BuildCart prices lines against the current catalog, applying the same caps
// as AddLine.
func (e *Engine) BuildCart(ctx context.Context, lines []domain.CartLineRequest) (*Cart, error) {
	cart := e.StartCart()
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return nil, fmt.Errorf("%w: product_id is required", store.ErrValidation)
		}
		if err := e.AddLine(ctx, cart, line.ProductID, line.Quantity); err != nil {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, err)
		}
	}
	return cart, nil
}

// Commit records the cart as a completed sale and debits stock for every
// line. Stock of all cart products stays locked until the last debit.
// Lines whose product no longer exists are reported in the warning.
func (e *Engine) Commit(ctx context.Context, cart *Cart, customer domain.CustomerInfo, payment domain.PaymentDetails) (CommitResult, error) {
	if cart.IsEmpty() {
		return CommitResult{}, ErrEmptyCart
	}

	items, total, err := normalizeLines(cart.Items)
	if err != nil {
		return CommitResult{}, err
	}
	settled, err := SettlePayment(payment, total)
	if err != nil {
		return CommitResult{}, err
	}

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		customer.Name = DefaultCustomerName
	}

	sale := domain.Sale{
		ID:        xid.New("sale"),
		CreatedAt: e.now().Truncate(time.Microsecond),
		Customer:  customer,
		Items:     items,
		Total:     total,
		Status:    domain.SaleCompleted,
		Payment:   settled,
	}
	if actor, ok := domain.ActorFromContext(ctx); ok {
		sale.RecordedBy = actor.Username
	}

	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}

	var unapplied []UnappliedDebit
	err = e.ledger.Transact(ctx, productIDs, func(ctx context.Context, tx *inventory.StockTx) error {
		unapplied = unapplied[:0]
		for productID, qty := range requiredStock(items) {
			p, err := tx.Product(ctx, productID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if p.Stock < qty {
				return fmt.Errorf("%w: %s has %d units, cart needs %d", store.ErrInsufficientStock, p.Name, p.Stock, qty)
			}
		}

		if err := tx.Tx().InsertSale(ctx, sale); err != nil {
			return fmt.Errorf("record sale: %w", err)
		}

		for _, item := range items {
			if _, err := tx.AdjustStock(ctx, item.ProductID, -item.Quantity); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					unapplied = append(unapplied, UnappliedDebit{
						ProductID:   item.ProductID,
						ProductName: item.ProductName,
						Quantity:    item.Quantity,
						Reason:      "product no longer exists",
					})
					continue
				}
				return fmt.Errorf("debit %s: %w", item.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	result := CommitResult{Sale: sale}
	if len(unapplied) > 0 {
		result.Warning = &PartialCommitWarning{SaleID: sale.ID, Lines: unapplied}
		e.logger.Warn("sale recorded with unapplied stock debits",
			zap.String("sale_id", sale.ID),
			zap.Int("unapplied_lines", len(unapplied)),
			zap.Error(result.Warning))
	}
	return result, nil
}

func (e *Engine) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := e.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales returns sales newest first, optionally filtered by a customer
// name or sale id fragment.
func (e *Engine) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	return e.repo.ListSales(ctx, filter)
}

func normalizeLines(lines []domain.SaleItem) ([]domain.SaleItem, decimal.Decimal, error) {
	items := make([]domain.SaleItem, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, decimal.Zero, fmt.Errorf("%w: cart line without product", store.ErrValidation)
		}
		if line.Quantity < 1 {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity of %s must be at least 1", store.ErrValidation, line.ProductName)
		}
		if line.UnitPrice.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: unit price of %s must not be negative", store.ErrValidation, line.ProductName)
		}
		line.Subtotal = lineSubtotal(line)
		total = total.Add(line.Subtotal)
		items = append(items, line)
	}
	return items, total, nil
}

func requiredStock(items []domain.SaleItem) map[string]int {
	required := make(map[string]int, len(items))
	for _, item := range items {
		required[item.ProductID] += item.Quantity
	}
	return required
}
