package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/store"
	"stockmaster/backend/internal/xid"
)

// Ledger is the only writer of product stock. Mutations of a single product
// are serialized by a per-product lock.
type Ledger struct {
	repo     store.Repository
	locks    *keyedMutex
	validate *validator.Validate
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLedger(repo store.Repository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:     repo,
		locks:    newKeyedMutex(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Now() time.Time {
	return l.now()
}

// StatusOf derives the status of p against the ledger clock.
func (l *Ledger) StatusOf(p domain.Product) domain.ProductStatus {
	return StatusOf(p, l.now())
}

func (l *Ledger) View(p domain.Product) domain.ProductView {
	return View(p, l.now())
}

func (l *Ledger) AddProduct(ctx context.Context, input domain.ProductInput) (domain.Product, error) {
	input = normalizeInput(input)
	if err := l.validateInput(input); err != nil {
		return domain.Product{}, err
	}

	if _, err := l.repo.FindProductByCode(ctx, input.Code); err == nil {
		return domain.Product{}, store.ErrDuplicateCode
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, err
	}

	now := l.now().Truncate(time.Microsecond)
	product := applyInput(domain.Product{
		ID:        xid.New("prd"),
		CreatedAt: now,
		UpdatedAt: now,
	}, input)

	created, err := l.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (l *Ledger) UpdateProduct(ctx context.Context, id string, input domain.ProductInput) (domain.Product, error) {
	input = normalizeInput(input)
	if err := l.validateInput(input); err != nil {
		return domain.Product{}, err
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	existing, err := l.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	if other, err := l.repo.FindProductByCode(ctx, input.Code); err == nil && other.ID != id {
		return domain.Product{}, store.ErrDuplicateCode
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, err
	}

	updated := applyInput(*existing, input)
	updated.UpdatedAt = domain.NextUpdateStamp(existing.UpdatedAt, l.now())

	saved, err := l.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

// DeleteProduct removes the product from every read path. Its code becomes
// free for reuse and past sales keep their snapshots.
func (l *Ledger) DeleteProduct(ctx context.Context, id string) error {
	unlock := l.locks.Lock(id)
	defer unlock()

	return l.repo.DeleteProduct(ctx, id, l.now())
}

func (l *Ledger) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := l.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

// FindByCode reports whether a live product carries code. Absence is not an
// error.
func (l *Ledger) FindByCode(ctx context.Context, code string) (domain.Product, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, false, fmt.Errorf("%w: code is required", store.ErrValidation)
	}
	p, err := l.repo.FindProductByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, err
	}
	return *p, true, nil
}

// AdjustStock adds delta to the product's stock. A result below zero is
// clamped to zero.
func (l *Ledger) AdjustStock(ctx context.Context, id string, delta int) (domain.Product, error) {
	var adjusted domain.Product
	err := l.Transact(ctx, []string{id}, func(ctx context.Context, tx *StockTx) error {
		p, err := tx.AdjustStock(ctx, id, delta)
		if err != nil {
			return err
		}
		adjusted = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return adjusted, nil
}

// RestockByCode adds one unit to the product scanned with code.
func (l *Ledger) RestockByCode(ctx context.Context, code string) (domain.Product, error) {
	p, found, err := l.FindByCode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	if !found {
		return domain.Product{}, store.ErrNotFound
	}
	return l.AdjustStock(ctx, p.ID, 1)
}

func (l *Ledger) List(ctx context.Context, filter Filter) ([]domain.ProductView, error) {
	products, err := l.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return applyFilter(products, filter, l.now()), nil
}

// Transact locks productIDs for the duration of fn and runs it inside one
// store transaction. Stock changes through tx are limited to those products.
func (l *Ledger) Transact(ctx context.Context, productIDs []string, fn func(ctx context.Context, tx *StockTx) error) error {
	unlock := l.locks.Lock(productIDs...)
	defer unlock()

	locked := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		locked[id] = struct{}{}
	}

	return l.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &StockTx{ledger: l, tx: tx, locked: locked, at: l.now()})
	})
}

type StockTx struct {
	ledger *Ledger
	tx     store.Tx
	locked map[string]struct{}
	at     time.Time
}

func (t *StockTx) Product(ctx context.Context, id string) (domain.Product, error) {
	if err := t.ensureLocked(id); err != nil {
		return domain.Product{}, err
	}
	p, err := t.tx.GetProductForUpdate(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (t *StockTx) AdjustStock(ctx context.Context, id string, delta int) (domain.Product, error) {
	p, err := t.Product(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	next := p.Stock + delta
	if next < 0 {
		next = 0
	}
	saved, err := t.tx.SetStock(ctx, id, next, t.at)
	if err != nil {
		return domain.Product{}, err
	}
	t.ledger.logger.Debug("stock adjusted",
		zap.String("product_id", id),
		zap.Int("delta", delta),
		zap.Int("before", p.Stock),
		zap.Int("after", saved.Stock))
	return *saved, nil
}

// Tx exposes the underlying store transaction for writes that must commit
// together with the stock changes.
func (t *StockTx) Tx() store.Tx {
	return t.tx
}

func (t *StockTx) ensureLocked(id string) error {
	if _, ok := t.locked[id]; !ok {
		return fmt.Errorf("product %s is not locked by this transaction", id)
	}
	return nil
}

func normalizeInput(input domain.ProductInput) domain.ProductInput {
	input.Name = strings.TrimSpace(input.Name)
	input.Code = strings.TrimSpace(input.Code)
	input.Category = strings.TrimSpace(input.Category)
	input.Type = strings.TrimSpace(input.Type)
	input.Brand = strings.TrimSpace(input.Brand)
	input.Supplier = strings.TrimSpace(input.Supplier)
	return input
}

func (l *Ledger) validateInput(input domain.ProductInput) error {
	if err := l.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				switch fe.Tag() {
				case "required":
					details = append(details, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
				case "gte":
					details = append(details, fmt.Sprintf("%s must not be negative", strings.ToLower(fe.Field())))
				default:
					details = append(details, fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field())))
				}
			}
			return fmt.Errorf("%w: %s", store.ErrValidation, strings.Join(details, ", "))
		}
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if input.BuyPrice.IsNegative() || input.SellPrice.IsNegative() {
		return fmt.Errorf("%w: prices must not be negative", store.ErrValidation)
	}
	return nil
}

func applyInput(p domain.Product, input domain.ProductInput) domain.Product {
	p.Name = input.Name
	p.Code = input.Code
	p.Category = input.Category
	p.Type = input.Type
	p.Brand = input.Brand
	p.Supplier = input.Supplier
	p.Stock = input.Stock
	p.MinStock = input.MinStock
	p.BuyPrice = input.BuyPrice
	p.SellPrice = input.SellPrice
	p.ExpiryDate = nil
	if input.ExpiryDate != nil {
		d := *input.ExpiryDate
		p.ExpiryDate = &d
	}
	return p
}
