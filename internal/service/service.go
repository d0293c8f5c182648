package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockmaster/backend/internal/cache"
	"stockmaster/backend/internal/checkout"
	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/inventory"
	"stockmaster/backend/internal/reconcile"
	"stockmaster/backend/internal/sales"
	"stockmaster/backend/internal/store"
	"stockmaster/backend/internal/xid"
)

const dashboardTopN = 5

// Service is the actor-aware entry point used by the HTTP layer. It records
// an audit trail for every mutation and routes partial commits to
// reconciliation.
type Service struct {
	repo      store.Repository
	ledger    *inventory.Ledger
	engine    *sales.Engine
	checkouts *checkout.Service
	notifier  reconcile.Notifier
	logger    *zap.Logger
	now       func() time.Time
}

type options struct {
	notifier reconcile.Notifier
	logger   *zap.Logger
	now      func() time.Time
	idleTTL  time.Duration
}

type Option func(*options)

func WithNotifier(n reconcile.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithCheckoutIdleTTL(ttl time.Duration) Option {
	return func(o *options) { o.idleTTL = ttl }
}

func New(repo store.Repository, sessions cache.Cache, opts ...Option) *Service {
	o := options{
		notifier: reconcile.NoopNotifier{},
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		idleTTL:  checkout.DefaultIdleTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ledger := inventory.NewLedger(repo,
		inventory.WithClock(o.now),
		inventory.WithLogger(o.logger.Named("inventory")))
	engine := sales.NewEngine(ledger, repo,
		sales.WithClock(o.now),
		sales.WithLogger(o.logger.Named("sales")))

	s := &Service{
		repo:     repo,
		ledger:   ledger,
		engine:   engine,
		notifier: o.notifier,
		logger:   o.logger,
		now:      o.now,
	}
	s.checkouts = checkout.NewService(sessions, checkout.CommitterFunc(s.commit),
		checkout.WithIdleTTL(o.idleTTL),
		checkout.WithClock(o.now),
		checkout.WithLogger(o.logger.Named("checkout")))
	return s
}

func (s *Service) Ledger() *inventory.Ledger {
	return s.ledger
}

func (s *Service) ListProducts(ctx context.Context, filter inventory.Filter) ([]domain.ProductView, error) {
	return s.ledger.List(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.ProductView, error) {
	p, err := s.ledger.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductView{}, err
	}
	return s.ledger.View(p), nil
}

func (s *Service) FindByCode(ctx context.Context, code string) (domain.ProductView, error) {
	p, found, err := s.ledger.FindByCode(ctx, code)
	if err != nil {
		return domain.ProductView{}, err
	}
	if !found {
		return domain.ProductView{}, fmt.Errorf("product with code %q: %w", strings.TrimSpace(code), store.ErrNotFound)
	}
	return s.ledger.View(p), nil
}

func (s *Service) CreateProduct(ctx context.Context, input domain.ProductInput) (domain.ProductView, error) {
	p, err := s.ledger.AddProduct(ctx, input)
	if err != nil {
		return domain.ProductView{}, err
	}
	s.logAudit(ctx, "product_create", "product", p.ID, fmt.Sprintf("code=%s,name=%s,stock=%d", p.Code, p.Name, p.Stock))
	return s.ledger.View(p), nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, input domain.ProductInput) (domain.ProductView, error) {
	p, err := s.ledger.UpdateProduct(ctx, id, input)
	if err != nil {
		return domain.ProductView{}, err
	}
	s.logAudit(ctx, "product_update", "product", p.ID, fmt.Sprintf("code=%s,stock=%d,sell_price=%s", p.Code, p.Stock, p.SellPrice.StringFixed(2)))
	return s.ledger.View(p), nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.ledger.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, id string, delta int) (domain.ProductView, error) {
	p, err := s.ledger.AdjustStock(ctx, id, delta)
	if err != nil {
		return domain.ProductView{}, err
	}
	s.logAudit(ctx, "stock_adjust", "product", p.ID, fmt.Sprintf("delta=%d,stock=%d", delta, p.Stock))
	return s.ledger.View(p), nil
}

// Scan restocks the product carrying code by one unit. An unknown code is
// reported as a miss, not an error.
func (s *Service) Scan(ctx context.Context, code string) (domain.ScanResult, error) {
	code = strings.TrimSpace(code)
	p, found, err := s.ledger.FindByCode(ctx, code)
	if err != nil {
		return domain.ScanResult{}, err
	}
	if !found {
		return domain.ScanResult{Found: false, Code: code}, nil
	}

	p, err = s.ledger.AdjustStock(ctx, p.ID, 1)
	if err != nil {
		return domain.ScanResult{}, err
	}
	s.logAudit(ctx, "stock_restock", "product", p.ID, fmt.Sprintf("code=%s,stock=%d", code, p.Stock))
	pv := s.ledger.View(p)
	return domain.ScanResult{Found: true, Code: code, Product: &pv}, nil
}

func (s *Service) QuoteCart(ctx context.Context, lines []domain.CartLineRequest) (domain.CartQuote, error) {
	cart, err := s.engine.BuildCart(ctx, lines)
	if err != nil {
		return domain.CartQuote{}, err
	}
	return domain.CartQuote{Items: cart.Items, Total: cart.Total()}, nil
}

func (s *Service) OpenCheckout(ctx context.Context, lines []domain.CartLineRequest) (checkout.View, error) {
	cart, err := s.engine.BuildCart(ctx, lines)
	if err != nil {
		return checkout.View{}, err
	}
	return view(s.checkouts.Open(ctx, cart))
}

func (s *Service) GetCheckout(ctx context.Context, id string) (checkout.View, error) {
	return view(s.checkouts.Get(ctx, id))
}

func (s *Service) SubmitCustomer(ctx context.Context, id string, customer domain.CustomerInfo) (checkout.View, error) {
	return view(s.checkouts.SubmitCustomer(ctx, id, customer))
}

func (s *Service) CheckoutBack(ctx context.Context, id string) (checkout.View, error) {
	return view(s.checkouts.Back(ctx, id))
}

func (s *Service) SelectPaymentMethod(ctx context.Context, id string, method domain.PaymentMethod) (checkout.View, error) {
	return view(s.checkouts.SelectMethod(ctx, id, method))
}

func (s *Service) SetPayment(ctx context.Context, id string, input domain.PaymentInputRequest) (checkout.View, error) {
	return view(s.checkouts.SetPayment(ctx, id, input))
}

func (s *Service) ConfirmCheckout(ctx context.Context, id string) (checkout.View, sales.CommitResult, error) {
	m, result, err := s.checkouts.Confirm(ctx, id)
	if err != nil {
		return checkout.View{}, sales.CommitResult{}, err
	}
	return m.View(), result, nil
}

func (s *Service) CancelCheckout(ctx context.Context, id string) (checkout.View, error) {
	m, err := s.checkouts.Cancel(ctx, id)
	if err != nil {
		return checkout.View{}, err
	}
	s.logAudit(ctx, "checkout_cancel", "checkout", id, fmt.Sprintf("lines=%d", len(m.Cart.Items)))
	return m.View(), nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	return s.engine.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, search string, limit int) ([]domain.Sale, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", store.ErrValidation)
	}
	return s.engine.ListSales(ctx, store.SaleFilter{Search: search, Limit: limit})
}

func (s *Service) ListReconciliationFlags(ctx context.Context, limit int) ([]domain.ReconciliationFlag, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListReconciliationFlags(ctx, limit)
}

// ListAuditLogs returns the entries of one UTC day, today when date is
// empty, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	day := domain.DateOf(s.now())
	if strings.TrimSpace(date) != "" {
		parsed, err := domain.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		day = parsed
	}
	from := day.Time()
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

// Dashboard summarises the live catalog and the sale ledger.
func (s *Service) Dashboard(ctx context.Context) (domain.DashboardMetrics, error) {
	products, err := s.ledger.List(ctx, inventory.Filter{})
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	history, err := s.engine.ListSales(ctx, store.SaleFilter{})
	if err != nil {
		return domain.DashboardMetrics{}, err
	}

	metrics := domain.DashboardMetrics{
		TotalProducts: len(products),
		TotalValue:    decimal.Zero,
		TotalRevenue:  decimal.Zero,
		TopCategories: []domain.CategoryStock{},
		TopStockValue: []domain.ProductValue{},
		RecentSales:   []domain.Sale{},
	}

	byCategory := make(map[string]int)
	for _, p := range products {
		metrics.TotalStock += p.Stock
		value := p.BuyPrice.Mul(decimal.NewFromInt(int64(p.Stock)))
		metrics.TotalValue = metrics.TotalValue.Add(value)
		metrics.TopStockValue = append(metrics.TopStockValue, domain.ProductValue{ProductID: p.ID, Name: p.Name, Value: value})
		byCategory[p.Category] += p.Stock

		switch p.Status {
		case domain.StatusActive:
			metrics.ActiveCount++
		case domain.StatusLowStock:
			metrics.LowStockCount++
		case domain.StatusExpired:
			metrics.ExpiredCount++
		case domain.StatusOutOfStock:
			metrics.OutOfStockCount++
		}
	}

	for category, stock := range byCategory {
		metrics.TopCategories = append(metrics.TopCategories, domain.CategoryStock{Category: category, Stock: stock})
	}
	sort.Slice(metrics.TopCategories, func(i, j int) bool {
		a, b := metrics.TopCategories[i], metrics.TopCategories[j]
		if a.Stock != b.Stock {
			return a.Stock > b.Stock
		}
		return a.Category < b.Category
	})
	metrics.TopCategories = metrics.TopCategories[:min(dashboardTopN, len(metrics.TopCategories))]

	sort.SliceStable(metrics.TopStockValue, func(i, j int) bool {
		return metrics.TopStockValue[i].Value.GreaterThan(metrics.TopStockValue[j].Value)
	})
	metrics.TopStockValue = metrics.TopStockValue[:min(dashboardTopN, len(metrics.TopStockValue))]

	for _, sale := range history {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		metrics.SalesCount++
		metrics.TotalRevenue = metrics.TotalRevenue.Add(sale.Total)
	}
	metrics.RecentSales = append(metrics.RecentSales, history[:min(dashboardTopN, len(history))]...)

	return metrics, nil
}

// commit is the checkout committer. Lines left undebited become
// reconciliation flags; failing to record one never undoes the sale.
func (s *Service) commit(ctx context.Context, cart *sales.Cart, customer domain.CustomerInfo, payment domain.PaymentDetails) (sales.CommitResult, error) {
	result, err := s.engine.Commit(ctx, cart, customer, payment)
	if err != nil {
		return sales.CommitResult{}, err
	}

	sale := result.Sale
	s.logAudit(ctx, "sale_commit", "sale", sale.ID,
		fmt.Sprintf("total=%s,method=%s,lines=%d", sale.Total.StringFixed(2), sale.Payment.Method, len(sale.Items)))

	if result.Warning != nil {
		s.flagUnapplied(context.WithoutCancel(ctx), result.Warning)
	}
	return result, nil
}

func (s *Service) flagUnapplied(ctx context.Context, warning *sales.PartialCommitWarning) {
	for _, line := range warning.Lines {
		flag := domain.ReconciliationFlag{
			ID:          xid.New("rec"),
			SaleID:      warning.SaleID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			Reason:      line.Reason,
			CreatedAt:   s.now(),
		}
		if err := s.repo.CreateReconciliationFlag(ctx, flag); err != nil {
			s.logger.Error("record reconciliation flag",
				zap.String("sale_id", flag.SaleID),
				zap.String("product_id", flag.ProductID),
				zap.Error(err))
			continue
		}
		if err := s.notifier.Notify(ctx, flag); err != nil {
			s.logger.Warn("notify reconciliation flag",
				zap.String("flag_id", flag.ID),
				zap.Error(err))
		}
		s.logAudit(ctx, "reconciliation_flag", "sale", flag.SaleID, fmt.Sprintf("product=%s,qty=%d", flag.ProductID, flag.Quantity))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := domain.ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorName:  actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}); err != nil {
		s.logger.Warn("write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}

func view(m *checkout.Machine, err error) (checkout.View, error) {
	if err != nil {
		return checkout.View{}, err
	}
	return m.View(), nil
}
