package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockmaster/backend/internal/cache"
	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/store"
	"stockmaster/backend/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	flags []domain.ReconciliationFlag
}

func (n *recordingNotifier) Notify(_ context.Context, flag domain.ReconciliationFlag) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.flags = append(n.flags, flag)
	return nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingNotifier) {
	t.Helper()
	repo := memory.New()
	notifier := &recordingNotifier{}
	svc := New(repo, cache.NewMemoryCache(),
		WithNotifier(notifier),
		WithClock(func() time.Time { return fixedNow }))
	return svc, repo, notifier
}

func adminCtx() context.Context {
	return domain.WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func mustCreate(t *testing.T, svc *Service, input domain.ProductInput) domain.ProductView {
	t.Helper()
	p, err := svc.CreateProduct(adminCtx(), input)
	if err != nil {
		t.Fatalf("create product %s: %v", input.Code, err)
	}
	return p
}

func sellAll(t *testing.T, svc *Service, lines []domain.CartLineRequest, tendered string) domain.Sale {
	t.Helper()
	ctx := adminCtx()
	chk, err := svc.OpenCheckout(ctx, lines)
	if err != nil {
		t.Fatalf("open checkout: %v", err)
	}
	if _, err := svc.SubmitCustomer(ctx, chk.ID, domain.CustomerInfo{Name: "Marta"}); err != nil {
		t.Fatalf("submit customer: %v", err)
	}
	if _, err := svc.SelectPaymentMethod(ctx, chk.ID, domain.PaymentCash); err != nil {
		t.Fatalf("select method: %v", err)
	}
	amount := decimal.RequireFromString(tendered)
	if _, err := svc.SetPayment(ctx, chk.ID, domain.PaymentInputRequest{AmountTendered: &amount}); err != nil {
		t.Fatalf("set payment: %v", err)
	}
	done, result, err := svc.ConfirmCheckout(ctx, chk.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.SaleID != result.Sale.ID {
		t.Fatalf("expected session to point at sale %s, got %s", result.Sale.ID, done.SaleID)
	}
	return result.Sale
}

func auditActions(t *testing.T, svc *Service) map[string]int {
	t.Helper()
	logs, err := svc.ListAuditLogs(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	actions := make(map[string]int)
	for _, entry := range logs {
		actions[entry.Action]++
	}
	return actions
}

func TestProductMutationsAreAudited(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := adminCtx()

	p := mustCreate(t, svc, domain.ProductInput{Name: "Yerba", Code: "YRB", Stock: 4, MinStock: 1})
	input := domain.ProductInput{Name: "Yerba 1kg", Code: "YRB", Stock: 6, MinStock: 1}
	if _, err := svc.UpdateProduct(ctx, p.ID, input); err != nil {
		t.Fatalf("update: %v", err)
	}
	adjusted, err := svc.AdjustStock(ctx, p.ID, -10)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adjusted.Stock != 0 || adjusted.Status != domain.StatusOutOfStock {
		t.Fatalf("expected clamped out of stock product, got stock=%d status=%s", adjusted.Stock, adjusted.Status)
	}
	if err := svc.DeleteProduct(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	logs, err := svc.ListAuditLogs(context.Background(), "2026-03-10", 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 4 {
		t.Fatalf("expected 4 audit entries, got %d", len(logs))
	}
	if logs[0].Action != "product_delete" || logs[0].ActorName != "admin" {
		t.Fatalf("unexpected newest audit entry: %+v", logs[0])
	}

	other, err := svc.ListAuditLogs(context.Background(), "2026-03-09", 10)
	if err != nil {
		t.Fatalf("list audit logs for previous day: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no entries on previous day, got %d", len(other))
	}
	if _, err := svc.ListAuditLogs(context.Background(), "10/03/2026", 10); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
}

func TestScanRestocksKnownCodeAndReportsMiss(t *testing.T) {
	svc, _, _ := newTestService(t)
	p := mustCreate(t, svc, domain.ProductInput{Name: "Pan", Code: "779100", Stock: 2})

	hit, err := svc.Scan(adminCtx(), " 779100 ")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !hit.Found || hit.Product == nil || hit.Product.Stock != 3 {
		t.Fatalf("expected restock to 3, got %+v", hit)
	}

	miss, err := svc.Scan(adminCtx(), "000000")
	if err != nil {
		t.Fatalf("scan miss: %v", err)
	}
	if miss.Found || miss.Code != "000000" {
		t.Fatalf("expected miss for unknown code, got %+v", miss)
	}

	if _, err := svc.Scan(adminCtx(), "  "); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for blank code, got %v", err)
	}
	if _, err := svc.FindByCode(adminCtx(), "000000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	found, err := svc.FindByCode(adminCtx(), "779100")
	if err != nil || found.ID != p.ID {
		t.Fatalf("expected to find %s, got %+v err=%v", p.ID, found, err)
	}

	if auditActions(t, svc)["stock_restock"] != 1 {
		t.Fatalf("expected one restock audit entry")
	}
}

func TestCheckoutCommitsSaleAndAudits(t *testing.T) {
	svc, _, notifier := newTestService(t)
	p := mustCreate(t, svc, domain.ProductInput{Name: "Queso", Code: "QSO", Stock: 5, SellPrice: decimal.NewFromInt(300)})

	quote, err := svc.QuoteCart(adminCtx(), []domain.CartLineRequest{{ProductID: p.ID, Quantity: 9}})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Items[0].Quantity != 5 || !quote.Total.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected quote capped at stock, got %+v", quote)
	}

	sale := sellAll(t, svc, []domain.CartLineRequest{{ProductID: p.ID, Quantity: 2}}, "1000")
	if sale.RecordedBy != "admin" || sale.Customer.Name != "Marta" {
		t.Fatalf("unexpected sale metadata: %+v", sale)
	}
	if !sale.Payment.Change.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected change 400, got %s", sale.Payment.Change)
	}

	got, err := svc.GetProduct(adminCtx(), p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 3 {
		t.Fatalf("expected stock 3 after sale, got %d", got.Stock)
	}

	history, err := svc.ListSales(adminCtx(), "marta", 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one sale in history, got %d err=%v", len(history), err)
	}
	if auditActions(t, svc)["sale_commit"] != 1 {
		t.Fatalf("expected sale commit audit entry")
	}
	if len(notifier.flags) != 0 {
		t.Fatalf("expected no reconciliation flags")
	}
}

func TestPartialCommitRaisesReconciliationFlag(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := adminCtx()
	kept := mustCreate(t, svc, domain.ProductInput{Name: "Agua", Code: "AGU", Stock: 3, SellPrice: decimal.NewFromInt(50)})
	gone := mustCreate(t, svc, domain.ProductInput{Name: "Jugo", Code: "JGO", Stock: 3, SellPrice: decimal.NewFromInt(70)})

	chk, err := svc.OpenCheckout(ctx, []domain.CartLineRequest{
		{ProductID: kept.ID, Quantity: 1},
		{ProductID: gone.ID, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("open checkout: %v", err)
	}
	if err := svc.DeleteProduct(ctx, gone.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.SubmitCustomer(ctx, chk.ID, domain.CustomerInfo{}); err != nil {
		t.Fatalf("submit customer: %v", err)
	}
	if _, err := svc.SelectPaymentMethod(ctx, chk.ID, domain.PaymentTransfer); err != nil {
		t.Fatalf("select method: %v", err)
	}

	_, result, err := svc.ConfirmCheckout(ctx, chk.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Warning == nil || len(result.Warning.Lines) != 1 || result.Warning.Lines[0].ProductID != gone.ID {
		t.Fatalf("expected warning for %s, got %+v", gone.ID, result.Warning)
	}
	if !result.Sale.Total.Equal(decimal.NewFromInt(190)) {
		t.Fatalf("expected sale total 190, got %s", result.Sale.Total)
	}

	flags, err := svc.ListReconciliationFlags(ctx, 0)
	if err != nil {
		t.Fatalf("list flags: %v", err)
	}
	if len(flags) != 1 || flags[0].SaleID != result.Sale.ID || flags[0].Quantity != 2 {
		t.Fatalf("unexpected flags: %+v", flags)
	}
	if len(notifier.flags) != 1 || notifier.flags[0].ID != flags[0].ID {
		t.Fatalf("expected notifier to receive flag %s, got %+v", flags[0].ID, notifier.flags)
	}
}

func TestCancelCheckoutLeavesStock(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := adminCtx()
	p := mustCreate(t, svc, domain.ProductInput{Name: "Té", Code: "TE", Stock: 2, SellPrice: decimal.NewFromInt(10)})

	chk, err := svc.OpenCheckout(ctx, []domain.CartLineRequest{{ProductID: p.ID, Quantity: 1}})
	if err != nil {
		t.Fatalf("open checkout: %v", err)
	}
	cancelled, err := svc.CancelCheckout(ctx, chk.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != "cancelled" || len(cancelled.Cart.Items) != 1 {
		t.Fatalf("unexpected cancelled session: %+v", cancelled)
	}
	got, err := svc.GetProduct(ctx, p.ID)
	if err != nil || got.Stock != 2 {
		t.Fatalf("expected stock untouched, got %d err=%v", got.Stock, err)
	}
}

func TestDashboardMetrics(t *testing.T) {
	svc, _, _ := newTestService(t)
	expired := domain.NewDate(2026, 3, 1)

	a := mustCreate(t, svc, domain.ProductInput{Name: "Leche", Code: "A", Category: "Lácteos", Stock: 10, MinStock: 2, BuyPrice: decimal.NewFromInt(5), SellPrice: decimal.NewFromInt(10)})
	mustCreate(t, svc, domain.ProductInput{Name: "Manteca", Code: "B", Category: "Lácteos", Stock: 1, MinStock: 3, BuyPrice: decimal.NewFromInt(20)})
	mustCreate(t, svc, domain.ProductInput{Name: "Lavandina", Code: "C", Category: "Limpieza", Stock: 0, BuyPrice: decimal.NewFromInt(100)})
	mustCreate(t, svc, domain.ProductInput{Name: "Papas", Code: "D", Category: "Snacks", Stock: 4, BuyPrice: decimal.NewFromInt(2), ExpiryDate: &expired})

	sellAll(t, svc, []domain.CartLineRequest{{ProductID: a.ID, Quantity: 2}}, "20")

	m, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if m.TotalProducts != 4 || m.TotalStock != 13 {
		t.Fatalf("unexpected totals: products=%d stock=%d", m.TotalProducts, m.TotalStock)
	}
	if !m.TotalValue.Equal(decimal.NewFromInt(68)) {
		t.Fatalf("expected stock value 68, got %s", m.TotalValue)
	}
	if m.ActiveCount != 1 || m.LowStockCount != 1 || m.OutOfStockCount != 1 || m.ExpiredCount != 1 {
		t.Fatalf("unexpected status counts: %+v", m)
	}
	if m.SalesCount != 1 || !m.TotalRevenue.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected revenue: count=%d total=%s", m.SalesCount, m.TotalRevenue)
	}
	if len(m.TopCategories) != 3 || m.TopCategories[0].Category != "Lácteos" || m.TopCategories[0].Stock != 9 {
		t.Fatalf("unexpected top categories: %+v", m.TopCategories)
	}
	if m.TopStockValue[0].ProductID != a.ID || !m.TopStockValue[0].Value.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected top stock value: %+v", m.TopStockValue)
	}
	if len(m.RecentSales) != 1 {
		t.Fatalf("expected one recent sale, got %d", len(m.RecentSales))
	}
}
