package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockmaster/backend/internal/domain"
	"stockmaster/backend/internal/inventory"
	"stockmaster/backend/internal/sales"
	"stockmaster/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("STOCKMASTER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOCKMASTER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestSaleTransactionDebitsAndRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	now := time.Now().UTC().Truncate(time.Microsecond)
	expiry := domain.NewDate(2027, time.January, 15)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	created, err := s.CreateProduct(ctx, domain.Product{
		ID:         productID,
		Name:       "Producto IT",
		Code:       productID,
		Category:   "Almacén",
		ExpiryDate: &expiry,
		Stock:      10,
		MinStock:   2,
		BuyPrice:   decimal.RequireFromString("10.125"),
		SellPrice:  decimal.RequireFromString("19.99"),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)

	_, err = s.CreateProduct(ctx, domain.Product{ID: productID + "-dup", Name: "dup", Code: productID, CreatedAt: now, UpdatedAt: now})
	require.ErrorIs(t, err, store.ErrDuplicateCode)

	tendered := decimal.RequireFromString("50")
	change := decimal.RequireFromString("10.02")
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, domain.Sale{
			ID:        saleID,
			CreatedAt: now,
			Customer:  domain.CustomerInfo{Name: "Consumidor Final"},
			Items: []domain.SaleItem{{
				ProductID:   productID,
				ProductName: p.Name,
				Quantity:    2,
				UnitPrice:   p.SellPrice,
				Subtotal:    p.SellPrice.Mul(decimal.NewFromInt(2)),
			}},
			Total:  decimal.RequireFromString("39.98"),
			Status: domain.SaleCompleted,
			Payment: domain.PaymentDetails{
				Method:         domain.PaymentCash,
				Amount:         decimal.RequireFromString("39.98"),
				AmountTendered: &tendered,
				Change:         &change,
			},
		}); err != nil {
			return err
		}
		_, err = tx.SetStock(ctx, productID, p.Stock-2, now)
		return err
	})
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, 8, p.Stock)
	require.True(t, p.UpdatedAt.After(created.UpdatedAt))
	require.True(t, p.BuyPrice.Equal(decimal.RequireFromString("10.125")))
	require.NotNil(t, p.ExpiryDate)
	require.True(t, p.ExpiryDate.Equal(expiry))

	sale, err := s.GetSale(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	require.Equal(t, 2, sale.Items[0].Quantity)
	require.True(t, sale.Payment.Change.Equal(change))

	found, err := s.ListSales(ctx, store.SaleFilter{Search: saleID})
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, s.DeleteProduct(ctx, productID, now))
	_, err = s.GetProduct(ctx, productID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCommittedSaleKeepsSnapshotAfterProductEdit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ledger := inventory.NewLedger(s)
	engine := sales.NewEngine(ledger, s)

	code := fmt.Sprintf("snap-it-%d", time.Now().UnixNano())
	p, err := ledger.AddProduct(ctx, domain.ProductInput{
		Name:      "Yerba 1kg",
		Code:      code,
		Stock:     6,
		SellPrice: decimal.RequireFromString("7.25"),
	})
	require.NoError(t, err)

	cart := engine.StartCart()
	require.NoError(t, engine.AddLine(ctx, cart, p.ID, 2))
	result, err := engine.Commit(ctx, cart, domain.CustomerInfo{}, domain.PaymentDetails{Method: domain.PaymentTransfer, Reference: "TRX-IT"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, result.Sale.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, result.Sale.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, p.ID)
	})

	_, err = ledger.UpdateProduct(ctx, p.ID, domain.ProductInput{
		Name:      "Yerba 1kg premium",
		Code:      code,
		Stock:     4,
		SellPrice: decimal.RequireFromString("11.00"),
	})
	require.NoError(t, err)

	sale, err := engine.GetSale(ctx, result.Sale.ID)
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	require.Equal(t, "Yerba 1kg", sale.Items[0].ProductName)
	require.True(t, sale.Items[0].UnitPrice.Equal(decimal.RequireFromString("7.25")))
	require.True(t, sale.Total.Equal(decimal.RequireFromString("14.50")))

	require.NoError(t, ledger.DeleteProduct(ctx, p.ID))
	sale, err = engine.GetSale(ctx, result.Sale.ID)
	require.NoError(t, err)
	require.Equal(t, "Yerba 1kg", sale.Items[0].ProductName)
}
