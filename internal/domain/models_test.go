package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestProductJSONRoundTripPreservesFields(t *testing.T) {
	expiry := NewDate(2026, time.March, 9)
	created := time.Date(2026, time.January, 2, 10, 30, 0, 123000, time.UTC)
	original := Product{
		ID:         "prd-1",
		Name:       "Yerba Mate 1kg",
		Code:       "7790387000125",
		Category:   "Almacén",
		Type:       "Infusión",
		Brand:      "Taragüi",
		Supplier:   "Distribuidora Norte",
		ExpiryDate: &expiry,
		Stock:      12,
		MinStock:   4,
		BuyPrice:   decimal.RequireFromString("1850.50"),
		SellPrice:  decimal.RequireFromString("2999.99"),
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Second),
	}

	payload, err := json.Marshal(original)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"expiry_date":"2026-03-09"`)

	var decoded Product
	require.NoError(t, json.Unmarshal(payload, &decoded))

	require.Equal(t, original.ID, decoded.ID)
	require.Equal(t, original.Name, decoded.Name)
	require.Equal(t, original.Code, decoded.Code)
	require.Equal(t, original.Category, decoded.Category)
	require.Equal(t, original.Type, decoded.Type)
	require.Equal(t, original.Brand, decoded.Brand)
	require.Equal(t, original.Supplier, decoded.Supplier)
	require.NotNil(t, decoded.ExpiryDate)
	require.True(t, original.ExpiryDate.Equal(*decoded.ExpiryDate))
	require.Equal(t, original.Stock, decoded.Stock)
	require.Equal(t, original.MinStock, decoded.MinStock)
	require.True(t, original.BuyPrice.Equal(decoded.BuyPrice))
	require.True(t, original.SellPrice.Equal(decoded.SellPrice))
	require.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
	require.True(t, original.UpdatedAt.Equal(decoded.UpdatedAt))
	require.Nil(t, decoded.DeletedAt)
}

func TestProductWithoutExpiryEncodesNull(t *testing.T) {
	payload, err := json.Marshal(Product{ID: "prd-2"})
	require.NoError(t, err)
	require.Contains(t, string(payload), `"expiry_date":null`)

	var decoded Product
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Nil(t, decoded.ExpiryDate)
}

func TestSaleJSONRoundTripKeepsPaymentVariant(t *testing.T) {
	tendered := decimal.RequireFromString("100")
	change := decimal.RequireFromString("25.5")
	sale := Sale{
		ID:        "sale-1",
		CreatedAt: time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC),
		Customer:  CustomerInfo{Name: "Consumidor Final"},
		Items: []SaleItem{{
			ProductID:   "prd-1",
			ProductName: "Galletitas",
			Quantity:    3,
			UnitPrice:   decimal.RequireFromString("24.83"),
			Subtotal:    decimal.RequireFromString("74.49"),
		}},
		Total:  decimal.RequireFromString("74.5"),
		Status: SaleCompleted,
		Payment: PaymentDetails{
			Method:         PaymentCash,
			Amount:         decimal.RequireFromString("74.5"),
			AmountTendered: &tendered,
			Change:         &change,
		},
	}

	payload, err := json.Marshal(sale)
	require.NoError(t, err)
	require.NotContains(t, string(payload), "last_four_digits")

	var decoded Sale
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, sale.ID, decoded.ID)
	require.Equal(t, sale.Customer, decoded.Customer)
	require.Len(t, decoded.Items, 1)
	require.Equal(t, 3, decoded.Items[0].Quantity)
	require.True(t, sale.Items[0].Subtotal.Equal(decoded.Items[0].Subtotal))
	require.Equal(t, PaymentCash, decoded.Payment.Method)
	require.True(t, decoded.Payment.AmountTendered.Equal(tendered))
	require.True(t, decoded.Payment.Change.Equal(change))
	require.Equal(t, SaleCompleted, decoded.Status)
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := ParseDate("09/03/2026")
	require.Error(t, err)

	d, err := ParseDate(" 2026-03-09 ")
	require.NoError(t, err)
	require.Equal(t, "2026-03-09", d.String())
}

func TestNextUpdateStampIsStrictlyIncreasing(t *testing.T) {
	prev := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, NextUpdateStamp(prev, prev).After(prev))
	require.True(t, NextUpdateStamp(prev, prev.Add(-time.Hour)).After(prev))

	later := prev.Add(time.Minute)
	require.True(t, NextUpdateStamp(prev, later).Equal(later))
}
