package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

type ProductStatus string

const (
	StatusActive     ProductStatus = "active"
	StatusLowStock   ProductStatus = "low_stock"
	StatusExpired    ProductStatus = "expired"
	StatusOutOfStock ProductStatus = "out_of_stock"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case StatusActive, StatusLowStock, StatusExpired, StatusOutOfStock:
		return true
	}
	return false
}

// Product is a stock-keeping item. Stock is never negative and UpdatedAt
// strictly increases on every mutation.
type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Code       string          `json:"code"`
	Category   string          `json:"category"`
	Type       string          `json:"type"`
	Brand      string          `json:"brand"`
	Supplier   string          `json:"supplier"`
	ExpiryDate *Date           `json:"expiry_date"`
	Stock      int             `json:"stock"`
	MinStock   int             `json:"min_stock"`
	BuyPrice   decimal.Decimal `json:"buy_price"`
	SellPrice  decimal.Decimal `json:"sell_price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
}

func (p Product) Deleted() bool {
	return p.DeletedAt != nil
}

// ProductView is a product as returned to readers, with its derived status.
type ProductView struct {
	Product
	Status ProductStatus `json:"status"`
}

type ProductInput struct {
	Name       string          `json:"name" validate:"required,max=160"`
	Code       string          `json:"code" validate:"required,max=64"`
	Category   string          `json:"category" validate:"max=80"`
	Type       string          `json:"type" validate:"max=80"`
	Brand      string          `json:"brand" validate:"max=80"`
	Supplier   string          `json:"supplier" validate:"max=120"`
	ExpiryDate *Date           `json:"expiry_date"`
	Stock      int             `json:"stock" validate:"gte=0"`
	MinStock   int             `json:"min_stock" validate:"gte=0"`
	BuyPrice   decimal.Decimal `json:"buy_price"`
	SellPrice  decimal.Decimal `json:"sell_price"`
}

type SaleItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type CustomerInfo struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentTransfer   PaymentMethod = "transfer"
	PaymentQRWallet   PaymentMethod = "qr_wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentDebitCard, PaymentCreditCard, PaymentTransfer, PaymentQRWallet:
		return true
	}
	return false
}

func (m PaymentMethod) IsCard() bool {
	return m == PaymentDebitCard || m == PaymentCreditCard
}

// PaymentDetails holds the fields of one payment method. Fields that do not
// belong to Method are left empty.
type PaymentDetails struct {
	Method         PaymentMethod    `json:"method"`
	Amount         decimal.Decimal  `json:"amount"`
	AmountTendered *decimal.Decimal `json:"amount_tendered,omitempty"`
	Change         *decimal.Decimal `json:"change,omitempty"`
	AuthCode       string           `json:"auth_code,omitempty"`
	LastFourDigits string           `json:"last_four_digits,omitempty"`
	CardBrand      string           `json:"card_brand,omitempty"`
	Reference      string           `json:"reference,omitempty"`
}

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
)

type Sale struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Customer   CustomerInfo    `json:"customer"`
	Items      []SaleItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Status     SaleStatus      `json:"status"`
	Payment    PaymentDetails  `json:"payment"`
	RecordedBy string          `json:"recorded_by,omitempty"`
}

// ReconciliationFlag records a sale line whose stock debit could not be applied.
type ReconciliationFlag struct {
	ID          string    `json:"id"`
	SaleID      string    `json:"sale_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorName  string    `json:"actor_name"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CategoryStock struct {
	Category string `json:"category"`
	Stock    int    `json:"stock"`
}

type ProductValue struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Value     decimal.Decimal `json:"value"`
}

type DashboardMetrics struct {
	TotalProducts   int             `json:"total_products"`
	TotalStock      int             `json:"total_stock"`
	TotalValue      decimal.Decimal `json:"total_value"`
	ActiveCount     int             `json:"active_count"`
	LowStockCount   int             `json:"low_stock_count"`
	ExpiredCount    int             `json:"expired_count"`
	OutOfStockCount int             `json:"out_of_stock_count"`
	SalesCount      int             `json:"sales_count"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	TopCategories   []CategoryStock `json:"top_categories"`
	TopStockValue   []ProductValue  `json:"top_stock_value"`
	RecentSales     []Sale          `json:"recent_sales"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta"`
}

type ScanRequest struct {
	Code string `json:"code"`
}

type CartLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CartRequest struct {
	Items []CartLineRequest `json:"items"`
}

type PaymentMethodRequest struct {
	Method PaymentMethod `json:"method"`
}

type PaymentInputRequest struct {
	AmountTendered *decimal.Decimal `json:"amount_tendered,omitempty"`
	AuthCode       string           `json:"auth_code,omitempty"`
	LastFourDigits string           `json:"last_four_digits,omitempty"`
	CardBrand      string           `json:"card_brand,omitempty"`
	Reference      string           `json:"reference,omitempty"`
}

// ScanResult answers a scanner read. A miss carries the code so the caller
// can offer to create the product.
type ScanResult struct {
	Found   bool         `json:"found"`
	Code    string       `json:"code"`
	Product *ProductView `json:"product,omitempty"`
}

type CartQuote struct {
	Items []SaleItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}
