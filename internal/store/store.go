package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockmaster/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateCode     = fmt.Errorf("%w: product code already in use", ErrValidation)
	ErrInsufficientStock = errors.New("insufficient stock")
)

type SaleFilter struct {
	Search string
	Limit  int
}

// Tx is a unit of work holding write locks on the products it reads.
type Tx interface {
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	SetStock(ctx context.Context, id string, stock int, at time.Time) (*domain.Product, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
}

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProductByCode(ctx context.Context, code string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string, at time.Time) error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)

	CreateReconciliationFlag(ctx context.Context, flag domain.ReconciliationFlag) error
	ListReconciliationFlags(ctx context.Context, limit int) ([]domain.ReconciliationFlag, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
