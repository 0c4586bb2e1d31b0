package store

import (
	"context"
	"errors"

	"assistec/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

type CatalogStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	SetStock(ctx context.Context, id string, qty int) error
	// AdjustStock adds delta to the stored stock in one atomic step and
	// returns the new level. A result below zero is refused with a
	// *domain.InsufficientStockError and leaves the stock unchanged.
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
}

type ServiceOrderStore interface {
	ListServiceOrders(ctx context.Context) ([]domain.ServiceOrder, error)
	GetServiceOrder(ctx context.Context, id string) (*domain.ServiceOrder, error)
	SetSituation(ctx context.Context, id string, situation string) error
}

// SaleStore persists sale records. AddSale returns ErrConflict when the id is
// taken; UpdateSale and DeleteQuote return ErrNotFound for unknown ids.
// DeleteQuote checks the status in the same step as the delete and returns
// ErrConflict once the record is no longer a quote.
type SaleStore interface {
	AddSale(ctx context.Context, sale domain.Sale) error
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteQuote(ctx context.Context, id string) error
	ListSales(ctx context.Context) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
}

type Ledger interface {
	RecordSaleEntry(ctx context.Context, entry domain.LedgerEntry) error
	// VoidSaleEntry reports false when the sale has no entry.
	VoidSaleEntry(ctx context.Context, saleID string) (bool, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	CatalogStore
	ServiceOrderStore
	SaleStore
	Ledger
	AuditStore
	UserStore
}
