package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfStock         = errors.New("product out of stock")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNotPayable         = errors.New("service order is not payable")
	ErrNoChargeableAmount = errors.New("service order has no chargeable amount")
	ErrDuplicateLine      = errors.New("service order already in cart")
	ErrAlreadyRefunded    = errors.New("sale already refunded")
	ErrInvalidTransition  = errors.New("invalid sale status transition")
	ErrUnauthorized       = errors.New("elevated role required")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrLineNotFound       = errors.New("cart line not found")
	ErrPersistence        = errors.New("persistence failure")
)

// InsufficientStockError names the first line whose quantity exceeds the
// stock currently available.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type NotPayableError struct {
	ServiceOrderID string
	Situation      string
}

func (e *NotPayableError) Error() string {
	return fmt.Sprintf("service order %s is not payable in situation %q", e.ServiceOrderID, e.Situation)
}

func (e *NotPayableError) Is(target error) bool {
	return target == ErrNotPayable
}

// PersistenceError reports a failed write. When SaleID is set the sale record
// may already exist and callers must re-read the sale store before retrying.
type PersistenceError struct {
	Op     string
	SaleID string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.SaleID != "" {
		return fmt.Sprintf("%s (sale %s): %v", e.Op, e.SaleID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Indeterminate reports whether the failure happened after the sale write was
// issued.
func (e *PersistenceError) Indeterminate() bool {
	return e.SaleID != ""
}
