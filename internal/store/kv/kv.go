// Package kv implements the repository on top of a flat key-value backend.
// Every record is one JSON value; keys are "<kind>:<id>".
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
	"assistec/backend/internal/xid"
)

const (
	productPrefix = "product:"
	orderPrefix   = "service_order:"
	salePrefix    = "sale:"
	ledgerPrefix  = "ledger:"
	auditPrefix   = "audit:"
	userPrefix    = "user:"
)

type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) load(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) save(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, key, raw)
}

// modify rewrites the record under key in one backend Update. fn returning a
// nil record deletes the key.
func modify[T any](ctx context.Context, s *Store, key string, fn func(current *T) (*T, error)) error {
	return s.backend.Update(ctx, key, func(raw []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, store.ErrNotFound
		}
		var current T
		if err := json.Unmarshal(raw, &current); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		next, err := fn(&current)
		if err != nil || next == nil {
			return nil, err
		}
		return json.Marshal(next)
	})
}

func listAll[T any](ctx context.Context, s *Store, prefix string) ([]T, error) {
	keys, err := s.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(keys))
	for _, key := range keys {
		var item T
		ok, err := s.load(ctx, key, &item)
		if err != nil {
			return nil, err
		}
		// deleted between Keys and Get
		if !ok {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) PutProduct(ctx context.Context, p domain.Product) error {
	return s.save(ctx, productPrefix+p.ID, p)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := listAll[domain.Product](ctx, s, productPrefix)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	ok, err := s.load(ctx, productPrefix+id, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) SetStock(ctx context.Context, id string, qty int) error {
	if id == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}
	return modify(ctx, s, productPrefix+id, func(p *domain.Product) (*domain.Product, error) {
		p.Stock = qty
		return p, nil
	})
}

func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	if id == "" {
		return 0, store.ErrInvalidTransaction
	}
	var level int
	err := modify(ctx, s, productPrefix+id, func(p *domain.Product) (*domain.Product, error) {
		level = p.Stock
		if p.Stock+delta < 0 {
			return nil, &domain.InsufficientStockError{
				ProductID: id,
				Name:      p.Name,
				Available: p.Stock,
				Requested: -delta,
			}
		}
		p.Stock += delta
		level = p.Stock
		return p, nil
	})
	return level, err
}

func (s *Store) PutServiceOrder(ctx context.Context, o domain.ServiceOrder) error {
	return s.save(ctx, orderPrefix+o.ID, o)
}

func (s *Store) ListServiceOrders(ctx context.Context) ([]domain.ServiceOrder, error) {
	return listAll[domain.ServiceOrder](ctx, s, orderPrefix)
}

func (s *Store) GetServiceOrder(ctx context.Context, id string) (*domain.ServiceOrder, error) {
	var o domain.ServiceOrder
	ok, err := s.load(ctx, orderPrefix+id, &o)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (s *Store) SetSituation(ctx context.Context, id string, situation string) error {
	if id == "" || strings.TrimSpace(situation) == "" {
		return store.ErrInvalidTransaction
	}

	return modify(ctx, s, orderPrefix+id, func(o *domain.ServiceOrder) (*domain.ServiceOrder, error) {
		o.Situation = situation
		o.UpdatedAt = time.Now().UTC()
		return o, nil
	})
}

func (s *Store) AddSale(ctx context.Context, sale domain.Sale) error {
	if err := sale.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	created, err := s.backend.SetNX(ctx, salePrefix+sale.ID, raw)
	if err != nil {
		return err
	}
	if !created {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) error {
	if err := sale.Validate(); err != nil {
		return err
	}

	return modify(ctx, s, salePrefix+sale.ID, func(current *domain.Sale) (*domain.Sale, error) {
		if current.Status != sale.Status && !domain.CanTransition(current.Status, sale.Status) {
			return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current.Status, sale.Status)
		}
		return &sale, nil
	})
}

func (s *Store) DeleteQuote(ctx context.Context, id string) error {
	return modify(ctx, s, salePrefix+id, func(current *domain.Sale) (*domain.Sale, error) {
		if current.Status != domain.SaleStatusQuote {
			return nil, fmt.Errorf("%w: sale %s is %s", store.ErrConflict, id, current.Status)
		}
		return nil, nil
	})
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	sales, err := listAll[domain.Sale](ctx, s, salePrefix)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	ok, err := s.load(ctx, salePrefix+id, &sale)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) RecordSaleEntry(ctx context.Context, entry domain.LedgerEntry) error {
	if entry.SaleID == "" {
		return store.ErrInvalidTransaction
	}
	if entry.ID == "" {
		entry.ID = xid.New("ledger")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	created, err := s.backend.SetNX(ctx, ledgerPrefix+entry.SaleID, raw)
	if err != nil {
		return err
	}
	if !created {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) VoidSaleEntry(ctx context.Context, saleID string) (bool, error) {
	err := modify(ctx, s, ledgerPrefix+saleID, func(entry *domain.LedgerEntry) (*domain.LedgerEntry, error) {
		now := time.Now().UTC()
		entry.Paid = false
		entry.Voided = true
		entry.VoidedAt = &now
		return entry, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetLedgerEntry returns the entry recorded for a sale.
func (s *Store) GetLedgerEntry(ctx context.Context, saleID string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	ok, err := s.load(ctx, ledgerPrefix+saleID, &entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.save(ctx, auditPrefix+entry.ID, entry)
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	logs, err := listAll[domain.AuditLog](ctx, s, auditPrefix)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// userRecord is the stored shape of an account.
type userRecord struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(userRecord{
		Username:  username,
		Password:  user.Password,
		Role:      user.Role,
		Active:    true,
		CreatedAt: user.CreatedAt,
	})
	if err != nil {
		return err
	}
	created, err := s.backend.SetNX(ctx, userPrefix+username, raw)
	if err != nil {
		return err
	}
	if !created {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	records, err := listAll[userRecord](ctx, s, userPrefix)
	if err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(records))
	for _, r := range records {
		users = append(users, domain.UserAccount{
			Username:  r.Username,
			Password:  r.Password,
			Role:      r.Role,
			Active:    r.Active,
			CreatedAt: r.CreatedAt,
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	return modify(ctx, s, userPrefix+username, func(record *userRecord) (*userRecord, error) {
		record.Password = password
		return record, nil
	})
}

var _ store.Repository = (*Store)(nil)
