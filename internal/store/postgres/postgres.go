package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
	"assistec/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, retail_price_cents, wholesale_price_cents, stock
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.RetailPriceCents, &p.WholesalePriceCents, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, retail_price_cents, wholesale_price_cents, stock
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.RetailPriceCents, &p.WholesalePriceCents, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// PutProduct upserts a catalog row.
func (s *Store) PutProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, retail_price_cents, wholesale_price_cents, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		ON CONFLICT (id)
		DO UPDATE SET sku = EXCLUDED.sku, name = EXCLUDED.name,
			retail_price_cents = EXCLUDED.retail_price_cents,
			wholesale_price_cents = EXCLUDED.wholesale_price_cents,
			stock = EXCLUDED.stock, updated_at = now()
	`, p.ID, p.SKU, p.Name, p.RetailPriceCents, p.WholesalePriceCents, p.Stock)
	return err
}

func (s *Store) SetStock(ctx context.Context, id string, qty int) error {
	if id == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}
	return s.execAffectingOne(ctx, `
		UPDATE products SET stock = $2, updated_at = now() WHERE id = $1
	`, id, qty)
}

// AdjustStock applies delta with a guarded UPDATE so concurrent terminals can
// never drive the stored level below zero.
func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	if id == "" {
		return 0, store.ErrInvalidTransaction
	}

	var next int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock
	`, id, delta).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Stock, &domain.InsufficientStockError{
		ProductID: id,
		Name:      p.Name,
		Available: p.Stock,
		Requested: -delta,
	}
}

func (s *Store) ListServiceOrders(ctx context.Context) ([]domain.ServiceOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, situation, val_total_cents, COALESCE(client_ref, ''), COALESCE(device, ''), COALESCE(description, ''), updated_at
		FROM service_orders
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.ServiceOrder, 0, 64)
	for rows.Next() {
		var o domain.ServiceOrder
		if err := rows.Scan(&o.ID, &o.Situation, &o.ValTotalCents, &o.ClientRef, &o.Device, &o.Description, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.UpdatedAt = o.UpdatedAt.UTC()
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) GetServiceOrder(ctx context.Context, id string) (*domain.ServiceOrder, error) {
	var o domain.ServiceOrder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, situation, val_total_cents, COALESCE(client_ref, ''), COALESCE(device, ''), COALESCE(description, ''), updated_at
		FROM service_orders
		WHERE id = $1
	`, id).Scan(&o.ID, &o.Situation, &o.ValTotalCents, &o.ClientRef, &o.Device, &o.Description, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (s *Store) PutServiceOrder(ctx context.Context, o domain.ServiceOrder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_orders (id, situation, val_total_cents, client_ref, device, description, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (id)
		DO UPDATE SET situation = EXCLUDED.situation, val_total_cents = EXCLUDED.val_total_cents,
			client_ref = EXCLUDED.client_ref, device = EXCLUDED.device,
			description = EXCLUDED.description, updated_at = now()
	`, o.ID, o.Situation, o.ValTotalCents, nullIfEmpty(o.ClientRef), nullIfEmpty(o.Device), nullIfEmpty(o.Description))
	return err
}

func (s *Store) SetSituation(ctx context.Context, id string, situation string) error {
	if id == "" || strings.TrimSpace(situation) == "" {
		return store.ErrInvalidTransaction
	}
	return s.execAffectingOne(ctx, `
		UPDATE service_orders SET situation = $2, updated_at = now() WHERE id = $1
	`, id, situation)
}

func (s *Store) AddSale(ctx context.Context, sale domain.Sale) error {
	if err := sale.Validate(); err != nil {
		return err
	}
	lines, err := json.Marshal(sale.Lines)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, status, client_ref, seller_ref, pricing_mode, lines,
			discount_mode, discount_value, discount_cents, subtotal_cents, total_cents,
			payment_method, installments, origin_quote_id,
			refunded_by, refunded_at, refund_reason, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, sale.ID, sale.Status, nullIfEmpty(sale.ClientRef), sale.SellerRef, sale.PricingMode, lines,
		sale.Discount.Mode, sale.Discount.Value, sale.DiscountCents, sale.SubtotalCents, sale.TotalCents,
		sale.PaymentMethod, sale.Installments, nullIfEmpty(sale.OriginQuoteID),
		nullIfEmpty(sale.RefundedBy), nullTime(sale.RefundedAt), nullIfEmpty(sale.RefundReason), sale.CreatedAt, updatedAt(sale))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

// UpdateSale rewrites a sale row. The status transition is checked against
// the stored row inside a serializable transaction.
func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) error {
	if err := sale.Validate(); err != nil {
		return err
	}
	lines, err := json.Marshal(sale.Lines)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.SaleStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM sales WHERE id = $1 FOR UPDATE`, sale.ID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if current != sale.Status && !domain.CanTransition(current, sale.Status) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current, sale.Status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, client_ref = $3, seller_ref = $4, pricing_mode = $5, lines = $6,
			discount_mode = $7, discount_value = $8, discount_cents = $9, subtotal_cents = $10, total_cents = $11,
			payment_method = $12, installments = $13, origin_quote_id = $14,
			refunded_by = $15, refunded_at = $16, refund_reason = $17, updated_at = $18
		WHERE id = $1
	`, sale.ID, sale.Status, nullIfEmpty(sale.ClientRef), sale.SellerRef, sale.PricingMode, lines,
		sale.Discount.Mode, sale.Discount.Value, sale.DiscountCents, sale.SubtotalCents, sale.TotalCents,
		sale.PaymentMethod, sale.Installments, nullIfEmpty(sale.OriginQuoteID),
		nullIfEmpty(sale.RefundedBy), nullTime(sale.RefundedAt), nullIfEmpty(sale.RefundReason), updatedAt(sale))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteQuote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1 AND status = $2`, id, domain.SaleStatusQuote)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var status domain.SaleStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM sales WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: sale %s is %s", store.ErrConflict, id, status)
}

const saleColumns = `
	id, status, COALESCE(client_ref, ''), seller_ref, pricing_mode, lines,
	discount_mode, discount_value, discount_cents, subtotal_cents, total_cents,
	payment_method, installments, COALESCE(origin_quote_id, ''),
	COALESCE(refunded_by, ''), refunded_at, COALESCE(refund_reason, ''), created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale       domain.Sale
		lines      []byte
		refundedAt sql.NullTime
	)
	err := row.Scan(&sale.ID, &sale.Status, &sale.ClientRef, &sale.SellerRef, &sale.PricingMode, &lines,
		&sale.Discount.Mode, &sale.Discount.Value, &sale.DiscountCents, &sale.SubtotalCents, &sale.TotalCents,
		&sale.PaymentMethod, &sale.Installments, &sale.OriginQuoteID,
		&sale.RefundedBy, &refundedAt, &sale.RefundReason, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := json.Unmarshal(lines, &sale.Lines); err != nil {
		return domain.Sale{}, fmt.Errorf("decode lines of sale %s: %w", sale.ID, err)
	}
	if refundedAt.Valid {
		at := refundedAt.Time.UTC()
		sale.RefundedAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, sale_id, description, amount_cents, payment_method, installments, paid, voided, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false,$8)
	`, entry.ID, entry.SaleID, entry.Description, entry.AmountCents, entry.PaymentMethod, entry.Installments, entry.Paid, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) VoidSaleEntry(ctx context.Context, saleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET paid = false, voided = true, voided_at = now()
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	return s.execAffectingOne(ctx, `
		UPDATE app_users SET password = $2, updated_at = now() WHERE username = $1
	`, username, password)
}

func (s *Store) execAffectingOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func updatedAt(sale domain.Sale) time.Time {
	if sale.UpdatedAt.IsZero() {
		return sale.CreatedAt
	}
	return sale.UpdatedAt
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

var _ store.Repository = (*Store)(nil)
