package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
	"assistec/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	serviceOrders   map[string]domain.ServiceOrder
	salesByID       map[string]domain.Sale
	ledgerBySale    map[string]domain.LedgerEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store with no users.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		serviceOrders:   make(map[string]domain.ServiceOrder),
		salesByID:       make(map[string]domain.Sale),
		ledgerBySale:    make(map[string]domain.LedgerEntry),
		auditLogs:       make([]domain.AuditLog, 0, 64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD, falling back to dev defaults
// with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.WithField("component", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"seller", sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.WithError(err).Fatalf("failed to hash seed password for %s", u.username)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a demo catalog, a few repair orders and the
// seed accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, p := range []domain.Product{
		{ID: "prd-film-01", SKU: "PEL-3D-01", Name: "Película 3D", RetailPriceCents: 3000, WholesalePriceCents: 1800, Stock: 40},
		{ID: "prd-case-01", SKU: "CAP-SIL-01", Name: "Capinha Silicone", RetailPriceCents: 3500, WholesalePriceCents: 2000, Stock: 25},
		{ID: "prd-cable-01", SKU: "CAB-USBC-01", Name: "Cabo USB-C 1m", RetailPriceCents: 2500, WholesalePriceCents: 1500, Stock: 30},
		{ID: "prd-charger-01", SKU: "CAR-20W-01", Name: "Carregador 20W", RetailPriceCents: 8900, WholesalePriceCents: 6000, Stock: 12},
		{ID: "prd-screen-01", SKU: "TEL-A12-01", Name: "Tela Galaxy A12", RetailPriceCents: 18000, Stock: 4},
		{ID: "prd-battery-01", SKU: "BAT-IP11-01", Name: "Bateria iPhone 11", RetailPriceCents: 22000, WholesalePriceCents: 17000, Stock: 3},
	} {
		s.products[p.ID] = p
	}

	for _, o := range []domain.ServiceOrder{
		{ID: "os-1001", Situation: domain.SituationDone, ValTotalCents: 25000, ClientRef: "cli-maria", Device: "iPhone 11", Description: "Troca de bateria", UpdatedAt: now},
		{ID: "os-1002", Situation: domain.SituationAuthorized, ValTotalCents: 18000, ClientRef: "cli-joao", Device: "Galaxy A12", Description: "Troca de tela", UpdatedAt: now},
		{ID: "os-1003", Situation: "Orçamento", ValTotalCents: 9000, ClientRef: "cli-ana", Device: "Moto G8", Description: "Conector de carga", UpdatedAt: now},
		{ID: "os-1004", Situation: domain.SituationDelivered, ValTotalCents: 0, ClientRef: "cli-pedro", Device: "Redmi 9", Description: "Garantia", UpdatedAt: now},
	} {
		s.serviceOrders[o.ID] = o
	}

	s.usersByUsername = seedUsers()
	return s
}

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) PutServiceOrder(order domain.ServiceOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceOrders[order.ID] = order
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) SetStock(_ context.Context, id string, qty int) error {
	if id == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return store.ErrNotFound
	}
	product.Stock = qty
	s.products[id] = product
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id string, delta int) (int, error) {
	if id == "" {
		return 0, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return 0, store.ErrNotFound
	}
	next := product.Stock + delta
	if next < 0 {
		return product.Stock, &domain.InsufficientStockError{
			ProductID: id,
			Name:      product.Name,
			Available: product.Stock,
			Requested: -delta,
		}
	}
	product.Stock = next
	s.products[id] = product
	return next, nil
}

func (s *Store) ListServiceOrders(_ context.Context) ([]domain.ServiceOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.ServiceOrder, 0, len(s.serviceOrders))
	for _, o := range s.serviceOrders {
		orders = append(orders, o)
	}
	slices.SortFunc(orders, func(a, b domain.ServiceOrder) int {
		return strings.Compare(a.ID, b.ID)
	})
	return orders, nil
}

func (s *Store) GetServiceOrder(_ context.Context, id string) (*domain.ServiceOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.serviceOrders[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &order, nil
}

func (s *Store) SetSituation(_ context.Context, id string, situation string) error {
	if id == "" || strings.TrimSpace(situation) == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.serviceOrders[id]
	if !exists {
		return store.ErrNotFound
	}
	order.Situation = situation
	order.UpdatedAt = time.Now().UTC()
	s.serviceOrders[id] = order
	return nil
}

func (s *Store) AddSale(_ context.Context, sale domain.Sale) error {
	if err := sale.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[sale.ID]; exists {
		return store.ErrConflict
	}
	s.salesByID[sale.ID] = domain.CloneSale(sale)
	return nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) error {
	if err := sale.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.salesByID[sale.ID]
	if !exists {
		return store.ErrNotFound
	}
	if current.Status != sale.Status && !domain.CanTransition(current.Status, sale.Status) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current.Status, sale.Status)
	}
	s.salesByID[sale.ID] = domain.CloneSale(sale)
	return nil
}

func (s *Store) DeleteQuote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusQuote {
		return fmt.Errorf("%w: sale %s is %s", store.ErrConflict, id, sale.Status)
	}
	delete(s.salesByID, id)
	return nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, domain.CloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := domain.CloneSale(sale)
	return &dup, nil
}

func (s *Store) RecordSaleEntry(_ context.Context, entry domain.LedgerEntry) error {
	if entry.SaleID == "" {
		return store.ErrInvalidTransaction
	}
	if entry.ID == "" {
		entry.ID = xid.New("ledger")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ledgerBySale[entry.SaleID]; exists {
		return store.ErrConflict
	}
	s.ledgerBySale[entry.SaleID] = entry
	return nil
}

func (s *Store) VoidSaleEntry(_ context.Context, saleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.ledgerBySale[saleID]
	if !exists {
		return false, nil
	}
	now := time.Now().UTC()
	entry.Paid = false
	entry.Voided = true
	entry.VoidedAt = &now
	s.ledgerBySale[saleID] = entry
	return true, nil
}

// LedgerEntry returns the entry recorded for a sale.
func (s *Store) LedgerEntry(saleID string) (domain.LedgerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.ledgerBySale[saleID]
	return entry, ok
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// ListAuditLogs returns the newest entries first.
func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.auditLogs) {
		limit = len(s.auditLogs)
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.auditLogs[i])
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

var _ store.Repository = (*Store)(nil)
