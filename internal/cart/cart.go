// Package cart holds the in-progress sale for one checkout session.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
	"assistec/backend/internal/xid"
)

// ProductReader is the catalog view a cart needs.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// Cart is not safe for concurrent use on its own; Sessions hands out carts
// guarded by a per-cart lock.
type Cart struct {
	ID            string
	products      ProductReader
	lines         []domain.CartLine
	discount      domain.DiscountSpec
	pricingMode   domain.PricingMode
	clientRef     string
	originQuoteID string
	createdAt     time.Time
}

func New(products ProductReader) *Cart {
	return &Cart{
		ID:          xid.New("cart"),
		products:    products,
		lines:       make([]domain.CartLine, 0, 8),
		pricingMode: domain.PricingRetail,
		createdAt:   time.Now().UTC(),
	}
}

// FromQuote rebuilds a cart from a stored quote so it can be converted.
func FromQuote(products ProductReader, quote domain.Sale) *Cart {
	c := New(products)
	c.lines = quote.CartLines()
	c.discount = quote.Discount
	if quote.PricingMode.Valid() {
		c.pricingMode = quote.PricingMode
	}
	c.clientRef = quote.ClientRef
	c.originQuoteID = quote.ID
	return c
}

func (c *Cart) loadProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := c.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

// AddProduct adds one unit of the product, merging into an existing line.
func (c *Cart) AddProduct(ctx context.Context, productID string) (domain.CartLine, error) {
	p, err := c.loadProduct(ctx, productID)
	if err != nil {
		return domain.CartLine{}, err
	}

	idx := c.productLineIndex(productID)
	inCart := 0
	if idx >= 0 {
		inCart = c.lines[idx].Qty
	}
	if p.Stock-inCart <= 0 {
		return domain.CartLine{}, fmt.Errorf("%w: %s", domain.ErrOutOfStock, p.Name)
	}

	if idx >= 0 {
		c.lines[idx].Qty++
		return c.lines[idx], nil
	}

	line := domain.CartLine{
		ID:             xid.New("line"),
		Kind:           domain.LineKindProduct,
		ProductID:      p.ID,
		Name:           p.Name,
		UnitPriceCents: p.PriceFor(c.pricingMode),
		Qty:            1,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// AddServiceOrder bills a repair order as a single line priced at the
// order's total. The order's client becomes the cart client.
func (c *Cart) AddServiceOrder(order domain.ServiceOrder) (domain.CartLine, error) {
	if !domain.IsPayable(order.Situation) {
		return domain.CartLine{}, &domain.NotPayableError{ServiceOrderID: order.ID, Situation: order.Situation}
	}
	if order.ValTotalCents <= 0 {
		return domain.CartLine{}, fmt.Errorf("%w: %s", domain.ErrNoChargeableAmount, order.ID)
	}
	for _, line := range c.lines {
		if line.Kind == domain.LineKindServiceOrder && line.ServiceOrderID == order.ID {
			return domain.CartLine{}, fmt.Errorf("%w: %s", domain.ErrDuplicateLine, order.ID)
		}
	}

	line := domain.CartLine{
		ID:             xid.New("line"),
		Kind:           domain.LineKindServiceOrder,
		ServiceOrderID: order.ID,
		Name:           serviceOrderLabel(order),
		UnitPriceCents: order.ValTotalCents,
		Qty:            1,
	}
	c.lines = append(c.lines, line)
	if order.ClientRef != "" {
		c.clientRef = order.ClientRef
	}
	return line, nil
}

func serviceOrderLabel(order domain.ServiceOrder) string {
	label := "OS " + order.ID
	if order.Device != "" {
		label += " - " + order.Device
	}
	return label
}

// SetQuantity sets a line quantity. A quantity of zero or less removes the
// line. Service-order lines always stay at one.
func (c *Cart) SetQuantity(ctx context.Context, lineID string, qty int) error {
	idx := c.lineIndex(lineID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrLineNotFound, lineID)
	}
	if qty <= 0 {
		c.removeAt(idx)
		return nil
	}

	line := c.lines[idx]
	if line.Kind == domain.LineKindServiceOrder {
		return nil
	}

	p, err := c.loadProduct(ctx, line.ProductID)
	if err != nil {
		return err
	}
	if qty > p.Stock {
		return &domain.InsufficientStockError{ProductID: p.ID, Name: p.Name, Available: p.Stock, Requested: qty}
	}
	c.lines[idx].Qty = qty
	return nil
}

func (c *Cart) RemoveLine(lineID string) error {
	idx := c.lineIndex(lineID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrLineNotFound, lineID)
	}
	c.removeAt(idx)
	return nil
}

func (c *Cart) SetWarrantyTag(lineID string, tag string) error {
	idx := c.lineIndex(lineID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrLineNotFound, lineID)
	}
	c.lines[idx].WarrantyTag = tag
	return nil
}

// SetDiscount replaces the cart discount. Negative values become zero.
func (c *Cart) SetDiscount(mode domain.DiscountMode, value float64) error {
	switch mode {
	case domain.DiscountFixed, domain.DiscountPercent:
	default:
		return fmt.Errorf("%w: unknown discount mode %q", domain.ErrInvalidRequest, mode)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: discount value must be finite", domain.ErrInvalidRequest)
	}
	if value < 0 {
		value = 0
	}
	c.discount = domain.DiscountSpec{Mode: mode, Value: value}
	return nil
}

func (c *Cart) Discount() domain.DiscountSpec {
	return c.discount
}

func (c *Cart) Totals() domain.Totals {
	return domain.ComputeTotals(c.lines, c.discount)
}

// SetPricingMode reprices every product line. Nothing changes if any product
// lookup fails.
func (c *Cart) SetPricingMode(ctx context.Context, mode domain.PricingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown pricing mode %q", domain.ErrInvalidRequest, mode)
	}

	prices := make(map[int]int64, len(c.lines))
	for i, line := range c.lines {
		if line.Kind != domain.LineKindProduct {
			continue
		}
		p, err := c.loadProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		prices[i] = p.PriceFor(mode)
	}

	for i, price := range prices {
		c.lines[i].UnitPriceCents = price
	}
	c.pricingMode = mode
	return nil
}

func (c *Cart) PricingMode() domain.PricingMode {
	return c.pricingMode
}

func (c *Cart) SelectClient(clientRef string) {
	c.clientRef = clientRef
}

func (c *Cart) ClientRef() string {
	return c.clientRef
}

// OriginQuoteID is the quote this cart was resumed from, if any.
func (c *Cart) OriginQuoteID() string {
	return c.originQuoteID
}

// Lines returns a copy of the cart lines.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Clear empties the cart and forgets the origin quote.
func (c *Cart) Clear() {
	c.lines = c.lines[:0]
	c.discount = domain.DiscountSpec{}
	c.clientRef = ""
	c.originQuoteID = ""
}

// Snapshot is the serialisable view of a cart.
type Snapshot struct {
	ID            string              `json:"id"`
	Lines         []domain.CartLine   `json:"lines"`
	Discount      domain.DiscountSpec `json:"discount"`
	PricingMode   domain.PricingMode  `json:"pricing_mode"`
	ClientRef     string              `json:"client_ref,omitempty"`
	OriginQuoteID string              `json:"origin_quote_id,omitempty"`
	Totals        domain.Totals       `json:"totals"`
	CreatedAt     time.Time           `json:"created_at"`
}

func (c *Cart) Snapshot() Snapshot {
	return Snapshot{
		ID:            c.ID,
		Lines:         c.Lines(),
		Discount:      c.discount,
		PricingMode:   c.pricingMode,
		ClientRef:     c.clientRef,
		OriginQuoteID: c.originQuoteID,
		Totals:        c.Totals(),
		CreatedAt:     c.createdAt,
	}
}

func (c *Cart) lineIndex(lineID string) int {
	for i, line := range c.lines {
		if line.ID == lineID {
			return i
		}
	}
	return -1
}

func (c *Cart) productLineIndex(productID string) int {
	for i, line := range c.lines {
		if line.Kind == domain.LineKindProduct && line.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(idx int) {
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}

// Sessions keeps one cart per checkout session.
type Sessions struct {
	mu       sync.Mutex
	products ProductReader
	carts    map[string]*session
	now      func() time.Time
}

type session struct {
	mu      sync.Mutex
	cart    *Cart
	touched time.Time
}

func NewSessions(products ProductReader) *Sessions {
	return &Sessions{
		products: products,
		carts:    make(map[string]*session),
		now:      time.Now,
	}
}

func (s *Sessions) Create() *Cart {
	return s.Put(New(s.products))
}

// Put registers an already built cart, such as one resumed from a quote.
func (s *Sessions) Put(c *Cart) *Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[c.ID] = &session{cart: c, touched: s.now()}
	return c
}

// With runs fn while holding the cart's lock.
func (s *Sessions) With(id string, fn func(c *Cart) error) error {
	s.mu.Lock()
	sess, ok := s.carts[id]
	if ok {
		sess.touched = s.now()
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cart %s: %w", id, store.ErrNotFound)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(sess.cart)
}

// EvictIdle drops every cart not used for longer than idle and returns how
// many were dropped.
func (s *Sessions) EvictIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, sess := range s.carts {
		if sess.touched.Before(cutoff) {
			delete(s.carts, id)
			evicted++
		}
	}
	return evicted
}

func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[id]; !ok {
		return false
	}
	delete(s.carts, id)
	return true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts)
}
