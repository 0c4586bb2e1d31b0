package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
	"assistec/backend/internal/store/memory"
)

func newCatalog(products ...domain.Product) *memory.Store {
	s := memory.New()
	for _, p := range products {
		s.PutProduct(p)
	}
	return s
}

func TestPercentDiscountScenario(t *testing.T) {
	ctx := context.Background()
	c := New(newCatalog(domain.Product{ID: "p1", Name: "Película", RetailPriceCents: 100, Stock: 10}))

	line, err := c.AddProduct(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, c.SetQuantity(ctx, line.ID, 2))
	require.NoError(t, c.SetDiscount(domain.DiscountPercent, 10))

	totals := c.Totals()
	assert.Equal(t, int64(200), totals.SubtotalCents)
	assert.Equal(t, int64(20), totals.DiscountCents)
	assert.Equal(t, int64(180), totals.TotalCents)
}

func TestAddProductStopsAtStock(t *testing.T) {
	ctx := context.Background()
	c := New(newCatalog(domain.Product{ID: "p1", Name: "Bateria", RetailPriceCents: 100, Stock: 3}))

	for i := 0; i < 3; i++ {
		_, err := c.AddProduct(ctx, "p1")
		require.NoError(t, err)
	}
	_, err := c.AddProduct(ctx, "p1")
	require.ErrorIs(t, err, domain.ErrOutOfStock)

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Qty)
}

func TestAddProductRejectsZeroStock(t *testing.T) {
	c := New(newCatalog(domain.Product{ID: "p1", Name: "Tela", RetailPriceCents: 100, Stock: 0}))

	_, err := c.AddProduct(context.Background(), "p1")
	require.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.True(t, c.IsEmpty())
}

func TestAddProductUnknown(t *testing.T) {
	_, err := New(newCatalog()).AddProduct(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetQuantityAboveStock(t *testing.T) {
	ctx := context.Background()
	c := New(newCatalog(domain.Product{ID: "p1", Name: "Cabo", RetailPriceCents: 100, Stock: 2}))
	line, err := c.AddProduct(ctx, "p1")
	require.NoError(t, err)

	err = c.SetQuantity(ctx, line.ID, 5)
	var stockErr *domain.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "Cabo", stockErr.Name)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 1, c.Lines()[0].Qty)

	require.NoError(t, c.SetQuantity(ctx, line.ID, 0))
	assert.True(t, c.IsEmpty())
}

func TestAddServiceOrderRules(t *testing.T) {
	c := New(newCatalog())

	_, err := c.AddServiceOrder(domain.ServiceOrder{ID: "os-1", Situation: "Orçamento", ValTotalCents: 1000})
	var notPayable *domain.NotPayableError
	require.True(t, errors.As(err, &notPayable))
	require.ErrorIs(t, err, domain.ErrNotPayable)

	_, err = c.AddServiceOrder(domain.ServiceOrder{ID: "os-2", Situation: domain.SituationDone})
	require.ErrorIs(t, err, domain.ErrNoChargeableAmount)

	order := domain.ServiceOrder{ID: "os-3", Situation: domain.SituationAuthorized, ValTotalCents: 15000, ClientRef: "cli-1"}
	line, err := c.AddServiceOrder(order)
	require.NoError(t, err)
	assert.Equal(t, 1, line.Qty)
	assert.Equal(t, int64(15000), line.UnitPriceCents)
	assert.Equal(t, "cli-1", c.ClientRef())

	_, err = c.AddServiceOrder(order)
	require.ErrorIs(t, err, domain.ErrDuplicateLine)

	require.NoError(t, c.SetQuantity(context.Background(), line.ID, 4))
	assert.Equal(t, 1, c.Lines()[0].Qty)
}

func TestSetPricingModeReprices(t *testing.T) {
	ctx := context.Background()
	c := New(newCatalog(
		domain.Product{ID: "p1", Name: "Capinha", RetailPriceCents: 3500, WholesalePriceCents: 2000, Stock: 5},
		domain.Product{ID: "p2", Name: "Tela", RetailPriceCents: 18000, Stock: 5},
	))
	_, err := c.AddProduct(ctx, "p1")
	require.NoError(t, err)
	_, err = c.AddProduct(ctx, "p2")
	require.NoError(t, err)
	_, err = c.AddServiceOrder(domain.ServiceOrder{ID: "os-1", Situation: domain.SituationDone, ValTotalCents: 9000})
	require.NoError(t, err)

	require.NoError(t, c.SetPricingMode(ctx, domain.PricingWholesale))
	lines := c.Lines()
	assert.Equal(t, int64(2000), lines[0].UnitPriceCents)
	assert.Equal(t, int64(18000), lines[1].UnitPriceCents)
	assert.Equal(t, int64(9000), lines[2].UnitPriceCents)

	require.ErrorIs(t, c.SetPricingMode(ctx, "vip"), domain.ErrInvalidRequest)
	assert.Equal(t, domain.PricingWholesale, c.PricingMode())
}

func TestSetDiscountValidation(t *testing.T) {
	c := New(newCatalog())
	require.ErrorIs(t, c.SetDiscount("bogus", 5), domain.ErrInvalidRequest)

	require.NoError(t, c.SetDiscount(domain.DiscountFixed, -50))
	assert.Equal(t, float64(0), c.Discount().Value)
}

func TestFromQuoteKeepsOrigin(t *testing.T) {
	quote := domain.Sale{
		ID:          "quote-1",
		Status:      domain.SaleStatusQuote,
		ClientRef:   "cli-9",
		PricingMode: domain.PricingWholesale,
		Discount:    domain.DiscountSpec{Mode: domain.DiscountFixed, Value: 100},
		Lines:       domain.SnapshotLines([]domain.CartLine{{ID: "l1", Kind: domain.LineKindProduct, ProductID: "p1", UnitPriceCents: 500, Qty: 2}}),
	}

	c := FromQuote(newCatalog(), quote)
	assert.Equal(t, "quote-1", c.OriginQuoteID())
	assert.Equal(t, "cli-9", c.ClientRef())
	assert.Equal(t, int64(900), c.Totals().TotalCents)
}

func TestSessions(t *testing.T) {
	sessions := NewSessions(newCatalog(domain.Product{ID: "p1", Name: "Cabo", RetailPriceCents: 100, Stock: 5}))
	c := sessions.Create()

	err := sessions.With(c.ID, func(c *Cart) error {
		_, err := c.AddProduct(context.Background(), "p1")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, sessions.Len())

	require.True(t, sessions.Delete(c.ID))
	require.False(t, sessions.Delete(c.ID))
	require.ErrorIs(t, sessions.With(c.ID, func(*Cart) error { return nil }), store.ErrNotFound)
}

func TestSessionsEvictIdle(t *testing.T) {
	now := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
	sessions := NewSessions(newCatalog(domain.Product{ID: "p1", Name: "Cabo", RetailPriceCents: 100, Stock: 5}))
	sessions.now = func() time.Time { return now }

	abandoned := sessions.Create()
	active := sessions.Create()

	now = now.Add(90 * time.Minute)
	require.NoError(t, sessions.With(active.ID, func(c *Cart) error {
		_, err := c.AddProduct(context.Background(), "p1")
		return err
	}))

	now = now.Add(90 * time.Minute)
	require.Equal(t, 1, sessions.EvictIdle(2*time.Hour))
	require.Equal(t, 1, sessions.Len())
	require.ErrorIs(t, sessions.With(abandoned.ID, func(*Cart) error { return nil }), store.ErrNotFound)
	require.NoError(t, sessions.With(active.ID, func(*Cart) error { return nil }))

	require.Equal(t, 0, sessions.EvictIdle(2*time.Hour))
}
