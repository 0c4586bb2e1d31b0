package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
)

func sampleSale(id string, status domain.SaleStatus) domain.Sale {
	lines := domain.SnapshotLines([]domain.CartLine{
		{ID: "l1", Kind: domain.LineKindProduct, ProductID: "p1", Name: "Película", UnitPriceCents: 3000, Qty: 2},
	})
	return domain.Sale{
		ID:            id,
		CreatedAt:     time.Now().UTC(),
		Status:        status,
		PricingMode:   domain.PricingRetail,
		Lines:         lines,
		SubtotalCents: 6000,
		TotalCents:    6000,
		PaymentMethod: domain.PaymentCash,
		Installments:  1,
	}
}

func TestSaleStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	sale := sampleSale("sale-1", domain.SaleStatusCompleted)
	require.NoError(t, s.AddSale(ctx, sale))
	require.ErrorIs(t, s.AddSale(ctx, sale), store.ErrConflict)

	got, err := s.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, int64(6000), got.TotalCents)

	got.Lines[0].Name = "mutated"
	again, err := s.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, "Película", again.Lines[0].Name)

	sale.Status = domain.SaleStatusRefunded
	require.NoError(t, s.UpdateSale(ctx, sale))

	require.ErrorIs(t, s.DeleteQuote(ctx, "sale-1"), store.ErrConflict)
	_, err = s.GetSale(ctx, "sale-1")
	require.NoError(t, err)
}

func TestDeleteQuoteOnlyRemovesQuotes(t *testing.T) {
	ctx := context.Background()
	s := New()

	quote := sampleSale("quote-1", domain.SaleStatusQuote)
	require.NoError(t, s.AddSale(ctx, quote))

	converted := quote
	converted.Status = domain.SaleStatusCompleted
	require.NoError(t, s.UpdateSale(ctx, converted))
	require.ErrorIs(t, s.DeleteQuote(ctx, "quote-1"), store.ErrConflict)

	other := sampleSale("quote-2", domain.SaleStatusQuote)
	require.NoError(t, s.AddSale(ctx, other))
	require.NoError(t, s.DeleteQuote(ctx, "quote-2"))
	require.ErrorIs(t, s.DeleteQuote(ctx, "quote-2"), store.ErrNotFound)
	require.ErrorIs(t, s.UpdateSale(ctx, other), store.ErrNotFound)

	_, err := s.GetSale(ctx, "quote-1")
	require.NoError(t, err)
}

func TestAdjustStockRefusesNegativeLevels(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProduct(domain.Product{ID: "p1", Name: "Cabo", RetailPriceCents: 100, Stock: 3})

	left, err := s.AdjustStock(ctx, "p1", -2)
	require.NoError(t, err)
	require.Equal(t, 1, left)

	_, err = s.AdjustStock(ctx, "p1", -2)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var shortfall *domain.InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	require.Equal(t, 1, shortfall.Available)
	require.Equal(t, 2, shortfall.Requested)

	left, err = s.AdjustStock(ctx, "p1", 4)
	require.NoError(t, err)
	require.Equal(t, 5, left)

	_, err = s.AdjustStock(ctx, "missing", 1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddSaleRejectsInvalidTotals(t *testing.T) {
	sale := sampleSale("sale-2", domain.SaleStatusCompleted)
	sale.TotalCents = 1

	err := New().AddSale(context.Background(), sale)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSetStockAndSituation(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProduct(domain.Product{ID: "p1", Name: "Cabo", RetailPriceCents: 100, Stock: 5})
	s.PutServiceOrder(domain.ServiceOrder{ID: "os-1", Situation: domain.SituationDone, ValTotalCents: 1000})

	require.NoError(t, s.SetStock(ctx, "p1", 2))
	require.ErrorIs(t, s.SetStock(ctx, "p1", -1), store.ErrInvalidTransaction)
	require.ErrorIs(t, s.SetStock(ctx, "missing", 1), store.ErrNotFound)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, p.Stock)

	require.NoError(t, s.SetSituation(ctx, "os-1", domain.SituationBilled))
	o, err := s.GetServiceOrder(ctx, "os-1")
	require.NoError(t, err)
	require.Equal(t, domain.SituationBilled, o.Situation)
}

func TestLedgerVoid(t *testing.T) {
	ctx := context.Background()
	s := New()

	voided, err := s.VoidSaleEntry(ctx, "sale-x")
	require.NoError(t, err)
	require.False(t, voided)

	require.NoError(t, s.RecordSaleEntry(ctx, domain.LedgerEntry{SaleID: "sale-x", AmountCents: 500, Paid: true}))
	require.ErrorIs(t, s.RecordSaleEntry(ctx, domain.LedgerEntry{SaleID: "sale-x"}), store.ErrConflict)

	voided, err = s.VoidSaleEntry(ctx, "sale-x")
	require.NoError(t, err)
	require.True(t, voided)

	entry, ok := s.LedgerEntry("sale-x")
	require.True(t, ok)
	require.True(t, entry.Voided)
	require.False(t, entry.Paid)
	require.NotNil(t, entry.VoidedAt)
}

func TestSeededUsersAreHashed(t *testing.T) {
	users, err := NewSeeded().ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		require.NotEqual(t, "admin123", u.Password)
		require.Contains(t, []string{domain.RoleAdmin, domain.RoleSeller}, u.Role)
	}
}
