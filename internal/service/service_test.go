package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"assistec/backend/internal/cart"
	"assistec/backend/internal/domain"
	"assistec/backend/internal/events"
	"assistec/backend/internal/store"
	"assistec/backend/internal/store/memory"
)

var (
	sellerCtx = WithActor(context.Background(), domain.Actor{Username: "seller", Role: domain.RoleSeller})
	adminCtx  = WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
)

func newTestService(t *testing.T) (*Service, *memory.Store, *events.Recorder) {
	t.Helper()
	repo := memory.New()
	repo.PutProduct(domain.Product{ID: "p-film", Name: "Película", RetailPriceCents: 100, WholesalePriceCents: 80, Stock: 10})
	repo.PutProduct(domain.Product{ID: "p-battery", Name: "Bateria", RetailPriceCents: 22000, Stock: 3})
	repo.PutServiceOrder(domain.ServiceOrder{ID: "os-1", Situation: domain.SituationDone, ValTotalCents: 25000, ClientRef: "cli-1"})
	recorder := events.NewRecorder(64)
	return New(repo, WithPublisher(recorder)), repo, recorder
}

func mustAddProduct(t *testing.T, c *cart.Cart, productID string, qty int) domain.CartLine {
	t.Helper()
	line, err := c.AddProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("add product %s: %v", productID, err)
	}
	if qty != 1 {
		if err := c.SetQuantity(context.Background(), line.ID, qty); err != nil {
			t.Fatalf("set quantity: %v", err)
		}
	}
	return line
}

func stockOf(t *testing.T, repo *memory.Store, productID string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}

func situationOf(t *testing.T, repo *memory.Store, orderID string) string {
	t.Helper()
	o, err := repo.GetServiceOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get service order: %v", err)
	}
	return o.Situation
}

func TestCheckoutAppliesDiscountAndDecrementsStock(t *testing.T) {
	svc, repo, recorder := newTestService(t)
	c := cart.New(repo)
	mustAddProduct(t, c, "p-film", 2)
	if err := c.SetDiscount(domain.DiscountPercent, 10); err != nil {
		t.Fatalf("set discount: %v", err)
	}

	sale, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{PaymentMethod: "pix"})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if sale.SubtotalCents != 200 || sale.DiscountCents != 20 || sale.TotalCents != 180 {
		t.Fatalf("unexpected totals: %d/%d/%d", sale.SubtotalCents, sale.DiscountCents, sale.TotalCents)
	}
	if sale.Status != domain.SaleStatusCompleted || !strings.HasPrefix(sale.ID, "sale-") {
		t.Fatalf("unexpected sale %s with status %s", sale.ID, sale.Status)
	}
	if sale.SellerRef != "seller" || sale.Installments != 1 {
		t.Fatalf("unexpected seller/installments: %s/%d", sale.SellerRef, sale.Installments)
	}
	if got := stockOf(t, repo, "p-film"); got != 8 {
		t.Fatalf("expected stock 8, got %d", got)
	}
	entry, ok := repo.LedgerEntry(sale.ID)
	if !ok || entry.AmountCents != 180 || !entry.Paid {
		t.Fatalf("expected paid ledger entry of 180, got %+v", entry)
	}
	if !c.IsEmpty() {
		t.Fatalf("expected cart to be cleared after checkout")
	}

	evts := recorder.Drain()
	if len(evts) != 1 || evts[0].Type != domain.SaleEventCompleted || evts[0].SaleID != sale.ID {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestCheckoutBillsServiceOrder(t *testing.T) {
	svc, repo, _ := newTestService(t)
	c := cart.New(repo)
	if _, err := svc.AddServiceOrderToCart(sellerCtx, c, "os-1"); err != nil {
		t.Fatalf("add service order: %v", err)
	}

	sale, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{PaymentMethod: "credit", Installments: 3})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if sale.ClientRef != "cli-1" {
		t.Fatalf("expected client from service order, got %q", sale.ClientRef)
	}
	if got := situationOf(t, repo, "os-1"); got != domain.SituationBilled {
		t.Fatalf("expected billed service order, got %s", got)
	}
}

func TestCheckoutRejectsStockChangedSinceCartBuilt(t *testing.T) {
	svc, repo, recorder := newTestService(t)
	c := cart.New(repo)
	mustAddProduct(t, c, "p-battery", 3)

	if err := repo.SetStock(context.Background(), "p-battery", 2); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{PaymentMethod: "cash"})
		var stockErr *domain.InsufficientStockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("expected insufficient stock error, got %v", err)
		}
		if stockErr.Name != "Bateria" || stockErr.Available != 2 {
			t.Fatalf("unexpected stock error: %+v", stockErr)
		}
		if got := stockOf(t, repo, "p-battery"); got != 2 {
			t.Fatalf("rejected checkout mutated stock: %d", got)
		}
	}

	sales, _ := repo.ListSales(context.Background())
	if len(sales) != 0 {
		t.Fatalf("expected no sales after rejection, got %d", len(sales))
	}
	if len(recorder.Drain()) != 0 {
		t.Fatalf("expected no events after rejection")
	}
}

func TestCheckoutRejectsServiceOrderNoLongerPayable(t *testing.T) {
	svc, repo, _ := newTestService(t)
	c := cart.New(repo)
	mustAddProduct(t, c, "p-film", 1)
	if _, err := svc.AddServiceOrderToCart(sellerCtx, c, "os-1"); err != nil {
		t.Fatalf("add service order: %v", err)
	}
	if err := repo.SetSituation(context.Background(), "os-1", "Orçamento"); err != nil {
		t.Fatalf("set situation: %v", err)
	}

	_, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{PaymentMethod: "cash"})
	if !errors.Is(err, domain.ErrNotPayable) {
		t.Fatalf("expected not payable, got %v", err)
	}
	if got := stockOf(t, repo, "p-film"); got != 10 {
		t.Fatalf("rejected checkout mutated stock: %d", got)
	}
}

func TestCheckoutValidatesRequest(t *testing.T) {
	svc, repo, _ := newTestService(t)

	if _, err := svc.Checkout(sellerCtx, cart.New(repo), domain.CheckoutRequest{}); !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}

	c := cart.New(repo)
	mustAddProduct(t, c, "p-film", 1)
	cases := []domain.CheckoutRequest{
		{PaymentMethod: "cheque"},
		{PaymentMethod: "debit", Installments: 2},
		{PaymentMethod: "credit", Installments: -1},
	}
	for _, req := range cases {
		if _, err := svc.Checkout(sellerCtx, c, req); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", req, err)
		}
	}
	if got := stockOf(t, repo, "p-film"); got != 10 {
		t.Fatalf("invalid checkout mutated stock: %d", got)
	}
}

func TestQuoteConversionUsesNewIDAndDeletesQuote(t *testing.T) {
	svc, repo, recorder := newTestService(t)
	c := cart.New(repo)
	mustAddProduct(t, c, "p-film", 2)

	quote, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{PaymentMethod: "cash", AsQuote: true})
	if err != nil {
		t.Fatalf("save quote: %v", err)
	}
	if quote.Status != domain.SaleStatusQuote || !strings.HasPrefix(quote.ID, "quote-") {
		t.Fatalf("unexpected quote %s/%s", quote.ID, quote.Status)
	}
	if got := stockOf(t, repo, "p-film"); got != 10 {
		t.Fatalf("quote must not touch stock, got %d", got)
	}
	if _, ok := repo.LedgerEntry(quote.ID); ok {
		t.Fatalf("quote must not record a ledger entry")
	}

	resumed, err := svc.ResumeQuote(sellerCtx, quote.ID)
	if err != nil {
		t.Fatalf("resume quote: %v", err)
	}
	sale, err := svc.Checkout(sellerCtx, resumed, domain.CheckoutRequest{PaymentMethod: "debit"})
	if err != nil {
		t.Fatalf("convert quote: %v", err)
	}
	if sale.ID == quote.ID || sale.OriginQuoteID != quote.ID {
		t.Fatalf("expected new sale id with origin %s, got %s origin %s", quote.ID, sale.ID, sale.OriginQuoteID)
	}
	if _, err := repo.GetSale(context.Background(), quote.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected converted quote to be deleted, got %v", err)
	}
	if got := stockOf(t, repo, "p-film"); got != 8 {
		t.Fatalf("expected stock 8 after conversion, got %d", got)
	}

	types := make([]domain.SaleEventType, 0, 4)
	for _, e := range recorder.Drain() {
		types = append(types, e.Type)
	}
	want := []domain.SaleEventType{domain.SaleEventQuoted, domain.SaleEventSuperseded, domain.SaleEventCompleted}
	if len(types) != len(want) {
		t.Fatalf("unexpected events %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected events %v", types)
		}
	}
}

func TestQuoteResaveAndReuseKeepID(t *testing.T) {
	svc, repo, _ := newTestService(t)
	c := cart.New(repo)
	mustAddProduct(t, c, "p-film", 1)

	quote, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{AsQuote: true})
	if err != nil {
		t.Fatalf("save quote: %v", err)
	}

	resumed, err := svc.ResumeQuote(sellerCtx, quote.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	mustAddProduct(t, resumed, "p-battery", 1)
	again, err := svc.Checkout(sellerCtx, resumed, domain.CheckoutRequest{AsQuote: true})
	if err != nil {
		t.Fatalf("re-save quote: %v", err)
	}
	if again.ID != quote.ID || len(again.Lines) != 2 {
		t.Fatalf("expected quote %s re-saved with 2 lines, got %s with %d", quote.ID, again.ID, len(again.Lines))
	}

	resumed, err = svc.ResumeQuote(sellerCtx, quote.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	sale, err := svc.Checkout(sellerCtx, resumed, domain.CheckoutRequest{PaymentMethod: "cash", ReuseQuoteID: true})
	if err != nil {
		t.Fatalf("convert reusing id: %v", err)
	}
	if sale.ID != quote.ID || sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected %s completed in place, got %s/%s", quote.ID, sale.ID, sale.Status)
	}
	if _, err := svc.ResumeQuote(sellerCtx, quote.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected completed sale to refuse resume, got %v", err)
	}
}

func TestRefundRestoresEverySideEffect(t *testing.T) {
	svc, repo, recorder := newTestService(t)
	c := cart.New(repo)
	mustAddProduct(t, c, "p-film", 1)
	mustAddProduct(t, c, "p-battery", 2)
	if _, err := svc.AddServiceOrderToCart(sellerCtx, c, "os-1"); err != nil {
		t.Fatalf("add service order: %v", err)
	}

	sale, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if stockOf(t, repo, "p-film") != 9 || stockOf(t, repo, "p-battery") != 1 {
		t.Fatalf("unexpected stock after sale")
	}

	if _, err := svc.Refund(sellerCtx, sale.ID, "cliente desistiu"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected seller refund to be unauthorized, got %v", err)
	}

	refunded, err := svc.Refund(adminCtx, sale.ID, "cliente desistiu")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != domain.SaleStatusRefunded || refunded.RefundedBy != "admin" || refunded.RefundedAt == nil {
		t.Fatalf("unexpected refunded sale: %+v", refunded)
	}
	if stockOf(t, repo, "p-film") != 10 || stockOf(t, repo, "p-battery") != 3 {
		t.Fatalf("expected stock restored to 10 and 3")
	}
	if got := situationOf(t, repo, "os-1"); got != domain.SituationDone {
		t.Fatalf("expected service order back to done, got %s", got)
	}
	entry, _ := repo.LedgerEntry(sale.ID)
	if !entry.Voided || entry.Paid {
		t.Fatalf("expected voided ledger entry, got %+v", entry)
	}

	if _, err := svc.Refund(adminCtx, sale.ID, "again"); !errors.Is(err, domain.ErrAlreadyRefunded) {
		t.Fatalf("expected already refunded, got %v", err)
	}
	if stockOf(t, repo, "p-film") != 10 || stockOf(t, repo, "p-battery") != 3 {
		t.Fatalf("second refund must not restore stock again")
	}

	last := recorder.Drain()
	if last[len(last)-1].Type != domain.SaleEventRefunded {
		t.Fatalf("expected refund event last, got %+v", last)
	}
}

func TestRefundPreconditions(t *testing.T) {
	svc, repo, _ := newTestService(t)
	if _, err := svc.Refund(adminCtx, "sale-missing", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	c := cart.New(repo)
	mustAddProduct(t, c, "p-film", 1)
	quote, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{AsQuote: true})
	if err != nil {
		t.Fatalf("save quote: %v", err)
	}
	if _, err := svc.Refund(adminCtx, quote.ID, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for quote refund, got %v", err)
	}
}

func TestChargeableServiceOrdersHealsStaleBilling(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.PutServiceOrder(domain.ServiceOrder{ID: "os-stale", Situation: domain.SituationBilled, ValTotalCents: 5000})
	repo.PutServiceOrder(domain.ServiceOrder{ID: "os-budget", Situation: "Orçamento", ValTotalCents: 5000})
	repo.PutServiceOrder(domain.ServiceOrder{ID: "os-free", Situation: domain.SituationDelivered})

	c := cart.New(repo)
	if _, err := svc.AddServiceOrderToCart(sellerCtx, c, "os-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	orders, err := svc.ChargeableServiceOrders(sellerCtx)
	if err != nil {
		t.Fatalf("chargeable: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "os-stale" || orders[0].Situation != domain.SituationDone {
		t.Fatalf("expected only healed os-stale, got %+v", orders)
	}
	if got := situationOf(t, repo, "os-1"); got != domain.SituationBilled {
		t.Fatalf("order with active sale must stay billed, got %s", got)
	}
}

type failingRepo struct {
	*memory.Store
	failAddSale     bool
	failAdjustStock bool
	failLedger      bool
}

var errDiskFull = errors.New("disk full")

func (f *failingRepo) AddSale(ctx context.Context, sale domain.Sale) error {
	if f.failAddSale {
		return errDiskFull
	}
	return f.Store.AddSale(ctx, sale)
}

func (f *failingRepo) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	if f.failAdjustStock {
		return 0, errDiskFull
	}
	return f.Store.AdjustStock(ctx, id, delta)
}

func (f *failingRepo) RecordSaleEntry(ctx context.Context, entry domain.LedgerEntry) error {
	if f.failLedger {
		return errDiskFull
	}
	return f.Store.RecordSaleEntry(ctx, entry)
}

func TestCheckoutPersistenceFailures(t *testing.T) {
	mem := memory.New()
	mem.PutProduct(domain.Product{ID: "p1", Name: "Cabo", RetailPriceCents: 2500, Stock: 5})
	repo := &failingRepo{Store: mem, failAddSale: true}
	svc := New(repo)

	c := cart.New(repo)
	mustAddProduct(t, c, "p1", 2)

	_, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{})
	var pe *domain.PersistenceError
	if !errors.As(err, &pe) || !errors.Is(err, errDiskFull) {
		t.Fatalf("expected persistence error wrapping cause, got %v", err)
	}
	if pe.Indeterminate() {
		t.Fatalf("failed sale write must not be indeterminate")
	}
	if got := stockOf(t, mem, "p1"); got != 5 {
		t.Fatalf("failed sale write must leave stock untouched, got %d", got)
	}

	repo.failAddSale = false
	repo.failAdjustStock = true
	_, err = svc.Checkout(sellerCtx, c, domain.CheckoutRequest{})
	if !errors.As(err, &pe) || pe.Indeterminate() {
		t.Fatalf("failed stock reservation must precede the sale write, got %v", err)
	}
	if sales, _ := mem.ListSales(context.Background()); len(sales) != 0 {
		t.Fatalf("no sale may be written when stock cannot be reserved, got %d", len(sales))
	}

	repo.failAdjustStock = false
	repo.failLedger = true
	sale, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{})
	if !errors.As(err, &pe) || !pe.Indeterminate() || pe.SaleID != sale.ID {
		t.Fatalf("expected indeterminate persistence error for %s, got %v", sale.ID, err)
	}
	if _, err := mem.GetSale(context.Background(), sale.ID); err != nil {
		t.Fatalf("sale should be persisted before the ledger failure: %v", err)
	}
	if got := stockOf(t, mem, "p1"); got != 3 {
		t.Fatalf("persisted sale must keep its stock, got %d", got)
	}
}

// interleavingRepo runs another terminal's work right before the first stock
// decrement, after this terminal has already validated its cart.
type interleavingRepo struct {
	*memory.Store
	once   sync.Once
	before func()
}

func (r *interleavingRepo) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	if delta < 0 {
		r.once.Do(r.before)
	}
	return r.Store.AdjustStock(ctx, id, delta)
}

func TestCheckoutAcrossTerminalsNeverOversells(t *testing.T) {
	mem := memory.New()
	mem.PutProduct(domain.Product{ID: "p-battery", Name: "Bateria", RetailPriceCents: 22000, Stock: 3})

	other := New(mem)
	otherCart := cart.New(mem)
	mustAddProduct(t, otherCart, "p-battery", 2)

	var otherSale domain.Sale
	var otherErr error
	repo := &interleavingRepo{Store: mem}
	repo.before = func() {
		otherSale, otherErr = other.Checkout(sellerCtx, otherCart, domain.CheckoutRequest{})
	}
	svc := New(repo)
	c := cart.New(repo)
	mustAddProduct(t, c, "p-battery", 2)

	_, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{})
	if otherErr != nil || otherSale.Status != domain.SaleStatusCompleted {
		t.Fatalf("first terminal should complete, got %+v %v", otherSale, otherErr)
	}
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 1 || stockErr.Requested != 2 {
		t.Fatalf("expected insufficient stock for the late terminal, got %v", err)
	}
	if got := stockOf(t, mem, "p-battery"); got != 1 {
		t.Fatalf("expected stock 1, got %d", got)
	}
	sales, _ := mem.ListSales(context.Background())
	if len(sales) != 1 || sales[0].ID != otherSale.ID {
		t.Fatalf("only the first terminal's sale may exist, got %+v", sales)
	}
	if c.IsEmpty() {
		t.Fatalf("rejected cart must be kept for correction")
	}
}

func TestRejectedCheckoutDoesNotHealBilledOrders(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	repo.PutServiceOrder(domain.ServiceOrder{ID: "os-stale", Situation: domain.SituationDone, ValTotalCents: 9000})

	c := cart.New(repo)
	if _, err := svc.AddServiceOrderToCart(sellerCtx, c, "os-stale"); err != nil {
		t.Fatalf("add service order: %v", err)
	}
	mustAddProduct(t, c, "p-battery", 3)

	if err := repo.SetSituation(ctx, "os-stale", domain.SituationBilled); err != nil {
		t.Fatalf("set situation: %v", err)
	}
	if err := repo.SetStock(ctx, "p-battery", 1); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	_, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := situationOf(t, repo, "os-stale"); got != domain.SituationBilled {
		t.Fatalf("rejected checkout must not rewrite service orders, got %s", got)
	}

	if err := repo.SetStock(ctx, "p-battery", 3); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if _, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{}); err != nil {
		t.Fatalf("checkout after restock: %v", err)
	}
	if got := situationOf(t, repo, "os-stale"); got != domain.SituationBilled {
		t.Fatalf("expected order billed by the new sale, got %s", got)
	}
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	svc, repo, _ := newTestService(t)

	carts := make([]*cart.Cart, 4)
	for i := range carts {
		carts[i] = cart.New(repo)
		mustAddProduct(t, carts[i], "p-battery", 2)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, c := range carts {
		wg.Add(1)
		go func(c *cart.Cart) {
			defer wg.Done()
			if _, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(c)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one checkout to succeed, got %d", succeeded)
	}
	if got := stockOf(t, repo, "p-battery"); got != 1 {
		t.Fatalf("expected stock 1, got %d", got)
	}
}

func TestListSalesFiltersByStatus(t *testing.T) {
	svc, repo, _ := newTestService(t)
	for _, asQuote := range []bool{true, false, false} {
		c := cart.New(repo)
		mustAddProduct(t, c, "p-film", 1)
		if _, err := svc.Checkout(sellerCtx, c, domain.CheckoutRequest{AsQuote: asQuote}); err != nil {
			t.Fatalf("checkout: %v", err)
		}
	}

	quotes, err := svc.ListSales(sellerCtx, domain.SaleStatusQuote)
	if err != nil || len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d (%v)", len(quotes), err)
	}
	all, err := svc.ListSales(sellerCtx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 sales, got %d (%v)", len(all), err)
	}
	if _, err := svc.ListSales(sellerCtx, "bogus"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
