package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"assistec/backend/internal/cart"
	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
	"assistec/backend/internal/xid"
)

// Checkout turns the cart into a persisted sale or quote.
//
// Nothing is written when validation fails. Product stock is taken with
// guarded decrements before the sale write, so a terminal sharing the catalog
// that sold the same units first turns this checkout into an
// InsufficientStockError. A failed sale write gives the stock back and
// returns a PersistenceError without a sale id. Any failure after the sale
// write returns a PersistenceError carrying the sale id; the stored state is
// then indeterminate and callers should re-read the sale before retrying.
func (s *Service) Checkout(ctx context.Context, c *cart.Cart, req domain.CheckoutRequest) (domain.Sale, error) {
	started := s.now()

	req, err := normalizeCheckout(req)
	if err != nil {
		s.recordRejection(err)
		return domain.Sale{}, err
	}
	if c == nil || c.IsEmpty() {
		s.recordRejection(domain.ErrEmptyCart)
		return domain.Sale{}, domain.ErrEmptyCart
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	lines := c.Lines()
	if !req.AsQuote {
		if err := s.verifyLines(ctx, lines); err != nil {
			s.recordRejection(err)
			return domain.Sale{}, err
		}
	}

	status := domain.SaleStatusCompleted
	if req.AsQuote {
		status = domain.SaleStatusQuote
	}

	origin, err := s.originQuote(ctx, c.OriginQuoteID())
	if err != nil {
		s.recordRejection(err)
		return domain.Sale{}, err
	}

	totals := c.Totals()
	now := s.now()
	sale := domain.Sale{
		ID:            newSaleID(status),
		CreatedAt:     now,
		UpdatedAt:     now,
		ClientRef:     firstNonEmpty(req.ClientRef, c.ClientRef()),
		PricingMode:   c.PricingMode(),
		Lines:         domain.SnapshotLines(lines),
		Discount:      c.Discount(),
		DiscountCents: totals.DiscountCents,
		SubtotalCents: totals.SubtotalCents,
		TotalCents:    totals.TotalCents,
		PaymentMethod: req.PaymentMethod,
		Installments:  req.Installments,
		Status:        status,
	}
	if actor, ok := ActorFromContext(ctx); ok {
		sale.SellerRef = actor.Username
	}

	reuse := false
	if origin != nil {
		reuse = req.AsQuote || req.ReuseQuoteID
		if reuse {
			sale.ID = origin.ID
			sale.CreatedAt = origin.CreatedAt
		}
		if !req.AsQuote {
			sale.OriginQuoteID = origin.ID
		}
	}

	var holds []stockHold
	if status == domain.SaleStatusCompleted {
		holds, err = s.reserveStock(ctx, sale.Lines)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				s.recordRejection(err)
				return domain.Sale{}, err
			}
			return domain.Sale{}, s.persistenceFailure("reserve stock", "", err)
		}
	}

	if reuse {
		err = s.repo.UpdateSale(ctx, sale)
	} else {
		err = s.repo.AddSale(ctx, sale)
	}
	if err != nil {
		s.releaseStock(ctx, holds)
		if isCallerError(err) {
			return domain.Sale{}, err
		}
		return domain.Sale{}, s.persistenceFailure("save sale", "", err)
	}

	if status == domain.SaleStatusCompleted {
		if err := s.applySale(ctx, sale); err != nil {
			return sale, err
		}
	}

	if origin != nil && origin.ID != sale.ID {
		s.dropConvertedQuote(ctx, *origin, sale.ID)
	}

	c.Clear()

	eventType := domain.SaleEventCompleted
	if status == domain.SaleStatusQuote {
		eventType = domain.SaleEventQuoted
	}
	s.publish(ctx, eventType, sale)
	if s.metrics != nil {
		s.metrics.RecordCheckout(string(status), sale.TotalCents, s.now().Sub(started))
	}
	s.logAudit(ctx, "checkout", "sale", sale.ID, fmt.Sprintf(
		"status=%s,total=%d,discount=%d,payment=%s,installments=%d,origin=%s",
		sale.Status, sale.TotalCents, sale.DiscountCents, sale.PaymentMethod, sale.Installments, sale.OriginQuoteID,
	))
	s.logger.WithFields(log.Fields{
		"sale_id": sale.ID,
		"status":  sale.Status,
		"total":   sale.TotalCents,
	}).Info("checkout persisted")

	return sale, nil
}

func normalizeCheckout(req domain.CheckoutRequest) (domain.CheckoutRequest, error) {
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return req, fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidRequest, req.PaymentMethod)
	}
	if req.Installments == 0 {
		req.Installments = 1
	}
	if req.Installments < 1 {
		return req, fmt.Errorf("%w: installments must be at least 1", domain.ErrInvalidRequest)
	}
	if req.Installments > 1 && req.PaymentMethod != domain.PaymentCredit {
		return req, fmt.Errorf("%w: installments are only allowed for credit", domain.ErrInvalidRequest)
	}
	req.ClientRef = strings.TrimSpace(req.ClientRef)
	return req, nil
}

// verifyLines re-reads current stock and service-order state. The first
// offending line decides the error. Billed orders with no active sale count
// as payable and are only healed once every line has passed.
func (s *Service) verifyLines(ctx context.Context, lines []domain.CartLine) error {
	wanted := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Kind == domain.LineKindProduct {
			wanted[line.ProductID] += line.Qty
		}
	}

	var (
		sales []domain.Sale
		stale []domain.ServiceOrder
	)
	for _, line := range lines {
		switch line.Kind {
		case domain.LineKindProduct:
			p, err := s.repo.GetProduct(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &domain.InsufficientStockError{ProductID: line.ProductID, Name: line.Name, Available: 0, Requested: wanted[line.ProductID]}
				}
				return err
			}
			if wanted[p.ID] > p.Stock {
				return &domain.InsufficientStockError{ProductID: p.ID, Name: p.Name, Available: p.Stock, Requested: wanted[p.ID]}
			}
		case domain.LineKindServiceOrder:
			order, err := s.repo.GetServiceOrder(ctx, line.ServiceOrderID)
			if err != nil {
				return err
			}
			if order.Situation == domain.SituationBilled {
				if sales == nil {
					if sales, err = s.repo.ListSales(ctx); err != nil {
						return err
					}
				}
				if !hasActiveSale(sales, order.ID) {
					stale = append(stale, *order)
					continue
				}
			}
			if !domain.IsPayable(order.Situation) {
				return &domain.NotPayableError{ServiceOrderID: order.ID, Situation: order.Situation}
			}
		default:
			return fmt.Errorf("%w: unknown line kind %q", domain.ErrInvalidRequest, line.Kind)
		}
	}

	for _, order := range stale {
		if _, err := s.healWith(ctx, order, sales); err != nil {
			return err
		}
	}
	return nil
}

// originQuote loads the quote a cart was resumed from. A quote that has since
// been purged is treated as absent.
func (s *Service) originQuote(ctx context.Context, quoteID string) (*domain.Sale, error) {
	if quoteID == "" {
		return nil, nil
	}
	quote, err := s.repo.GetSale(ctx, quoteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.WithField("quote_id", quoteID).Warn("origin quote no longer exists, checking out as a new sale")
			return nil, nil
		}
		return nil, err
	}
	if quote.Status != domain.SaleStatusQuote {
		return nil, fmt.Errorf("%w: sale %s is already %s", domain.ErrInvalidTransition, quote.ID, quote.Status)
	}
	return quote, nil
}

type stockHold struct {
	productID string
	name      string
	qty       int
}

// reserveStock takes the quantity of every product line out of the catalog.
// Repeated products are taken in one step. On any failure the holds taken so
// far are given back.
func (s *Service) reserveStock(ctx context.Context, lines []domain.SaleLine) ([]stockHold, error) {
	holds := make([]stockHold, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Kind != domain.LineKindProduct {
			continue
		}
		if i, ok := index[line.ProductID]; ok {
			holds[i].qty += line.Qty
			continue
		}
		index[line.ProductID] = len(holds)
		holds = append(holds, stockHold{productID: line.ProductID, name: line.Name, qty: line.Qty})
	}

	for i, hold := range holds {
		if _, err := s.repo.AdjustStock(ctx, hold.productID, -hold.qty); err != nil {
			s.releaseStock(ctx, holds[:i])
			if errors.Is(err, store.ErrNotFound) {
				return nil, &domain.InsufficientStockError{ProductID: hold.productID, Name: hold.name, Requested: hold.qty}
			}
			return nil, err
		}
	}
	return holds, nil
}

// releaseStock gives reserved quantities back. A failed release leaves the
// catalog short, never oversold, so it is logged rather than returned.
func (s *Service) releaseStock(ctx context.Context, holds []stockHold) {
	for _, hold := range holds {
		if _, err := s.repo.AdjustStock(ctx, hold.productID, hold.qty); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"product_id": hold.productID,
				"qty":        hold.qty,
			}).Error("failed to release reserved stock")
		}
	}
}

// applySale performs the side effects of a completed sale that follow the
// sale write: service-order billing and the ledger entry.
func (s *Service) applySale(ctx context.Context, sale domain.Sale) error {
	for _, line := range sale.Lines {
		if line.Kind != domain.LineKindServiceOrder {
			continue
		}
		if err := s.repo.SetSituation(ctx, line.ServiceOrderID, domain.SituationBilled); err != nil {
			return s.persistenceFailure("bill service order", sale.ID, err)
		}
	}

	err := s.repo.RecordSaleEntry(ctx, domain.LedgerEntry{
		ID:            xid.New("ledger"),
		SaleID:        sale.ID,
		Description:   "Venda " + sale.ID,
		AmountCents:   sale.TotalCents,
		PaymentMethod: sale.PaymentMethod,
		Installments:  sale.Installments,
		Paid:          true,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return s.persistenceFailure("record ledger entry", sale.ID, err)
	}
	return nil
}

// dropConvertedQuote removes a quote that now lives on as another sale. A
// failure leaves the quote for the retention sweep.
func (s *Service) dropConvertedQuote(ctx context.Context, quote domain.Sale, saleID string) {
	if err := s.repo.DeleteQuote(ctx, quote.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WithError(err).WithFields(log.Fields{
			"quote_id": quote.ID,
			"sale_id":  saleID,
		}).Warn("failed to delete converted quote")
		return
	}
	s.publish(ctx, domain.SaleEventSuperseded, quote)
	s.logAudit(ctx, "quote_superseded", "sale", quote.ID, "converted_to="+saleID)
}

func (s *Service) recordRejection(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCheckoutRejected(rejectionReason(err))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrNotPayable):
		return "not_payable"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	default:
		return "other"
	}
}

func newSaleID(status domain.SaleStatus) string {
	if status == domain.SaleStatusQuote {
		return xid.New("quote")
	}
	return xid.New("sale")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
